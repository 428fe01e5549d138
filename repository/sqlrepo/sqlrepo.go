// Package sqlrepo is the production repository.Store implementation:
// MySQL via github.com/jinzhu/gorm and github.com/go-sql-driver/mysql,
// exactly as pinned in go.mod. Every row is a thin indexed envelope
// (the columns the repository interface's query methods actually
// filter or sort on) around a JSON-encoded snapshot of the domain
// aggregate — the Deal/QueueItem/Payout types carry enough nested
// structure (maps, pointers, slices of sub-records) that hand-mapping
// every field to its own column would duplicate the domain model in
// SQL without buying anything the repository interface needs; the
// teacher's own storage/database package makes the same trade for its
// KV backends (badger_database.go, leveldb_database.go), storing
// opaque encoded values behind a narrow key schema rather than
// columnar layouts.
package sqlrepo

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jinzhu/gorm"

	"github.com/klaytn-labs/otc-broker-engine/repository"
)

// Tx wraps a gorm transaction so it satisfies repository.Tx.
type Tx struct {
	db *gorm.DB
}

func (t *Tx) Commit() error   { return t.db.Commit().Error }
func (t *Tx) Rollback() error { return t.db.Rollback().Error }

// Store is the gorm-backed repository.Store.
type Store struct {
	db *gorm.DB
}

// Open dials dsn (a standard go-sql-driver/mysql DSN) and migrates
// every table this package owns.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlrepo: failed to open database: %w", err)
	}
	if err := db.AutoMigrate(
		&dealRow{},
		&queueItemRow{},
		&accountNonceRow{},
		&payoutRow{},
		&gasFundingRow{},
		&alertRow{},
	).Error; err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlrepo: failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Begin(ctx context.Context) (repository.Tx, error) {
	tx := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &Tx{db: tx}, nil
}

// Close releases the underlying *sql.DB connection pool.
func (s *Store) Close() error { return s.db.Close() }

// conn resolves tx to its underlying *gorm.DB, falling back to the
// store's own connection for read-only calls made outside a
// transaction.
func (s *Store) conn(tx repository.Tx) *gorm.DB {
	if t, ok := tx.(*Tx); ok && t != nil {
		return t.db
	}
	return s.db
}

func (s *Store) Deals() repository.DealRepo             { return &dealRepo{store: s} }
func (s *Store) Deposits() repository.DepositRepo       { return &depositRepo{store: s} }
func (s *Store) Queue() repository.QueueRepo            { return &queueRepo{store: s} }
func (s *Store) Accounts() repository.AccountRepo       { return &accountRepo{store: s} }
func (s *Store) Payouts() repository.PayoutRepo         { return &payoutRepo{store: s} }
func (s *Store) GasFundings() repository.GasFundingRepo { return &gasFundingRepo{store: s} }
func (s *Store) Alerts() repository.AlertRepo           { return &alertRepo{store: s} }

var _ repository.Store = (*Store)(nil)
