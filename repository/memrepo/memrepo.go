// Package memrepo is an in-memory repository.Store used by the
// engine, queueproc and confirmmonitor test suites. Each call is atomic
// under a single mutex, but transactions are not: Begin returns a tx
// whose Commit and Rollback do nothing, so a rollback does not undo
// writes already made. Adequate for single-process tests, not for
// production (sqlrepo is the production implementation, see
// SPEC_FULL.md's DOMAIN STACK).
package memrepo

import (
	"context"
	"sync"

	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/queueitem"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

type tx struct{}

func (tx) Commit() error   { return nil }
func (tx) Rollback() error { return nil }

// Store is the in-memory repository.Store. The whole store shares one
// RWMutex: every method takes it for the duration of the call, so each
// call sees a consistent view; nothing holds it across the calls of one
// transaction.
type Store struct {
	mu sync.RWMutex

	deals       map[string]*deal.Deal
	queue       map[string]*queueitem.QueueItem
	nonces      map[string]*queueitem.AccountNonceState
	payouts     map[string]*queueitem.Payout
	gasFundings map[string]*queueitem.GasFunding
	alerts      []alertRecord

	seqCounter map[string]int64 // per (dealID, fromAddress)
}

type alertRecord struct {
	DealID, Kind, Message string
}

func New() *Store {
	return &Store{
		deals:       make(map[string]*deal.Deal),
		queue:       make(map[string]*queueitem.QueueItem),
		nonces:      make(map[string]*queueitem.AccountNonceState),
		payouts:     make(map[string]*queueitem.Payout),
		gasFundings: make(map[string]*queueitem.GasFunding),
		seqCounter:  make(map[string]int64),
	}
}

func (s *Store) Begin(ctx context.Context) (repository.Tx, error) { return tx{}, nil }

func (s *Store) Deals() repository.DealRepo             { return (*dealRepo)(s) }
func (s *Store) Deposits() repository.DepositRepo        { return (*depositRepo)(s) }
func (s *Store) Queue() repository.QueueRepo             { return (*queueRepo)(s) }
func (s *Store) Accounts() repository.AccountRepo        { return (*accountRepo)(s) }
func (s *Store) Payouts() repository.PayoutRepo          { return (*payoutRepo)(s) }
func (s *Store) GasFundings() repository.GasFundingRepo  { return (*gasFundingRepo)(s) }
func (s *Store) Alerts() repository.AlertRepo            { return (*alertRepo)(s) }

// PutDeal seeds or overwrites a deal directly — a test convenience,
// not part of repository.Store.
func (s *Store) PutDeal(d *deal.Deal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deals[d.DealID] = d
}

var _ repository.Store = (*Store)(nil)
