package sqlrepo

import (
	"context"

	"github.com/jinzhu/gorm"

	"github.com/klaytn-labs/otc-broker-engine/queueitem"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

// accountNonceRow is keyed by (chain_id, address); ReserveNextNonce's
// atomicity rests entirely on the row lock this primary key lets
// MySQL take with FOR UPDATE inside the caller's transaction.
type accountNonceRow struct {
	ChainID            string `gorm:"column:chain_id;primary_key;size:32"`
	Address            string `gorm:"column:address;primary_key;size:128"`
	NextNonce          uint64 `gorm:"column:next_nonce"`
	LastConfirmedNonce uint64 `gorm:"column:last_confirmed_nonce"`
}

func (accountNonceRow) TableName() string { return "account_nonces" }

type accountRepo struct {
	store *Store
}

// ReserveNextNonce locks the (chainID, address) row FOR UPDATE so two
// concurrent reservations inside two transactions serialize on it
// rather than racing a read-then-write. Callers outside a transaction
// (tx == nil) get no such guarantee; §4.6 requires a real Tx here.
func (r *accountRepo) ReserveNextNonce(ctx context.Context, tx repository.Tx, chainID, address string, initialNonce *uint64) (uint64, error) {
	conn := r.store.conn(tx)

	var row accountNonceRow
	err := conn.Set("gorm:query_option", "FOR UPDATE").
		Where("chain_id = ? AND address = ?", chainID, address).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		seed := uint64(0)
		if initialNonce != nil {
			seed = *initialNonce
		}
		row = accountNonceRow{ChainID: chainID, Address: address, NextNonce: seed}
		if err := conn.Create(&row).Error; err != nil {
			return 0, err
		}
	} else if err != nil {
		return 0, err
	}

	reserved := row.NextNonce
	row.NextNonce++
	if err := conn.Save(&row).Error; err != nil {
		return 0, err
	}
	return reserved, nil
}

func (r *accountRepo) GetNextNonce(ctx context.Context, tx repository.Tx, chainID, address string) (*queueitem.AccountNonceState, error) {
	var row accountNonceRow
	err := r.store.conn(tx).Where("chain_id = ? AND address = ?", chainID, address).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &queueitem.AccountNonceState{
		ChainID:            row.ChainID,
		Address:            row.Address,
		NextNonce:          row.NextNonce,
		LastConfirmedNonce: row.LastConfirmedNonce,
	}, nil
}

func (r *accountRepo) ResetNonce(ctx context.Context, tx repository.Tx, chainID, address string) error {
	return r.store.conn(tx).Where("chain_id = ? AND address = ?", chainID, address).Delete(&accountNonceRow{}).Error
}

func (r *accountRepo) UpdateLastConfirmedNonce(ctx context.Context, tx repository.Tx, chainID, address string, nonce uint64) error {
	conn := r.store.conn(tx)
	var row accountNonceRow
	err := conn.Where("chain_id = ? AND address = ?", chainID, address).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		row = accountNonceRow{ChainID: chainID, Address: address, LastConfirmedNonce: nonce}
		return conn.Create(&row).Error
	}
	if err != nil {
		return err
	}
	row.LastConfirmedNonce = nonce
	return conn.Save(&row).Error
}

var _ repository.AccountRepo = (*accountRepo)(nil)
