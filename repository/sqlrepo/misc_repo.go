package sqlrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/gorm"

	"github.com/klaytn-labs/otc-broker-engine/decimal"
	"github.com/klaytn-labs/otc-broker-engine/queueitem"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

// payoutRow indexes DealID (the only column PayoutRepo's callers scan
// by); the rest of queueitem.Payout, including its QueueItemIDs slice,
// rides in Data.
type payoutRow struct {
	PayoutID string `gorm:"column:payout_id;primary_key;size:64"`
	DealID   string `gorm:"column:deal_id;index;size:64"`
	Data     []byte `gorm:"column:data;type:mediumtext"`
}

func (payoutRow) TableName() string { return "payouts" }

func encodePayout(p *queueitem.Payout) (*payoutRow, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("sqlrepo: failed to encode payout %s: %w", p.PayoutID, err)
	}
	return &payoutRow{PayoutID: p.PayoutID, DealID: p.DealID, Data: data}, nil
}

func decodePayout(row *payoutRow) (*queueitem.Payout, error) {
	var p queueitem.Payout
	if err := json.Unmarshal(row.Data, &p); err != nil {
		return nil, fmt.Errorf("sqlrepo: failed to decode payout %s: %w", row.PayoutID, err)
	}
	return &p, nil
}

type payoutRepo struct {
	store *Store
}

func (r *payoutRepo) Create(ctx context.Context, tx repository.Tx, p *queueitem.Payout) error {
	if p.PayoutID == "" {
		p.PayoutID = uuid.NewString()
	}
	row, err := encodePayout(p)
	if err != nil {
		return err
	}
	return r.store.conn(tx).Create(row).Error
}

func (r *payoutRepo) Get(ctx context.Context, tx repository.Tx, payoutID string) (*queueitem.Payout, error) {
	var row payoutRow
	err := r.store.conn(tx).Where("payout_id = ?", payoutID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("sqlrepo: payout %s not found", payoutID)
	}
	if err != nil {
		return nil, err
	}
	return decodePayout(&row)
}

func (r *payoutRepo) UpdateStatus(ctx context.Context, tx repository.Tx, payoutID string, status queueitem.TxRefStatus, minConfirms int) error {
	conn := r.store.conn(tx)
	var row payoutRow
	err := conn.Where("payout_id = ?", payoutID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return fmt.Errorf("sqlrepo: payout %s not found", payoutID)
	}
	if err != nil {
		return err
	}
	p, err := decodePayout(&row)
	if err != nil {
		return err
	}
	p.Status = status
	p.MinConfirms = minConfirms
	encoded, err := encodePayout(p)
	if err != nil {
		return err
	}
	return conn.Save(encoded).Error
}

var _ repository.PayoutRepo = (*payoutRepo)(nil)

// gasFundingRow is keyed by the same (deal, chain, escrow) triple
// memrepo composes into a map key, as a unique composite index so
// Record behaves as an upsert.
type gasFundingRow struct {
	ID            uint64    `gorm:"column:id;primary_key;AUTO_INCREMENT"`
	DealID        string    `gorm:"column:deal_id;size:64;unique_index:idx_gas_funding_key"`
	ChainID       string    `gorm:"column:chain_id;size:32;unique_index:idx_gas_funding_key"`
	EscrowAddress string    `gorm:"column:escrow_address;size:128;unique_index:idx_gas_funding_key"`
	Amount        string    `gorm:"column:amount;size:64"`
	Txid          string    `gorm:"column:txid;size:128"`
	FundedAt      time.Time `gorm:"column:funded_at"`
}

func (gasFundingRow) TableName() string { return "gas_fundings" }

type gasFundingRepo struct {
	store *Store
}

func (r *gasFundingRepo) Record(ctx context.Context, tx repository.Tx, g *queueitem.GasFunding) error {
	conn := r.store.conn(tx)
	row := gasFundingRow{
		DealID:        g.DealID,
		ChainID:       g.ChainID,
		EscrowAddress: g.EscrowAddress,
		Amount:        g.Amount.String(),
		Txid:          g.Txid,
		FundedAt:      g.FundedAt,
	}

	var existing gasFundingRow
	err := conn.Where("deal_id = ? AND chain_id = ? AND escrow_address = ?", g.DealID, g.ChainID, g.EscrowAddress).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return conn.Create(&row).Error
	}
	if err != nil {
		return err
	}
	row.ID = existing.ID
	return conn.Save(&row).Error
}

func (r *gasFundingRepo) Get(ctx context.Context, tx repository.Tx, dealID, chainID, escrowAddress string) (*queueitem.GasFunding, error) {
	var row gasFundingRow
	err := r.store.conn(tx).Where("deal_id = ? AND chain_id = ? AND escrow_address = ?", dealID, chainID, escrowAddress).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	amount, err := decimal.Parse(row.Amount)
	if err != nil {
		return nil, fmt.Errorf("sqlrepo: failed to parse gas funding amount for %s: %w", dealID, err)
	}
	return &queueitem.GasFunding{
		DealID:        row.DealID,
		ChainID:       row.ChainID,
		EscrowAddress: row.EscrowAddress,
		Amount:        amount,
		Txid:          row.Txid,
		FundedAt:      row.FundedAt,
	}, nil
}

var _ repository.GasFundingRepo = (*gasFundingRepo)(nil)

// alertRow is an append-only log; nothing ever reads it back through
// AlertRepo, so it carries no query methods beyond Record.
type alertRow struct {
	ID        uint64    `gorm:"column:id;primary_key;AUTO_INCREMENT"`
	DealID    string    `gorm:"column:deal_id;index;size:64"`
	Kind      string    `gorm:"column:kind;size:64"`
	Message   string    `gorm:"column:message;type:text"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (alertRow) TableName() string { return "alerts" }

type alertRepo struct {
	store *Store
}

func (r *alertRepo) Record(ctx context.Context, tx repository.Tx, dealID, kind, message string) error {
	row := alertRow{DealID: dealID, Kind: kind, Message: message, CreatedAt: time.Now()}
	return r.store.conn(tx).Create(&row).Error
}

var _ repository.AlertRepo = (*alertRepo)(nil)
