package sqlrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jinzhu/gorm"

	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/invariants"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

// dealRow is the indexed envelope around a JSON-encoded deal.Deal.
// Stage/CreatedAt/LastTransitionAt are duplicated out of Data; Stage is
// what the stage-scan queries (GetActiveDeals, GetDealsInStages) filter
// on as ordinary indexed SQL rather than a full-table JSON scan. The
// late-deposit window is checked in Go on the decoded deals, not in SQL.
type dealRow struct {
	DealID           string    `gorm:"column:deal_id;primary_key;size:64"`
	Stage            string    `gorm:"column:stage;index;size:16"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	LastTransitionAt time.Time `gorm:"column:last_transition_at;index"`
	Data             []byte    `gorm:"column:data;type:mediumtext"`
}

func (dealRow) TableName() string { return "deals" }

func encodeDeal(d *deal.Deal) (*dealRow, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("sqlrepo: failed to encode deal %s: %w", d.DealID, err)
	}
	return &dealRow{
		DealID:           d.DealID,
		Stage:            string(d.Stage),
		CreatedAt:        d.CreatedAt,
		LastTransitionAt: d.LastTransitionAt,
		Data:             data,
	}, nil
}

func decodeDeal(row *dealRow) (*deal.Deal, error) {
	var d deal.Deal
	if err := json.Unmarshal(row.Data, &d); err != nil {
		return nil, fmt.Errorf("sqlrepo: failed to decode deal %s: %w", row.DealID, err)
	}
	return &d, nil
}

type dealRepo struct {
	store *Store
}

func (r *dealRepo) GetActiveDeals(ctx context.Context, tx repository.Tx) ([]*deal.Deal, error) {
	var rows []dealRow
	if err := r.store.conn(tx).Where("stage != ?", string(deal.StageClosed)).Find(&rows).Error; err != nil {
		return nil, err
	}
	return decodeDealRows(rows)
}

func (r *dealRepo) GetDealsInStages(ctx context.Context, tx repository.Tx, stages ...deal.Stage) ([]*deal.Deal, error) {
	if len(stages) == 0 {
		return nil, nil
	}
	names := make([]string, len(stages))
	for i, st := range stages {
		names[i] = string(st)
	}
	var rows []dealRow
	if err := r.store.conn(tx).Where("stage in (?)", names).Find(&rows).Error; err != nil {
		return nil, err
	}
	return decodeDealRows(rows)
}

func decodeDealRows(rows []dealRow) ([]*deal.Deal, error) {
	out := make([]*deal.Deal, 0, len(rows))
	for i := range rows {
		d, err := decodeDeal(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *dealRepo) getRow(conn *gorm.DB, dealID string) (*dealRow, error) {
	var row dealRow
	err := conn.Where("deal_id = ?", dealID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("sqlrepo: deal %s not found", dealID)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *dealRepo) Get(ctx context.Context, tx repository.Tx, dealID string) (*deal.Deal, error) {
	row, err := r.getRow(r.store.conn(tx), dealID)
	if err != nil {
		return nil, err
	}
	return decodeDeal(row)
}

func (r *dealRepo) Update(ctx context.Context, tx repository.Tx, d *deal.Deal) error {
	row, err := encodeDeal(d)
	if err != nil {
		return err
	}
	return r.store.conn(tx).Save(row).Error
}

func (r *dealRepo) UpdateStage(ctx context.Context, tx repository.Tx, dealID string, newStage deal.Stage) error {
	conn := r.store.conn(tx)
	row, err := r.getRow(conn, dealID)
	if err != nil {
		return err
	}
	d, err := decodeDeal(row)
	if err != nil {
		return err
	}
	if !invariants.ValidTransition(d.Stage, newStage) {
		return fmt.Errorf("sqlrepo: illegal transition %s -> %s for deal %s", d.Stage, newStage, dealID)
	}
	d.Stage = newStage
	encoded, err := encodeDeal(d)
	if err != nil {
		return err
	}
	return conn.Save(encoded).Error
}

func (r *dealRepo) AddEvent(ctx context.Context, tx repository.Tx, dealID string, e deal.Event) error {
	conn := r.store.conn(tx)
	row, err := r.getRow(conn, dealID)
	if err != nil {
		return err
	}
	d, err := decodeDeal(row)
	if err != nil {
		return err
	}
	d.Events = append(d.Events, e)
	encoded, err := encodeDeal(d)
	if err != nil {
		return err
	}
	return conn.Save(encoded).Error
}

var _ repository.DealRepo = (*dealRepo)(nil)
