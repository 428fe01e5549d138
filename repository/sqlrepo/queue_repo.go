package sqlrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jinzhu/gorm"

	"github.com/klaytn-labs/otc-broker-engine/queueitem"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

// queueItemRow indexes the columns the repository interface actually
// filters or sorts on (deal, chain, sender address, status, phase,
// sequence); everything else rides in Data.
type queueItemRow struct {
	QueueID string `gorm:"column:queue_id;primary_key;size:64"`
	DealID  string `gorm:"column:deal_id;index;size:64"`
	ChainID string `gorm:"column:chain_id;index;size:32"`
	Address string `gorm:"column:address;index;size:128"`
	Status  string `gorm:"column:status;index;size:16"`
	Phase   string `gorm:"column:phase;size:24"`
	Seq     int64  `gorm:"column:seq"`
	Data    []byte `gorm:"column:data;type:mediumtext"`
}

func (queueItemRow) TableName() string { return "queue_items" }

func encodeQueueItem(it *queueitem.QueueItem) (*queueItemRow, error) {
	data, err := json.Marshal(it)
	if err != nil {
		return nil, fmt.Errorf("sqlrepo: failed to encode queue item %s: %w", it.QueueID, err)
	}
	return &queueItemRow{
		QueueID: it.QueueID,
		DealID:  it.DealID,
		ChainID: it.ChainID,
		Address: it.From.Address,
		Status:  string(it.Status),
		Phase:   string(it.Phase),
		Seq:     it.Seq,
		Data:    data,
	}, nil
}

func decodeQueueItem(row *queueItemRow) (*queueitem.QueueItem, error) {
	var it queueitem.QueueItem
	if err := json.Unmarshal(row.Data, &it); err != nil {
		return nil, fmt.Errorf("sqlrepo: failed to decode queue item %s: %w", row.QueueID, err)
	}
	return &it, nil
}

func decodeQueueItemRows(rows []queueItemRow) ([]*queueitem.QueueItem, error) {
	out := make([]*queueitem.QueueItem, 0, len(rows))
	for i := range rows {
		it, err := decodeQueueItem(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

type queueRepo struct {
	store *Store
}

func (r *queueRepo) Enqueue(ctx context.Context, tx repository.Tx, item *queueitem.QueueItem) error {
	conn := r.store.conn(tx)
	if item.QueueID == "" {
		item.QueueID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = queueitem.StatusPending
	}

	var maxSeq int64
	row := conn.Table("queue_items").
		Where("deal_id = ? AND address = ?", item.DealID, item.From.Address).
		Select("IFNULL(MAX(seq), 0)").Row()
	if err := row.Scan(&maxSeq); err != nil {
		return fmt.Errorf("sqlrepo: failed to compute next seq: %w", err)
	}
	item.Seq = maxSeq + 1

	encoded, err := encodeQueueItem(item)
	if err != nil {
		return err
	}
	return conn.Create(encoded).Error
}

func (r *queueRepo) GetByDeal(ctx context.Context, tx repository.Tx, dealID string) ([]*queueitem.QueueItem, error) {
	var rows []queueItemRow
	if err := r.store.conn(tx).Where("deal_id = ?", dealID).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return decodeQueueItemRows(rows)
}

func (r *queueRepo) GetNextPending(ctx context.Context, tx repository.Tx, dealID, address string, phase queueitem.Phase, chainID string) (*queueitem.QueueItem, error) {
	conn := r.store.conn(tx).Where("status = ?", string(queueitem.StatusPending))
	if dealID != "" {
		conn = conn.Where("deal_id = ?", dealID)
	}
	if address != "" {
		conn = conn.Where("address = ?", address)
	}
	if chainID != "" {
		conn = conn.Where("chain_id = ?", chainID)
	}
	if phase != queueitem.PhaseNone {
		conn = conn.Where("phase = ?", string(phase))
	}
	var row queueItemRow
	err := conn.Order("seq asc").First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeQueueItem(&row)
}

func (r *queueRepo) GetAll(ctx context.Context, tx repository.Tx, status queueitem.Status) ([]*queueitem.QueueItem, error) {
	var rows []queueItemRow
	if err := r.store.conn(tx).Where("status = ?", string(status)).Order("deal_id asc, seq asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return decodeQueueItemRows(rows)
}

func (r *queueRepo) getRow(conn *gorm.DB, queueID string) (*queueItemRow, error) {
	var row queueItemRow
	err := conn.Where("queue_id = ?", queueID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("sqlrepo: queue item %s not found", queueID)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *queueRepo) saveItem(conn *gorm.DB, it *queueitem.QueueItem) error {
	encoded, err := encodeQueueItem(it)
	if err != nil {
		return err
	}
	return conn.Save(encoded).Error
}

func (r *queueRepo) UpdateStatus(ctx context.Context, tx repository.Tx, queueID string, status queueitem.Status, txRef *queueitem.TxRef) error {
	conn := r.store.conn(tx)
	row, err := r.getRow(conn, queueID)
	if err != nil {
		return err
	}
	it, err := decodeQueueItem(row)
	if err != nil {
		return err
	}
	it.Status = status
	if txRef != nil {
		it.SubmittedTx = txRef
	}
	return r.saveItem(conn, it)
}

func (r *queueRepo) UpdateSubmissionMetadata(ctx context.Context, tx repository.Tx, queueID string, lastSubmitAt int64, originalNonce *uint64, lastGasPrice string) error {
	conn := r.store.conn(tx)
	row, err := r.getRow(conn, queueID)
	if err != nil {
		return err
	}
	it, err := decodeQueueItem(row)
	if err != nil {
		return err
	}
	it.LastSubmitAt = secondsToTime(lastSubmitAt)
	it.OriginalNonce = originalNonce
	if lastGasPrice != "" {
		d, perr := parseDecimal(lastGasPrice)
		if perr == nil {
			it.LastGasPrice = d
		}
	}
	return r.saveItem(conn, it)
}

func (r *queueRepo) IncrementGasBumpAttempts(ctx context.Context, tx repository.Tx, queueID string) (int, error) {
	conn := r.store.conn(tx)
	row, err := r.getRow(conn, queueID)
	if err != nil {
		return 0, err
	}
	it, err := decodeQueueItem(row)
	if err != nil {
		return 0, err
	}
	it.GasBumpAttempts++
	if err := r.saveItem(conn, it); err != nil {
		return 0, err
	}
	return it.GasBumpAttempts, nil
}

func (r *queueRepo) GetPhaseItems(ctx context.Context, tx repository.Tx, dealID string, phase queueitem.Phase) ([]*queueitem.QueueItem, error) {
	var rows []queueItemRow
	if err := r.store.conn(tx).Where("deal_id = ? AND phase = ?", dealID, string(phase)).Find(&rows).Error; err != nil {
		return nil, err
	}
	return decodeQueueItemRows(rows)
}

func (r *queueRepo) HasPhaseCompleted(ctx context.Context, tx repository.Tx, dealID string, phase queueitem.Phase) (bool, error) {
	items, err := r.GetPhaseItems(ctx, tx, dealID, phase)
	if err != nil {
		return false, err
	}
	if len(items) == 0 {
		return true, nil
	}
	for _, it := range items {
		if it.Status != queueitem.StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

func (r *queueRepo) ValidateNonceSequence(ctx context.Context, tx repository.Tx, chainID, address string) error {
	var rows []queueItemRow
	if err := r.store.conn(tx).Where("chain_id = ? AND address = ? AND status = ?", chainID, address, string(queueitem.StatusSubmitted)).Find(&rows).Error; err != nil {
		return err
	}
	items, err := decodeQueueItemRows(rows)
	if err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, it := range items {
		if it.SubmittedTx == nil || it.SubmittedTx.Status == queueitem.TxReplaced {
			continue
		}
		if seen[it.SubmittedTx.NonceOrInputs] {
			return fmt.Errorf("sqlrepo: duplicate nonce %s for %s/%s", it.SubmittedTx.NonceOrInputs, chainID, address)
		}
		seen[it.SubmittedTx.NonceOrInputs] = true
	}
	return nil
}

func (r *queueRepo) FindNonceConflict(ctx context.Context, tx repository.Tx, chainID, address, nonceOrInputs, excludeQueueID string) (*queueitem.QueueItem, error) {
	var rows []queueItemRow
	if err := r.store.conn(tx).Where("chain_id = ? AND address = ?", chainID, address).Find(&rows).Error; err != nil {
		return nil, err
	}
	items, err := decodeQueueItemRows(rows)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if it.QueueID == excludeQueueID || it.SubmittedTx == nil {
			continue
		}
		if it.SubmittedTx.NonceOrInputs == nonceOrInputs && it.SubmittedTx.Status != queueitem.TxReplaced {
			return it, nil
		}
	}
	return nil, nil
}

func (r *queueRepo) GetHighestQueuedNonce(ctx context.Context, tx repository.Tx, chainID, address string) (*uint64, error) {
	var rows []queueItemRow
	if err := r.store.conn(tx).Where("chain_id = ? AND address = ?", chainID, address).Find(&rows).Error; err != nil {
		return nil, err
	}
	items, err := decodeQueueItemRows(rows)
	if err != nil {
		return nil, err
	}
	var max *uint64
	for _, it := range items {
		if it.SubmittedTx == nil {
			continue
		}
		n, perr := strconv.ParseUint(it.SubmittedTx.NonceOrInputs, 10, 64)
		if perr != nil {
			continue
		}
		if max == nil || n > *max {
			v := n
			max = &v
		}
	}
	return max, nil
}

var _ repository.QueueRepo = (*queueRepo)(nil)
