package memrepo

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/klaytn-labs/otc-broker-engine/queueitem"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

type queueRepo Store

func (r *queueRepo) s() *Store { return (*Store)(r) }

func (r *queueRepo) Enqueue(ctx context.Context, tx repository.Tx, item *queueitem.QueueItem) error {
	s := r.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.QueueID == "" {
		item.QueueID = uuid.NewString()
	}
	key := item.DealID + "|" + item.From.Address
	s.seqCounter[key]++
	item.Seq = s.seqCounter[key]
	if item.Status == "" {
		item.Status = queueitem.StatusPending
	}
	s.queue[item.QueueID] = item
	return nil
}

func (r *queueRepo) GetByDeal(ctx context.Context, tx repository.Tx, dealID string) ([]*queueitem.QueueItem, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*queueitem.QueueItem
	for _, it := range s.queue {
		if it.DealID == dealID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r *queueRepo) GetNextPending(ctx context.Context, tx repository.Tx, dealID, address string, phase queueitem.Phase, chainID string) (*queueitem.QueueItem, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *queueitem.QueueItem
	for _, it := range s.queue {
		if it.Status != queueitem.StatusPending {
			continue
		}
		if dealID != "" && it.DealID != dealID {
			continue
		}
		if address != "" && it.From.Address != address {
			continue
		}
		if chainID != "" && it.ChainID != chainID {
			continue
		}
		if phase != queueitem.PhaseNone && it.Phase != phase {
			continue
		}
		if best == nil || it.Seq < best.Seq {
			best = it
		}
	}
	return best, nil
}

func (r *queueRepo) GetAll(ctx context.Context, tx repository.Tx, status queueitem.Status) ([]*queueitem.QueueItem, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*queueitem.QueueItem
	for _, it := range s.queue {
		if it.Status == status {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DealID != out[j].DealID {
			return out[i].DealID < out[j].DealID
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (r *queueRepo) UpdateStatus(ctx context.Context, tx repository.Tx, queueID string, status queueitem.Status, txRef *queueitem.TxRef) error {
	s := r.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.queue[queueID]
	if !ok {
		return fmt.Errorf("memrepo: queue item %s not found", queueID)
	}
	it.Status = status
	if txRef != nil {
		it.SubmittedTx = txRef
	}
	return nil
}

func (r *queueRepo) UpdateSubmissionMetadata(ctx context.Context, tx repository.Tx, queueID string, lastSubmitAt int64, originalNonce *uint64, lastGasPrice string) error {
	s := r.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.queue[queueID]
	if !ok {
		return fmt.Errorf("memrepo: queue item %s not found", queueID)
	}
	it.LastSubmitAt = secondsToTime(lastSubmitAt)
	it.OriginalNonce = originalNonce
	if lastGasPrice != "" {
		d, err := parseDecimal(lastGasPrice)
		if err == nil {
			it.LastGasPrice = d
		}
	}
	return nil
}

func (r *queueRepo) IncrementGasBumpAttempts(ctx context.Context, tx repository.Tx, queueID string) (int, error) {
	s := r.s()
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.queue[queueID]
	if !ok {
		return 0, fmt.Errorf("memrepo: queue item %s not found", queueID)
	}
	it.GasBumpAttempts++
	return it.GasBumpAttempts, nil
}

func (r *queueRepo) GetPhaseItems(ctx context.Context, tx repository.Tx, dealID string, phase queueitem.Phase) ([]*queueitem.QueueItem, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*queueitem.QueueItem
	for _, it := range s.queue {
		if it.DealID == dealID && it.Phase == phase {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r *queueRepo) HasPhaseCompleted(ctx context.Context, tx repository.Tx, dealID string, phase queueitem.Phase) (bool, error) {
	items, _ := r.GetPhaseItems(ctx, tx, dealID, phase)
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
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for _, it := range s.queue {
		if it.ChainID != chainID || it.From.Address != address {
			continue
		}
		if it.Status != queueitem.StatusSubmitted || it.SubmittedTx == nil {
			continue
		}
		if it.SubmittedTx.Status == queueitem.TxReplaced {
			continue
		}
		if seen[it.SubmittedTx.NonceOrInputs] {
			return fmt.Errorf("memrepo: duplicate nonce %s for %s/%s", it.SubmittedTx.NonceOrInputs, chainID, address)
		}
		seen[it.SubmittedTx.NonceOrInputs] = true
	}
	return nil
}

func (r *queueRepo) FindNonceConflict(ctx context.Context, tx repository.Tx, chainID, address, nonceOrInputs, excludeQueueID string) (*queueitem.QueueItem, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.queue {
		if it.QueueID == excludeQueueID {
			continue
		}
		if it.ChainID != chainID || it.From.Address != address {
			continue
		}
		if it.SubmittedTx == nil {
			continue
		}
		if it.SubmittedTx.NonceOrInputs == nonceOrInputs && it.SubmittedTx.Status != queueitem.TxReplaced {
			return it, nil
		}
	}
	return nil, nil
}

func (r *queueRepo) GetHighestQueuedNonce(ctx context.Context, tx repository.Tx, chainID, address string) (*uint64, error) {
	s := r.s()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max *uint64
	for _, it := range s.queue {
		if it.ChainID != chainID || it.From.Address != address || it.SubmittedTx == nil {
			continue
		}
		n, err := parseUint(it.SubmittedTx.NonceOrInputs)
		if err != nil {
			continue
		}
		if max == nil || n > *max {
			v := n
			max = &v
		}
	}
	return max, nil
}
