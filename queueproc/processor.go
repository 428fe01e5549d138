// Package queueproc implements the per-sender serialized transaction
// queue (spec.md §4.5 — "hardest subcomponent"): nonce-disciplined
// submission, stuck-transaction gas bumping, and idempotent recovery
// across crashed or restarted passes. It runs on its own schedule,
// independent of the stage machine's tick driver; see package engine
// for the reentrancy-guarded scheduling wrapper.
package queueproc

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/klaytn-labs/otc-broker-engine/chainadapter"
	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/internal/alert"
	"github.com/klaytn-labs/otc-broker-engine/internal/logutil"
	"github.com/klaytn-labs/otc-broker-engine/internal/metrics"
	"github.com/klaytn-labs/otc-broker-engine/queueitem"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

// Clock lets tests control "now" the same way stagemachine.Clock does.
type Clock func() time.Time

// Processor drains the PENDING queue one (chain, sender) group at a
// time, in ascending seq order within each group.
type Processor struct {
	store    repository.Store
	adapters *chainadapter.Registry
	alerts   *alert.Sink
	clock    Clock
	sleep    func(time.Duration)
	logger   *zap.SugaredLogger

	maxGasBumpAttempts int
	stuckThreshold     time.Duration
	senderPause        time.Duration
}

func New(store repository.Store, adapters *chainadapter.Registry, alerts *alert.Sink, clock Clock) *Processor {
	if clock == nil {
		clock = time.Now
	}
	return &Processor{
		store:              store,
		adapters:           adapters,
		alerts:             alerts,
		clock:              clock,
		sleep:              time.Sleep,
		logger:             logutil.NewModuleLogger(logutil.ModuleQueueProcessor),
		maxGasBumpAttempts: 5,
		stuckThreshold:     5 * time.Minute,
		senderPause:        100 * time.Millisecond,
	}
}

type senderKey struct {
	chainID string
	address string
}

// RunOnce executes exactly one pass of §4.5's algorithm: a stuck-tx
// sweep followed by serialized processing of every PENDING item,
// grouped by (chain_id, from.address).
func (p *Processor) RunOnce(ctx context.Context) error {
	if err := p.sweepStuck(ctx); err != nil {
		p.logger.Errorw("stuck-tx sweep failed", "err", err)
	}

	pending, err := p.store.Queue().GetAll(ctx, nil, queueitem.StatusPending)
	if err != nil {
		return err
	}

	groups := make(map[senderKey][]*queueitem.QueueItem)
	for _, it := range pending {
		k := senderKey{chainID: it.ChainID, address: it.From.Address}
		groups[k] = append(groups[k], it)
	}

	keys := make([]senderKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].chainID != keys[j].chainID {
			return keys[i].chainID < keys[j].chainID
		}
		return keys[i].address < keys[j].address
	})

	metrics.QueuePasses.Inc(1)

	for _, k := range keys {
		items := groups[k]
		sort.Slice(items, func(i, j int) bool { return items[i].Seq < items[j].Seq })

		skipGroup := false
		for i, item := range items {
			if skipGroup {
				break
			}
			if err := p.processItem(ctx, item); err != nil {
				p.logger.Errorw("queue item processing failed", "queue_id", item.QueueID, "err", err)
				// A nonce-sequence violation invalidates the rest of
				// this sender's pending items for this pass; the
				// rebuilt sequence is re-read next pass.
				if isNonceAnomaly(err) {
					skipGroup = true
				}
			}
			if i < len(items)-1 {
				p.sleep(p.senderPause)
			}
		}
	}

	return nil
}

func (p *Processor) processItem(ctx context.Context, item *queueitem.QueueItem) error {
	d, err := p.store.Deals().Get(ctx, nil, item.DealID)
	if err != nil {
		return err
	}

	// Policy gate (§4.5.3.a): refunds must never race an incomplete swap.
	if item.Purpose == queueitem.PurposeTimeoutRefund {
		complete, err := p.swapPayoutsComplete(ctx, d.DealID)
		if err != nil {
			return err
		}
		if !complete && d.Stage != "CLOSED" {
			return nil
		}
	}

	// Phase gate (§4.4, §4.5.3.b): UTXO ordering.
	if item.Phase != queueitem.PhaseNone {
		done, err := p.earlierPhasesComplete(ctx, d.DealID, item.Phase)
		if err != nil {
			return err
		}
		if !done {
			return nil
		}
	}

	adapter, ok := p.adapters.Get(item.ChainID)
	if !ok {
		return fmt.Errorf("queueproc: no adapter registered for chain %s", item.ChainID)
	}

	var submitErr error
	if item.Purpose.IsBroker() {
		submitErr = p.submitBroker(ctx, item, adapter)
	} else {
		submitErr = p.submitAccountItem(ctx, item, adapter)
	}
	if submitErr != nil && isNonceAnomaly(submitErr) {
		p.recordDealEvent(ctx, d.DealID, deal.EventWarn, deal.EventNonceAnomaly, submitErr.Error())
	}
	return submitErr
}

func (p *Processor) swapPayoutsComplete(ctx context.Context, dealID string) (bool, error) {
	items, err := p.store.Queue().GetByDeal(ctx, nil, dealID)
	if err != nil {
		return false, err
	}
	for _, it := range items {
		if it.Purpose == queueitem.PurposeSwapPayout && it.Status != queueitem.StatusCompleted && it.Status != queueitem.StatusCancelled {
			return false, nil
		}
	}
	return true, nil
}

func (p *Processor) earlierPhasesComplete(ctx context.Context, dealID string, phase queueitem.Phase) (bool, error) {
	var earlier []queueitem.Phase
	switch phase {
	case queueitem.Phase2Commission:
		earlier = []queueitem.Phase{queueitem.Phase1Swap}
	case queueitem.Phase3Refund:
		earlier = []queueitem.Phase{queueitem.Phase1Swap, queueitem.Phase2Commission}
	}
	for _, ph := range earlier {
		done, err := p.store.Queue().HasPhaseCompleted(ctx, nil, dealID, ph)
		if err != nil {
			return false, err
		}
		if !done {
			return false, nil
		}
	}
	return true, nil
}

func (p *Processor) submitBroker(ctx context.Context, item *queueitem.QueueItem, adapter chainadapter.Adapter) error {
	params := chainadapter.BrokerParams{
		Payback:      item.Payback,
		Recipient:    item.Recipient,
		FeeRecipient: item.FeeRecipient,
		Fees:         item.Fees,
		Amount:       item.Amount,
		Asset:        item.Asset,
		From:         chainadapter.EscrowWithKey{Address: item.From.Address, KeyHandle: item.From.KeyHandle},
	}

	var (
		res chainadapter.SendResult
		err error
	)
	switch item.Purpose {
	case queueitem.PurposeBrokerSwap:
		res, err = adapter.SwapViaBroker(ctx, params)
	case queueitem.PurposeBrokerRevert:
		res, err = adapter.RevertViaBroker(ctx, params)
	case queueitem.PurposeBrokerRefund:
		res, err = adapter.RefundViaBroker(ctx, params)
	}
	if err != nil {
		return err
	}

	tx, err := p.store.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := p.persistSubmission(ctx, tx, item, res, adapter); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (p *Processor) persistSubmission(ctx context.Context, tx repository.Tx, item *queueitem.QueueItem, res chainadapter.SendResult, adapter chainadapter.Adapter) error {
	txRef := &queueitem.TxRef{
		ChainID:          item.ChainID,
		Txid:             res.Txid,
		SubmittedAt:      time.Unix(res.SubmittedAt, 0).UTC(),
		RequiredConfirms: adapter.GetConfirmationThreshold(),
		Status:           queueitem.TxPending,
		NonceOrInputs:    res.NonceOrInputs,
		AdditionalTxids:  res.AdditionalTxids,
		GasPrice:         res.GasPrice,
	}
	if err := p.store.Queue().UpdateStatus(ctx, tx, item.QueueID, queueitem.StatusSubmitted, txRef); err != nil {
		return err
	}
	var originalNonce *uint64
	if item.OriginalNonce != nil {
		originalNonce = item.OriginalNonce
	}
	return p.store.Queue().UpdateSubmissionMetadata(ctx, tx, item.QueueID, p.clock().Unix(), originalNonce, res.GasPrice.String())
}

// recordDealEvent appends an event to dealID's log and persists it,
// logging (but not returning) any failure to do so — an event that
// fails to persist must not stall queue processing.
func (p *Processor) recordDealEvent(ctx context.Context, dealID string, level deal.EventLevel, code deal.EventCode, message string) {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		p.logger.Errorw("failed to begin transaction for deal event", "deal_id", dealID, "err", err)
		return
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	d, err := p.store.Deals().Get(ctx, tx, dealID)
	if err != nil {
		p.logger.Errorw("failed to load deal for event", "deal_id", dealID, "err", err)
		return
	}
	d.AddEvent(level, code, message)
	if err := p.store.Deals().Update(ctx, tx, d); err != nil {
		p.logger.Errorw("failed to persist deal event", "deal_id", dealID, "err", err)
		return
	}
	if err := tx.Commit(); err != nil {
		p.logger.Errorw("failed to commit deal event", "deal_id", dealID, "err", err)
		return
	}
	committed = true
}

func isNonceAnomaly(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "nonce")
}
