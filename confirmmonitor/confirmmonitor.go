// Package confirmmonitor implements the confirmation-polling pass that
// runs inside the tick driver (§4.7): it walks every SUBMITTED queue
// item, reconciles its confirmation count against the chain, and
// drives the PENDING/COMPLETED transitions that the queue processor
// depends on downstream.
package confirmmonitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/klaytn-labs/otc-broker-engine/chainadapter"
	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/internal/logutil"
	"github.com/klaytn-labs/otc-broker-engine/internal/metrics"
	"github.com/klaytn-labs/otc-broker-engine/queueitem"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

// Clock matches stagemachine.Clock and queueproc.Clock.
type Clock func() time.Time

// GasReimbursementTrigger is invoked whenever a SWAP_PAYOUT item's
// confirmation count first rises from 0 to >= 1 (§4.7, §4.8); the
// implementation is what keeps the calculation to once per deal.
// It is an interface rather than a concrete gasreimbursement.Calculator
// import to keep this package from depending on that one; the engine
// wires the two together at startup.
type GasReimbursementTrigger interface {
	OnFirstConfirmation(ctx context.Context, dealID string, item *queueitem.QueueItem) error
}

// Monitor is the confirmation-polling pass.
type Monitor struct {
	store    repository.Store
	adapters *chainadapter.Registry
	trigger  GasReimbursementTrigger
	clock    Clock
	logger   *zap.SugaredLogger
}

func New(store repository.Store, adapters *chainadapter.Registry, trigger GasReimbursementTrigger, clock Clock) *Monitor {
	if clock == nil {
		clock = time.Now
	}
	return &Monitor{
		store:    store,
		adapters: adapters,
		trigger:  trigger,
		clock:    clock,
		logger:   logutil.NewModuleLogger(logutil.ModuleConfirmMonitor),
	}
}

// RunOnce executes §4.7's algorithm over every SUBMITTED queue item.
func (m *Monitor) RunOnce(ctx context.Context) error {
	items, err := m.store.Queue().GetAll(ctx, nil, queueitem.StatusSubmitted)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := m.checkItem(ctx, item); err != nil {
			m.logger.Errorw("confirmation check failed", "queue_id", item.QueueID, "err", err)
		}
	}
	return nil
}

func (m *Monitor) checkItem(ctx context.Context, item *queueitem.QueueItem) error {
	if item.SubmittedTx == nil {
		return nil
	}
	adapter, ok := m.adapters.Get(item.ChainID)
	if !ok {
		return nil
	}

	confirms, err := adapter.GetTxConfirmations(ctx, item.SubmittedTx.Txid)
	if err != nil {
		m.recordDealEvent(ctx, item.DealID, deal.EventWarn, deal.EventAdapterError, "adapter RPC error during confirmation read: "+err.Error())
		return err
	}

	if confirms == -1 {
		return m.markDropped(ctx, item)
	}

	wasZero := item.SubmittedTx.Confirmations == 0
	item.SubmittedTx.Confirmations = confirms

	effective := confirms
	if len(item.SubmittedTx.AdditionalTxids) > 0 {
		effective = item.SubmittedTx.EffectiveConfirmations(func(txid string) int {
			c, err := adapter.GetTxConfirmations(ctx, txid)
			if err != nil || c < 0 {
				return 0
			}
			return c
		})
	}
	item.SubmittedTx.Confirmations = effective

	if wasZero && effective >= 1 && item.Purpose == queueitem.PurposeSwapPayout && m.trigger != nil {
		if err := m.trigger.OnFirstConfirmation(ctx, item.DealID, item); err != nil {
			m.logger.Errorw("gas reimbursement trigger failed", "deal_id", item.DealID, "queue_id", item.QueueID, "err", err)
		}
	}

	if effective >= item.SubmittedTx.RequiredConfirms {
		return m.markCompleted(ctx, item)
	}

	return m.store.Queue().UpdateStatus(ctx, nil, item.QueueID, queueitem.StatusSubmitted, item.SubmittedTx)
}

func (m *Monitor) markDropped(ctx context.Context, item *queueitem.QueueItem) error {
	item.SubmittedTx.Status = queueitem.TxDropped
	if err := m.store.Queue().UpdateStatus(ctx, nil, item.QueueID, queueitem.StatusPending, item.SubmittedTx); err != nil {
		return err
	}
	m.recordDealEvent(ctx, item.DealID, deal.EventWarn, deal.EventTxDropped, "queue item "+item.QueueID+" dropped/reorged, returned to pending")
	return nil
}

func (m *Monitor) markCompleted(ctx context.Context, item *queueitem.QueueItem) error {
	item.SubmittedTx.Status = queueitem.TxConfirmed
	if err := m.store.Queue().UpdateStatus(ctx, nil, item.QueueID, queueitem.StatusCompleted, item.SubmittedTx); err != nil {
		return err
	}
	if item.OriginalNonce != nil {
		if err := m.store.Accounts().UpdateLastConfirmedNonce(ctx, nil, item.ChainID, item.From.Address, *item.OriginalNonce); err != nil {
			m.logger.Errorw("failed to advance last confirmed nonce", "chain_id", item.ChainID, "address", item.From.Address, "err", err)
		}
	}
	metrics.QueueCompleted.Inc(1)
	m.recordDealEvent(ctx, item.DealID, deal.EventInfo, deal.EventQueueItemCompleted, "queue item "+item.QueueID+" reached required confirmations")
	return nil
}

func (m *Monitor) recordDealEvent(ctx context.Context, dealID string, level deal.EventLevel, code deal.EventCode, message string) {
	d, err := m.store.Deals().Get(ctx, nil, dealID)
	if err != nil {
		m.logger.Errorw("failed to load deal for event", "deal_id", dealID, "err", err)
		return
	}
	d.AddEvent(level, code, message)
	if err := m.store.Deals().Update(ctx, nil, d); err != nil {
		m.logger.Errorw("failed to persist deal event", "deal_id", dealID, "err", err)
	}
}
