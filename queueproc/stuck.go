package queueproc

import (
	"context"
	"fmt"

	"github.com/klaytn-labs/otc-broker-engine/chainadapter"
	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/decimal"
	"github.com/klaytn-labs/otc-broker-engine/internal/metrics"
	"github.com/klaytn-labs/otc-broker-engine/queueitem"
)

// gasBumpMultiplier is the fixed 1.2x step applied to a stuck
// transaction's fee fields on each rebroadcast, matching the teacher's
// adjustGasPrice growth factor.
const gasBumpMultiplier = "1.2"

// sweepStuck implements the pre-pass stuck-transaction scan of §4.5:
// every SUBMITTED item idle past the stuck threshold with zero
// confirmations that the adapter still reports as stuck gets its gas
// bumped and is resubmitted at the same nonce, up to maxGasBumpAttempts.
func (p *Processor) sweepStuck(ctx context.Context) error {
	submitted, err := p.store.Queue().GetAll(ctx, nil, queueitem.StatusSubmitted)
	if err != nil {
		return err
	}

	now := p.clock()
	for _, item := range submitted {
		if item.SubmittedTx == nil || item.SubmittedTx.Confirmations != 0 {
			continue
		}
		if item.OriginalNonce == nil {
			// Broker-path or UTXO items never reach here; the nonce
			// reservation sub-algorithm is what set OriginalNonce.
			continue
		}
		if now.Sub(item.LastSubmitAt) <= p.stuckThreshold {
			continue
		}

		adapter, ok := p.adapters.Get(item.ChainID)
		if !ok {
			continue
		}
		stillStuck, err := adapter.IsTransactionStuck(ctx, item.SubmittedTx.Txid)
		if err != nil {
			p.logger.Errorw("stuck-tx probe failed", "queue_id", item.QueueID, "err", err)
			continue
		}
		if !stillStuck {
			continue
		}

		if err := p.bumpAndResubmit(ctx, item, adapter); err != nil {
			p.logger.Errorw("gas bump failed", "queue_id", item.QueueID, "err", err)
		}
	}
	return nil
}

func (p *Processor) bumpAndResubmit(ctx context.Context, item *queueitem.QueueItem, adapter chainadapter.Adapter) error {
	if item.GasBumpAttempts >= p.maxGasBumpAttempts {
		return p.forceComplete(ctx, item)
	}

	fees, err := adapter.GetCurrentGasPrice(ctx)
	if err != nil {
		return err
	}

	prior := item.LastGasPrice
	if decimal.IsZero(prior) {
		prior = fees.GasPrice
	}
	bumped := bumpByFactor(prior, gasBumpMultiplier)

	opts := chainadapter.SendOptions{
		Nonce:    item.OriginalNonce,
		GasPrice: bumped,
	}
	if decimal.IsPositive(fees.MaxFeePerGas) {
		opts.MaxFeePerGas = bumpByFactor(fees.MaxFeePerGas, gasBumpMultiplier)
		opts.MaxPriorityFeePerGas = bumpByFactor(fees.MaxPriorityFeePerGas, gasBumpMultiplier)
	}

	res, err := adapter.Send(ctx, item.Asset, toAdapterEndpoint(item.From), item.To, item.Amount, opts)
	if err != nil {
		return err
	}

	attempts, err := p.store.Queue().IncrementGasBumpAttempts(ctx, nil, item.QueueID)
	if err != nil {
		return err
	}
	item.GasBumpAttempts = attempts
	metrics.GasBumps.Inc(1)
	p.recordDealEvent(ctx, item.DealID, deal.EventWarn, deal.EventGasBumped, fmt.Sprintf("queue item %s gas-bumped to %s (attempt %d/%d)", item.QueueID, decimal.String(bumped), attempts, p.maxGasBumpAttempts))

	txRef := &queueitem.TxRef{
		ChainID:          item.ChainID,
		Txid:             res.Txid,
		SubmittedAt:      item.SubmittedTx.SubmittedAt,
		RequiredConfirms: item.SubmittedTx.RequiredConfirms,
		Status:           queueitem.TxPending,
		NonceOrInputs:    res.NonceOrInputs,
		GasPrice:         bumped,
	}
	if err := p.store.Queue().UpdateStatus(ctx, nil, item.QueueID, queueitem.StatusSubmitted, txRef); err != nil {
		return err
	}
	return p.store.Queue().UpdateSubmissionMetadata(ctx, nil, item.QueueID, p.clock().Unix(), item.OriginalNonce, decimal.String(bumped))
}

// forceComplete marks an irrecoverably stuck item COMPLETED after
// exhausting every gas-bump attempt (§4.5, §7: "irrecoverable stuck
// tx... requires human operator"). The operator must reconcile the
// underlying chain state manually; the engine can do no more for it.
func (p *Processor) forceComplete(ctx context.Context, item *queueitem.QueueItem) error {
	metrics.GasBumpExhausted.Inc(1)
	message := fmt.Sprintf("queue item %s on %s/%s exhausted %d gas bump attempts and was force-completed", item.QueueID, item.ChainID, item.From.Address, p.maxGasBumpAttempts)
	p.alerts.Raise(ctx, nil, item.DealID, "gas_bump_exhausted", message)
	p.recordDealEvent(ctx, item.DealID, deal.EventCritical, deal.EventGasBumpExhausted, message)
	return p.store.Queue().UpdateStatus(ctx, nil, item.QueueID, queueitem.StatusCompleted, item.SubmittedTx)
}

func bumpByFactor(d decimal.D, factor string) decimal.D {
	f := decimal.MustParse(factor)
	return d.Mul(f)
}
