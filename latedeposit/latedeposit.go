// Package latedeposit implements the post-close late-deposit watcher
// (§4.5): for up to 7 days after a deal reaches CLOSED or REVERTED, it
// checks each side's escrow for a residual balance left behind by a
// deposit that confirmed after the deal had already settled, and
// refunds it under a freshly synthesised tracking identity so the
// original deal record is never reopened or mutated.
package latedeposit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/klaytn-labs/otc-broker-engine/chainadapter"
	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/decimal"
	"github.com/klaytn-labs/otc-broker-engine/internal/logutil"
	"github.com/klaytn-labs/otc-broker-engine/internal/metrics"
	"github.com/klaytn-labs/otc-broker-engine/queueitem"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

// Clock matches the other drivers' injectable clocks.
type Clock func() time.Time

// defaultDustThreshold is the engine-wide fallback for "non-dust"
// (§4.5, §6: "10⁻⁶ of the asset") when engineconfig has no per-asset
// override configured.
var defaultDustThreshold = decimal.MustParse("0.000001")

// Watcher is the post-close residual-balance sweep.
type Watcher struct {
	store    repository.Store
	adapters *chainadapter.Registry

	window      time.Duration // late_deposit_window_days, default 7 days
	settleGuard time.Duration // minimum age since last transition before sweeping, default 5 min
	dust        map[string]decimal.D

	clock  Clock
	logger *zap.SugaredLogger
}

func New(store repository.Store, adapters *chainadapter.Registry, dust map[string]decimal.D, clock Clock) *Watcher {
	if clock == nil {
		clock = time.Now
	}
	return &Watcher{
		store:       store,
		adapters:    adapters,
		window:      7 * 24 * time.Hour,
		settleGuard: 5 * time.Minute,
		dust:        dust,
		clock:       clock,
		logger:      logutil.NewModuleLogger(logutil.ModuleLateDeposit),
	}
}

// RunOnce executes one pass of the watcher over every CLOSED/REVERTED
// deal still inside its residual window.
func (w *Watcher) RunOnce(ctx context.Context) error {
	deals, err := w.store.Deals().GetDealsInStages(ctx, nil, deal.StageClosed, deal.StageReverted)
	if err != nil {
		return err
	}
	now := w.clock()
	for _, d := range deals {
		age := d.AgeSinceTransition(now)
		if age > w.window || age < w.settleGuard {
			continue
		}
		if err := w.checkDeal(ctx, d); err != nil {
			w.logger.Errorw("late-deposit check failed", "deal_id", d.DealID, "err", err)
		}
	}
	return nil
}

func (w *Watcher) checkDeal(ctx context.Context, d *deal.Deal) error {
	if d.AliceDetails == nil || d.BobDetails == nil {
		return nil
	}
	if err := w.checkSide(ctx, d, d.EscrowA, d.AliceSpec.Asset, d.AliceDetails.PaybackAddress); err != nil {
		return err
	}
	return w.checkSide(ctx, d, d.EscrowB, d.BobSpec.Asset, d.BobDetails.PaybackAddress)
}

func (w *Watcher) checkSide(ctx context.Context, d *deal.Deal, escrow deal.EscrowRef, asset, payback string) error {
	adapter, ok := w.adapters.Get(escrow.ChainID)
	if !ok {
		return nil
	}
	balance, err := adapter.GetBalance(ctx, asset, escrow.Address)
	if err != nil {
		return err
	}
	if !decimal.GT(balance, w.dustThreshold(asset)) {
		return nil
	}

	purpose := queueitem.PurposeTimeoutRefund
	if adapter.IsBrokerAvailable() {
		purpose = queueitem.PurposeBrokerRefund
	}

	trackingID := "latedeposit-" + uuid.NewString()
	tracking := &deal.Deal{
		DealID:           trackingID,
		Stage:            deal.StageClosed,
		EscrowA:          escrow,
		SideA:            deal.NewSideState(),
		SideB:            deal.NewSideState(),
		CreatedAt:        w.clock(),
		LastTransitionAt: w.clock(),
	}
	if err := w.store.Deals().Update(ctx, nil, tracking); err != nil {
		return err
	}

	item := &queueitem.QueueItem{
		DealID:       trackingID,
		ChainID:      escrow.ChainID,
		From:         queueitem.Endpoint{ChainID: escrow.ChainID, Address: escrow.Address, KeyHandle: escrow.KeyHandle},
		To:           payback,
		Asset:        asset,
		Amount:       balance,
		Purpose:      purpose,
		Status:       queueitem.StatusPending,
		Payback:      payback,
		FeeRecipient: adapter.GetOperatorAddress(),
	}
	if err := w.store.Queue().Enqueue(ctx, nil, item); err != nil {
		return err
	}

	metrics.LateDepositsRefunded.Inc(1)
	w.logger.Infow("late residual deposit queued for refund",
		"deal_id", d.DealID, "tracking_id", trackingID, "chain_id", escrow.ChainID,
		"escrow", escrow.Address, "asset", asset, "amount", decimal.String(balance), "purpose", purpose)
	return nil
}

func (w *Watcher) dustThreshold(asset string) decimal.D {
	if th, ok := w.dust[asset]; ok {
		return th
	}
	return defaultDustThreshold
}
