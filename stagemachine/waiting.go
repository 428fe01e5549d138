package stagemachine

import (
	"context"
	"time"

	"github.com/klaytn-labs/otc-broker-engine/chainadapter"
	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/invariants"
	"github.com/klaytn-labs/otc-broker-engine/queueitem"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

// handleWaiting implements the WAITING stage (§4.2, §4.3): both sides
// must independently reach trade+commission lock before the deal may
// advance to SWAP. Locks are evaluated and set/cleared together for
// both sides on every pass — never just one — since a reorg that
// un-confirms one side's deposits must not leave the other side
// holding a stale lock.
//
// WAITING has no expiry of its own: once a side first reaches raw
// sufficiency in COLLECTION the timeout no longer applies (§3 invariant
// 3 — timeouts never fire past SWAP, and WAITING sits strictly before
// it in the direction that matters for this rule).
func (m *Machine) handleWaiting(ctx context.Context, tx repository.Tx, d *deal.Deal, now time.Time) error {
	if err := m.refreshSide(ctx, tx, d, d.EscrowA, d.AliceSpec.Asset, &d.SideA); err != nil {
		return err
	}
	if err := m.refreshSide(ctx, tx, d, d.EscrowB, d.BobSpec.Asset, &d.SideB); err != nil {
		return err
	}

	aliceDecimals, err := m.registry.Decimals(d.AliceSpec.Asset)
	if err != nil {
		return err
	}
	bobDecimals, err := m.registry.Decimals(d.BobSpec.Asset)
	if err != nil {
		return err
	}

	// Step 1: reorg detection, on the same raw-total basis COLLECTION
	// used to get here. Losing sufficiency outranks lock evaluation —
	// fall straight back to COLLECTION and clear any PENDING
	// SWAP_PAYOUT queue items (SUBMITTED ones are the confirmation
	// monitor's concern, not ours).
	aliceSufficient := invariants.HasSufficientFunds(d.SideA.AllDeposits(), d.AliceSpec.Asset, d.AliceSpec.Amount, d.CommissionPlan.AliceCommission, aliceDecimals)
	bobSufficient := invariants.HasSufficientFunds(d.SideB.AllDeposits(), d.BobSpec.Asset, d.BobSpec.Amount, d.CommissionPlan.BobCommission, bobDecimals)

	if !aliceSufficient || !bobSufficient {
		if err := m.clearPendingSwapPayouts(ctx, tx, d); err != nil {
			return err
		}
		d.SideA.Locks = deal.Locks{}
		d.SideB.Locks = deal.Locks{}
		if d.ExpiresAt.IsZero() {
			d.ExpiresAt = now.Add(time.Duration(d.TimeoutSeconds) * time.Second)
		}
		d.Warn(deal.EventLocksCleared, "reorg un-confirmed a deposit; reverting to collection")
		return m.transition(ctx, tx, d, deal.StageCollection, now)
	}

	// Step 2: lock confirmation at full eligibility (confirmation
	// threshold + deadline), evaluated and set atomically for both
	// sides together — never just one.
	aliceAdapter, _ := m.adapters.Get(d.EscrowA.ChainID)
	bobAdapter, _ := m.adapters.Get(d.EscrowB.ChainID)

	aliceResult := invariants.CheckLocks(
		d.SideA.AllDeposits(), d.AliceSpec.Asset, d.AliceSpec.Amount,
		d.CommissionPlan.AliceCommission.Asset, commissionAmountFor(m, d.AliceSpec, d.CommissionPlan.AliceCommission),
		minConfirmsFor(aliceAdapter), d.ExpiresAt,
	)
	bobResult := invariants.CheckLocks(
		d.SideB.AllDeposits(), d.BobSpec.Asset, d.BobSpec.Amount,
		d.CommissionPlan.BobCommission.Asset, commissionAmountFor(m, d.BobSpec, d.CommissionPlan.BobCommission),
		minConfirmsFor(bobAdapter), d.ExpiresAt,
	)

	// WAITING/SWAP/CLOSED track eligible-only totals (§3 invariant 6).
	d.SideA.CollectedByAsset = invariants.SumAllByAsset(aliceResult.Eligible)
	d.SideB.CollectedByAsset = invariants.SumAllByAsset(bobResult.Eligible)

	if !(aliceResult.TradeLocked && aliceResult.CommissionLocked && bobResult.TradeLocked && bobResult.CommissionLocked) {
		// Dual-sided rule: partial eligibility sets nothing. Remain in
		// WAITING until both reach full lock on the same pass.
		return nil
	}

	if d.SideA.Locks.TradeLockedAt.IsZero() {
		d.SideA.Locks.TradeLockedAt = now
	}
	if d.SideA.Locks.CommissionLockedAt.IsZero() {
		d.SideA.Locks.CommissionLockedAt = now
	}
	if d.SideB.Locks.TradeLockedAt.IsZero() {
		d.SideB.Locks.TradeLockedAt = now
	}
	if d.SideB.Locks.CommissionLockedAt.IsZero() {
		d.SideB.Locks.CommissionLockedAt = now
	}
	d.Info(deal.EventLocksSet, "both sides reached trade and commission lock")
	d.ExpiresAt = time.Time{}

	return m.transition(ctx, tx, d, deal.StageSwap, now)
}

// clearPendingSwapPayouts marks every not-yet-submitted SWAP_PAYOUT
// queue item for d as CANCELLED — §4.3's WAITING reorg rollback. SUBMITTED items
// are left alone; the confirmation monitor resolves them via the
// normal -1 "dropped" signal (§4.7).
func (m *Machine) clearPendingSwapPayouts(ctx context.Context, tx repository.Tx, d *deal.Deal) error {
	items, err := m.store.Queue().GetByDeal(ctx, tx, d.DealID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.Purpose == queueitem.PurposeSwapPayout && item.Status == queueitem.StatusPending {
			if err := m.store.Queue().UpdateStatus(ctx, tx, item.QueueID, queueitem.StatusCancelled, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func minConfirmsFor(a chainadapter.Adapter) int {
	if a == nil {
		return 0
	}
	return a.GetCollectConfirms()
}
