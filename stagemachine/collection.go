package stagemachine

import (
	"context"
	"time"

	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/invariants"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

// handleCollection implements the COLLECTION stage (§4.3). On every
// pass it refreshes each side's deposit set from the chain adapter,
// then checks the raw (0-confirm) sufficiency rule: once both sides
// hold enough of their trade (and, for same-asset commission, combined
// trade+commission) amount, the deal moves to WAITING. If both sides
// are not sufficient by ExpiresAt, the deal reverts.
func (m *Machine) handleCollection(ctx context.Context, tx repository.Tx, d *deal.Deal, now time.Time) error {
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

	aliceSufficient := invariants.HasSufficientFunds(d.SideA.AllDeposits(), d.AliceSpec.Asset, d.AliceSpec.Amount, d.CommissionPlan.AliceCommission, aliceDecimals)
	bobSufficient := invariants.HasSufficientFunds(d.SideB.AllDeposits(), d.BobSpec.Asset, d.BobSpec.Amount, d.CommissionPlan.BobCommission, bobDecimals)

	if aliceSufficient && bobSufficient {
		return m.transition(ctx, tx, d, deal.StageWaiting, now)
	}

	if !d.ExpiresAt.IsZero() && now.After(d.ExpiresAt) {
		return m.revertDeal(ctx, tx, d, now, "collection window expired before both sides reached sufficiency")
	}

	return nil
}

// refreshSide pulls confirmed deposits from the chain adapter and
// merges them into side's deposit set. A missing adapter is not an
// error here — it simply means no new deposits are observed this pass.
func (m *Machine) refreshSide(ctx context.Context, tx repository.Tx, d *deal.Deal, escrow deal.EscrowRef, asset string, side *deal.SideState) error {
	adapter, ok := m.adapters.Get(escrow.ChainID)
	if !ok {
		return nil
	}
	listing, err := adapter.ListConfirmedDeposits(ctx, asset, escrow.Address, 0)
	if err != nil {
		return err
	}
	for _, obs := range listing.Deposits {
		dep := deal.EscrowDeposit{
			Txid:        obs.Txid,
			Index:       obs.Index,
			Amount:      obs.Amount,
			Asset:       obs.Asset,
			BlockHeight: obs.BlockHeight,
			Confirms:    obs.Confirms,
			Synthetic:   obs.Synthetic,
		}
		if obs.BlockTime != nil {
			t := timeFromUnix(*obs.BlockTime)
			dep.BlockTime = &t
		}
		side.MergeDeposit(dep)
		if err := m.store.Deposits().Upsert(ctx, tx, d.DealID, dep, escrow.ChainID, escrow.Address, obs.Synthetic); err != nil {
			return err
		}
	}
	// CREATED/COLLECTION track raw (0-confirm) totals (§3 invariant 6);
	// WAITING overwrites this with eligible-only totals once it runs.
	side.CollectedByAsset = invariants.SumAllByAsset(side.AllDeposits())
	return nil
}

func timeFromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
