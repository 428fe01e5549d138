package stagemachine

import (
	"context"
	"fmt"
	"time"

	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/queueitem"
	"github.com/klaytn-labs/otc-broker-engine/repository"
)

// revertDeal implements the three critical safeguards of §4.3 before
// building the refund plan and transitioning to REVERTED. A refusal is
// never silent: it logs a CRITICAL event and leaves the deal's stage
// untouched so an operator notices.
func (m *Machine) revertDeal(ctx context.Context, tx repository.Tx, d *deal.Deal, now time.Time, reason string) error {
	if d.SideA.Locks.IsFullyLocked() && d.SideB.Locks.IsFullyLocked() {
		d.Critical(deal.EventRevertRefused, "blocked revert: both sides fully locked, swap must complete")
		return nil
	}
	if d.Stage != deal.StageCreated && d.Stage != deal.StageCollection {
		d.Critical(deal.EventRevertRefused, fmt.Sprintf("blocked revert in %s stage", d.Stage))
		return nil
	}
	existing, err := m.store.Queue().GetByDeal(ctx, tx, d.DealID)
	if err != nil {
		return err
	}
	for _, item := range existing {
		if item.Purpose == queueitem.PurposeSwapPayout && (item.Status == queueitem.StatusSubmitted || item.Status == queueitem.StatusCompleted) {
			d.Critical(deal.EventRevertRefused, "blocked revert: a swap payout already submitted or completed")
			return nil
		}
	}

	items := m.planner.BuildRevertPlan(ctx, d)
	for i, item := range items {
		item.DealID = d.DealID
		item.Seq = int64(i)
		if err := m.store.Queue().Enqueue(ctx, tx, item); err != nil {
			return err
		}
	}

	d.Warn(deal.EventStageTransition, reason)
	return m.transition(ctx, tx, d, deal.StageReverted, now)
}
