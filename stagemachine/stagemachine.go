// Package stagemachine implements the per-deal logic of spec.md §4.3:
// deposit aggregation, lock evaluation, transfer-plan construction,
// reorg rollback and terminal cleanup. It is invoked once per active
// deal, per tick-driver pass (see package engine), always inside a
// single repository transaction per deal.
package stagemachine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/klaytn-labs/otc-broker-engine/assets"
	"github.com/klaytn-labs/otc-broker-engine/chainadapter"
	"github.com/klaytn-labs/otc-broker-engine/deal"
	"github.com/klaytn-labs/otc-broker-engine/internal/alert"
	"github.com/klaytn-labs/otc-broker-engine/internal/logutil"
	"github.com/klaytn-labs/otc-broker-engine/repository"
	"github.com/klaytn-labs/otc-broker-engine/transferplan"
)

// Clock is injected so tests can control "now" instead of depending on
// the wall clock; production wiring passes time.Now.
type Clock func() time.Time

// Machine advances one deal at a time through the stage graph.
type Machine struct {
	store    repository.Store
	adapters *chainadapter.Registry
	registry *assets.Registry
	planner  *transferplan.Planner
	alerts   *alert.Sink
	clock    Clock
	logger   *zap.SugaredLogger
}

func New(store repository.Store, adapters *chainadapter.Registry, registry *assets.Registry, planner *transferplan.Planner, alerts *alert.Sink, clock Clock) *Machine {
	if clock == nil {
		clock = time.Now
	}
	return &Machine{
		store:    store,
		adapters: adapters,
		registry: registry,
		planner:  planner,
		alerts:   alerts,
		clock:    clock,
		logger:   logutil.NewModuleLogger(logutil.ModuleDeal),
	}
}

// Advance runs exactly one tick's worth of per-stage logic for d. It
// opens its own repository transaction (per §5, stage transition and
// any queue-item writes it makes are one transactional unit) and
// commits or rolls back before returning.
func (m *Machine) Advance(ctx context.Context, dealID string) error {
	tx, err := m.store.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	d, err := m.store.Deals().Get(ctx, tx, dealID)
	if err != nil {
		return err
	}

	now := m.clock()

	var stepErr error
	switch d.Stage {
	case deal.StageCreated:
		stepErr = m.handleCreated(ctx, tx, d, now)
	case deal.StageCollection:
		stepErr = m.handleCollection(ctx, tx, d, now)
	case deal.StageWaiting:
		stepErr = m.handleWaiting(ctx, tx, d, now)
	case deal.StageSwap:
		stepErr = m.handleSwap(ctx, tx, d, now)
	case deal.StageReverted:
		stepErr = m.handleReverted(ctx, tx, d, now)
	case deal.StageClosed:
		// CLOSED residual-balance monitoring is driven by
		// latedeposit.Watcher on its own schedule, not per-tick here;
		// nothing to do in the stage machine itself.
	}

	if stepErr != nil {
		m.logger.Errorw("stage advance failed", "deal_id", dealID, "stage", d.Stage, "err", stepErr)
		_ = m.store.Deals().AddEvent(ctx, tx, dealID, deal.Event{At: now, Level: deal.EventWarn, Code: deal.EventAdapterError, Message: stepErr.Error()})
		if err := tx.Commit(); err != nil {
			return err
		}
		committed = true
		return nil // transient failures retry next tick (§7), never propagate to the driver
	}

	if err := m.store.Deals().Update(ctx, tx, d); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (m *Machine) transition(ctx context.Context, tx repository.Tx, d *deal.Deal, to deal.Stage, now time.Time) error {
	if err := m.store.Deals().UpdateStage(ctx, tx, d.DealID, to); err != nil {
		return err
	}
	d.Stage = to
	d.LastTransitionAt = now
	d.Info(deal.EventStageTransition, string(d.Stage))
	return nil
}
