// Package engine is the process entrypoint's core: the tick driver and
// queue driver of spec.md §5, each on its own ticker, each guarded so a
// slow pass never overlaps the next firing of the same driver. Wiring
// between stagemachine, confirmmonitor, queueproc, gasreimbursement and
// latedeposit happens here, once, at startup.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/klaytn-labs/otc-broker-engine/chainadapter"
	"github.com/klaytn-labs/otc-broker-engine/confirmmonitor"
	"github.com/klaytn-labs/otc-broker-engine/engineconfig"
	"github.com/klaytn-labs/otc-broker-engine/gasreimbursement"
	"github.com/klaytn-labs/otc-broker-engine/internal/alert"
	"github.com/klaytn-labs/otc-broker-engine/internal/health"
	"github.com/klaytn-labs/otc-broker-engine/internal/logutil"
	"github.com/klaytn-labs/otc-broker-engine/internal/metrics"
	"github.com/klaytn-labs/otc-broker-engine/latedeposit"
	"github.com/klaytn-labs/otc-broker-engine/queueproc"
	"github.com/klaytn-labs/otc-broker-engine/repository"
	"github.com/klaytn-labs/otc-broker-engine/stagemachine"
)

// Engine owns the two drivers named in §5: the tick driver (stage
// advancement, confirmation polling, gas reimbursement, late-deposit
// sweep) and the queue driver (outbound transaction submission and
// gas-bump/stuck handling).
type Engine struct {
	cfg engineconfig.Config

	store    repository.Store
	adapters *chainadapter.Registry

	machine  *stagemachine.Machine
	monitor  *confirmmonitor.Monitor
	queue    *queueproc.Processor
	watcher  *latedeposit.Watcher

	health *health.Tracker
	logger *zap.SugaredLogger
	clock  func() time.Time

	tickSem  *semaphore.Weighted
	queueSem *semaphore.Weighted

	cancel context.CancelFunc
	done   chan struct{}
}

// Deps bundles the constructed sub-engine components the caller has
// already wired together (store, adapters, stage machine,
// gas-reimbursement calculator, late-deposit watcher, clock),
// since each of those carries its own grounding and constructor
// elsewhere; Engine only owns the scheduling loop over them.
type Deps struct {
	Store        repository.Store
	Adapters     *chainadapter.Registry
	Machine      *stagemachine.Machine
	Calculator   *gasreimbursement.Calculator
	LateDeposit  *latedeposit.Watcher
	Clock        func() time.Time
}

// New builds an Engine. The confirmmonitor and queueproc components are
// constructed here (rather than passed in via Deps) because they are
// pure functions of store/adapters/clock and, for confirmmonitor, the
// gas-reimbursement trigger — there is no independent wiring decision
// left for the caller to make once Deps.Calculator exists.
func New(cfg engineconfig.Config, deps Deps, alerts *alert.Sink) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		cfg:      cfg,
		store:    deps.Store,
		adapters: deps.Adapters,
		machine:  deps.Machine,
		monitor:  confirmmonitor.New(deps.Store, deps.Adapters, deps.Calculator, confirmmonitor.Clock(clock)),
		queue:    queueproc.New(deps.Store, deps.Adapters, alerts, queueproc.Clock(clock)),
		watcher:  deps.LateDeposit,
		health:   health.NewTracker(cfg.TickInterval() * 4),
		logger:   logutil.NewModuleLogger(logutil.ModuleEngine),
		clock:    clock,
		tickSem:  semaphore.NewWeighted(1),
		queueSem: semaphore.NewWeighted(1),
	}
}

// Health exposes the readiness tracker so an admin surface (outside
// this package's scope per §1) can poll it.
func (e *Engine) Health() *health.Tracker { return e.health }

// Start launches both drivers on their own tickers and returns
// immediately; call Stop to shut them down.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	go e.runDriver(ctx, "tick", e.cfg.TickInterval(), e.tickSem, e.runTickPass)
	go func() {
		e.runDriver(ctx, "queue", e.cfg.QueueInterval(), e.queueSem, e.runQueuePass)
		close(e.done)
	}()
}

// Stop cancels both drivers and waits for the queue driver's goroutine
// to return (the tick driver shares the same ctx and exits alongside
// it; only one done channel is tracked since both honor ctx.Done()).
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		<-e.done
	}
}

// runDriver is the shared ticker loop: on every firing it tries to
// acquire sem without blocking. A pass still in flight from the
// previous tick means the new firing is skipped and logged rather than
// queued up behind it — §5's "never reentered" requirement.
func (e *Engine) runDriver(ctx context.Context, name string, interval time.Duration, sem *semaphore.Weighted, pass func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !sem.TryAcquire(1) {
				e.logger.Warnw("driver pass skipped, previous pass still running", "driver", name)
				if name == "tick" {
					metrics.TickSkippedBusy.Inc(1)
				}
				continue
			}
			func() {
				defer sem.Release(1)
				if err := pass(ctx); err != nil {
					e.logger.Errorw("driver pass failed", "driver", name, "err", err)
				}
			}()
		}
	}
}

// runTickPass advances every active deal's stage machine, then runs
// confirmation polling and the late-deposit sweep in the same pass
// (§5: all three are driven off the one tick).
func (e *Engine) runTickPass(ctx context.Context) error {
	metrics.TickPasses.Inc(1)

	deals, err := e.store.Deals().GetActiveDeals(ctx, nil)
	if err != nil {
		return err
	}
	for _, d := range deals {
		if err := e.machine.Advance(ctx, d.DealID); err != nil {
			e.logger.Errorw("stage advance failed", "deal_id", d.DealID, "err", err)
			continue
		}
		metrics.DealsAdvanced.Inc(1)
	}

	if err := e.monitor.RunOnce(ctx); err != nil {
		e.logger.Errorw("confirmation pass failed", "err", err)
	}

	if e.watcher != nil {
		if err := e.watcher.RunOnce(ctx); err != nil {
			e.logger.Errorw("late-deposit pass failed", "err", err)
		}
	}

	e.health.RecordTickPass(e.clock())
	return nil
}

func (e *Engine) runQueuePass(ctx context.Context) error {
	if err := e.queue.RunOnce(ctx); err != nil {
		return err
	}
	e.health.RecordQueuePass(e.clock())
	return nil
}
