// Package metrics registers the engine's operational counters using
// github.com/rcrowley/go-metrics, the same library the teacher's
// work/worker.go imports directly for its own mining counters
// ("timeLimitReachedCounter = metrics.NewRegisteredCounter(...)").
package metrics

import "github.com/rcrowley/go-metrics"

var (
	TickPasses          = metrics.NewRegisteredCounter("engine/tick/passes", nil)
	TickSkippedBusy     = metrics.NewRegisteredCounter("engine/tick/skipped_busy", nil)
	DealsAdvanced       = metrics.NewRegisteredCounter("engine/deals/advanced", nil)
	QueuePasses         = metrics.NewRegisteredCounter("engine/queue/passes", nil)
	QueueSubmitted      = metrics.NewRegisteredCounter("engine/queue/submitted", nil)
	QueueCompleted      = metrics.NewRegisteredCounter("engine/queue/completed", nil)
	GasBumps            = metrics.NewRegisteredCounter("engine/queue/gas_bumps", nil)
	GasBumpExhausted    = metrics.NewRegisteredCounter("engine/queue/gas_bump_exhausted", nil)
	NonceResets         = metrics.NewRegisteredCounter("engine/queue/nonce_resets", nil)
	NonceConflicts      = metrics.NewRegisteredCounter("engine/queue/nonce_conflicts", nil)
	RevertsRefused      = metrics.NewRegisteredCounter("engine/deals/reverts_refused", nil)
	LateDepositsRefunded = metrics.NewRegisteredCounter("engine/latedeposit/refunded", nil)
)
