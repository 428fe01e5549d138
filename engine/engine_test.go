package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klaytn-labs/otc-broker-engine/assets"
	"github.com/klaytn-labs/otc-broker-engine/chainadapter"
	"github.com/klaytn-labs/otc-broker-engine/engineconfig"
	"github.com/klaytn-labs/otc-broker-engine/gasreimbursement"
	"github.com/klaytn-labs/otc-broker-engine/internal/alert"
	"github.com/klaytn-labs/otc-broker-engine/latedeposit"
	"github.com/klaytn-labs/otc-broker-engine/repository/memrepo"
	"github.com/klaytn-labs/otc-broker-engine/stagemachine"
	"github.com/klaytn-labs/otc-broker-engine/transferplan"
)

func newTestRegistry() *assets.Registry {
	r := assets.NewRegistry()
	r.RegisterChain(assets.ChainParams{ChainID: "ETH", Family: assets.FamilyEVM, NativeAsset: "ETH@ETH", ConfirmThreshold: 6, CollectConfirms: 3})
	r.RegisterAsset(assets.AssetSpec{Code: "ETH@ETH", ChainID: "ETH", Native: true, Decimals: 18})
	return r
}

func buildEngine(t *testing.T, now time.Time) (*Engine, *memrepo.Store) {
	t.Helper()
	store := memrepo.New()
	adapters := chainadapter.NewRegistry()
	adapters.Register("ETH", chainadapter.NewFake())

	registry := newTestRegistry()
	planner := transferplan.NewPlanner(adapters)
	alerts := alert.NewSink(store)
	clock := func() time.Time { return now }

	machine := stagemachine.New(store, adapters, registry, planner, alerts, stagemachine.Clock(clock))
	calc := gasreimbursement.New(store, adapters, registry, gasreimbursement.Config{Enabled: false}, gasreimbursement.Clock(clock))
	watcher := latedeposit.New(store, adapters, nil, latedeposit.Clock(clock))

	cfg := engineconfig.DefaultConfig
	cfg.TickIntervalMS = 20
	cfg.QueueIntervalMS = 20

	e := New(cfg, Deps{
		Store:       store,
		Adapters:    adapters,
		Machine:     machine,
		Calculator:  calc,
		LateDeposit: watcher,
		Clock:       clock,
	}, alerts)
	return e, store
}

func TestEngineRunsTickAndQueuePasses(t *testing.T) {
	fixedNow := time.Now()
	e, _ := buildEngine(t, fixedNow)

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	time.Sleep(120 * time.Millisecond)
	cancel()
	e.Stop()

	require.True(t, e.Health().Healthy(fixedNow))
}

func TestEngineTickPassSkipsWhenStillRunning(t *testing.T) {
	e, _ := buildEngine(t, time.Now())

	require.True(t, e.tickSem.TryAcquire(1))
	err := e.runTickPass(context.Background())
	e.tickSem.Release(1)
	require.NoError(t, err)

	require.True(t, e.tickSem.TryAcquire(1))
	require.False(t, e.tickSem.TryAcquire(1))
	e.tickSem.Release(1)
}

func TestEngineStopIsIdempotentWithoutStart(t *testing.T) {
	e, _ := buildEngine(t, time.Now())
	require.NotPanics(t, func() { e.Stop() })
}
