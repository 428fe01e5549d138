// Command brokerd is the OTC broker engine's process entrypoint:
// flags → config load → construct the dependency graph → start the
// engine → block until signalled. Grounded on the teacher's cmd/kcn
// main.go shape (a single app.Action builds the runtime, starts it and
// tears it down on SIGINT/SIGTERM) using the go.mod-pinned
// github.com/urfave/cli v1 API rather than the teacher's own
// gopkg.in/urfave/cli.v1 import path.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/klaytn-labs/otc-broker-engine/chainadapter"
	"github.com/klaytn-labs/otc-broker-engine/engine"
	"github.com/klaytn-labs/otc-broker-engine/engineconfig"
	"github.com/klaytn-labs/otc-broker-engine/eventbus"
	"github.com/klaytn-labs/otc-broker-engine/gasreimbursement"
	"github.com/klaytn-labs/otc-broker-engine/internal/alert"
	"github.com/klaytn-labs/otc-broker-engine/internal/logutil"
	"github.com/klaytn-labs/otc-broker-engine/latedeposit"
	"github.com/klaytn-labs/otc-broker-engine/repository"
	"github.com/klaytn-labs/otc-broker-engine/repository/sqlrepo"
	"github.com/klaytn-labs/otc-broker-engine/stagemachine"
	"github.com/klaytn-labs/otc-broker-engine/transferplan"
)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "path to the engine's TOML configuration file",
		Value: "brokerd.toml",
	}
	dsnFlag = cli.StringFlag{
		Name:   "mysql-dsn",
		Usage:  "go-sql-driver/mysql DSN for the production repository.Store",
		EnvVar: "BROKERD_MYSQL_DSN",
	}
	kafkaBrokersFlag = cli.StringSliceFlag{
		Name:  "kafka-broker",
		Usage: "Kafka broker address, repeatable; publishing is disabled if unset",
	}
	kafkaTopicFlag = cli.StringFlag{
		Name:  "kafka-topic",
		Usage: "topic deal events are published to",
		Value: "otc-broker-deal-events",
	}
)

func buildApp() *cli.App {
	app := cli.NewApp()
	app.Name = "brokerd"
	app.Usage = "OTC swap broker engine daemon"
	app.Flags = []cli.Flag{configFlag, dsnFlag, kafkaBrokersFlag, kafkaTopicFlag}
	app.Action = run
	return app
}

func main() {
	if err := buildApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger := logutil.NewModuleLogger(logutil.ModuleCmd)

	cfg, err := engineconfig.Load(c.String(configFlag.Name))
	if err != nil {
		return fmt.Errorf("brokerd: failed to load config: %w", err)
	}

	dustThresholds, err := cfg.DustThresholds()
	if err != nil {
		return fmt.Errorf("brokerd: invalid dust threshold configuration: %w", err)
	}
	assetRegistry := cfg.BuildAssetRegistry()

	store, err := buildStore(c)
	if err != nil {
		return err
	}
	defer func() {
		if closer, ok := store.(interface{ Close() error }); ok {
			if cerr := closer.Close(); cerr != nil {
				logger.Errorw("failed to close repository store", "err", cerr)
			}
		}
	}()

	adapters := chainadapter.NewRegistry()
	for _, chain := range cfg.Chains {
		// Real per-chain adapters (EVM RPC, UTXO node clients) live
		// outside this module (chainadapter's doc comment); Fake
		// stands in so brokerd is runnable end to end against the
		// configured chain set until a real adapter is wired in.
		f := chainadapter.NewFake()
		f.CollectConfirms = chain.CollectConfirms
		f.ConfirmThreshold = chain.ConfirmThreshold
		f.UTXO = chain.Family == "UTXO"
		f.BrokerAvailable = chain.BrokerAvailable
		adapters.Register(chain.ChainID, f)
	}

	alerts := alert.NewSink(store)
	planner := transferplan.NewPlanner(adapters)
	machine := stagemachine.New(store, adapters, assetRegistry, planner, alerts, nil)

	calculator := gasreimbursement.New(store, adapters, assetRegistry, gasreimbursement.Config{
		Enabled:            cfg.GasReimbursementEnabled,
		ReimbursementAsset: cfg.ReimbursementAsset,
	}, nil)

	watcher := latedeposit.New(store, adapters, dustThresholds, nil)

	eng := engine.New(cfg, engine.Deps{
		Store:       store,
		Adapters:    adapters,
		Machine:     machine,
		Calculator:  calculator,
		LateDeposit: watcher,
	}, alerts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng.Start(ctx)
	logger.Infow("brokerd started", "tick_interval", cfg.TickInterval(), "queue_interval", cfg.QueueInterval())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("brokerd shutting down")
	eng.Stop()
	return nil
}

// buildStore opens the production MySQL store and, if Kafka brokers
// were configured, wraps its DealRepo with eventbus's publishing
// decorator. Returns repository.Store either way so the caller doesn't
// need to know which path was taken.
func buildStore(c *cli.Context) (repository.Store, error) {
	dsn := c.String(dsnFlag.Name)
	if dsn == "" {
		return nil, fmt.Errorf("brokerd: -mysql-dsn (or BROKERD_MYSQL_DSN) is required")
	}
	store, err := sqlrepo.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("brokerd: failed to open store: %w", err)
	}

	brokers := c.StringSlice(kafkaBrokersFlag.Name)
	if len(brokers) == 0 {
		return store, nil
	}

	producer, err := eventbus.NewSaramaProducer(brokers, 3)
	if err != nil {
		return nil, fmt.Errorf("brokerd: failed to start kafka producer: %w", err)
	}
	publisher := eventbus.NewPublisher(producer, c.String(kafkaTopicFlag.Name))
	return &publishingStore{Store: store, publisher: publisher}, nil
}

// publishingStore overrides Deals() so every AddEvent call made
// anywhere through it also publishes, without the rest of the engine
// needing to know eventbus exists.
type publishingStore struct {
	repository.Store
	publisher *eventbus.Publisher
}

func (s *publishingStore) Deals() repository.DealRepo {
	return eventbus.NewPublishingDealRepo(s.Store.Deals(), s.publisher)
}

func (s *publishingStore) Close() error {
	if closer, ok := s.Store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
