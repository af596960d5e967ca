package cmd

import (
	"context"
	"time"

	config "github.com/curvewatch/indexer/configs"
	"github.com/curvewatch/indexer/db"
	"github.com/curvewatch/indexer/internal/contract"
	"github.com/curvewatch/indexer/internal/fanout"
	"github.com/curvewatch/indexer/internal/notify"
	"github.com/curvewatch/indexer/internal/orchestrator"
	"github.com/curvewatch/indexer/internal/publisher"
	"github.com/curvewatch/indexer/internal/replay"
	"github.com/curvewatch/indexer/internal/rpc"
	"github.com/curvewatch/indexer/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	orchestratorCmd = &cobra.Command{
		Use:   "orchestrator",
		Short: "Run the scanner, replay engine and retention sweep",
		Long:  "Run the scanner, replay engine and retention sweep. Notifications go to Kafka when the publisher is enabled.",
		Run: func(cmd *cobra.Command, args []string) {
			RunOrchestrator(nil)
		},
	}
)

// RunOrchestrator blocks until the process is signalled. Notifications are
// delivered to hub when it is set.
func RunOrchestrator(hub *fanout.Hub) {
	log.Info().Msg("Starting indexer")

	if err := config.Cfg.Contract.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid contract configuration")
	}

	if config.Cfg.Migrations.AutoMigrate {
		if err := db.RunMigrations(); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := rpc.NewPool(ctx, rpc.PoolConfigFromConfig())
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize RPC")
	}
	defer pool.Close()
	chain := rpc.NewChainClient(pool)

	s, err := storage.NewStorageConnector(&config.Cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer s.Close()

	notifier, closeNotifier, err := newNotifier(hub)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize notifications")
	}
	defer closeNotifier()

	engine, err := newEngine(chain, s, notifier)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create replay engine")
	}

	orchestrator.NewOrchestrator(chain, s, engine).Start()
}

func newNotifier(hub *fanout.Hub) (notify.INotifier, func(), error) {
	notifiers := notify.Multi{}
	closer := func() {}
	if hub != nil {
		notifiers = append(notifiers, hub)
	}
	if config.Cfg.Publisher.Enabled {
		p, err := publisher.NewKafkaPublisher(&config.Cfg.Publisher)
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, p)
		closer = func() { p.Close() }
	}
	if len(notifiers) == 0 {
		log.Warn().Msg("Neither the gateway nor the publisher is enabled, notifications are dropped")
		return notify.Nop{}, closer, nil
	}
	return notifiers, closer, nil
}

func newEngine(chain rpc.IChainClient, s storage.IStorage, notifier notify.INotifier) (*replay.Engine, error) {
	curves, err := replay.NewCurveBook(config.Cfg.Curves)
	if err != nil {
		return nil, err
	}
	reader := contract.NewReader(chain, config.Cfg.Contract.Address)

	opts := []replay.EngineOption{replay.WithNotifier(notifier)}
	if config.Cfg.Contract.PrivateKey != "" {
		graduator, err := contract.NewGraduator(chain, contract.GraduatorConfig{
			ContractAddress: config.Cfg.Contract.Address,
			PrivateKey:      config.Cfg.Contract.PrivateKey,
			ChainID:         config.Cfg.Contract.ChainID,
			GasLimit:        config.Cfg.Contract.GasLimit,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, replay.WithGraduator(graduator))
	} else {
		log.Warn().Msg("No contract signing key configured, completed markets will not be graduated")
	}
	return replay.NewEngine(replay.ConfigFromConfig(), s, reader, curves, opts...), nil
}
