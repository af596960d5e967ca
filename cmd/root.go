package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	configs "github.com/curvewatch/indexer/configs"
	"github.com/curvewatch/indexer/internal/env"
	"github.com/curvewatch/indexer/internal/fanout"
	customLogger "github.com/curvewatch/indexer/internal/log"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "indexer",
		Short: "Bonding-curve market indexer",
		Long:  "Scans the market contract, replays its events into market state and streams updates to websocket clients",
		Run: func(cmd *cobra.Command, args []string) {
			var hub *fanout.Hub
			if configs.Cfg.Gateway.Enabled {
				hub = fanout.NewHub()
				ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
				defer stop()
				go func() {
					if err := fanout.NewServer(&configs.Cfg.Gateway, hub).Start(ctx); err != nil {
						log.Fatal().Err(err).Msg("Fanout gateway failed")
					}
				}()
			}
			RunOrchestrator(hub)
		},
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/config.yml)")
	rootCmd.PersistentFlags().String("rpc-url", "", "RPC Url to use for the indexer")
	rootCmd.PersistentFlags().Int("rpc-concurrency", 0, "Maximum number of in-flight RPC calls")
	rootCmd.PersistentFlags().Int("rpc-rate-limit", 0, "Maximum RPC calls per second")
	rootCmd.PersistentFlags().String("log-level", "", "Log level to use for the application")
	rootCmd.PersistentFlags().Bool("log-prettify", false, "Whether to prettify the log output")
	rootCmd.PersistentFlags().String("contract-address", "", "Address of the market contract to index")
	rootCmd.PersistentFlags().Bool("scanner-enabled", true, "Toggle scanner")
	rootCmd.PersistentFlags().Int("scanner-interval", 5000, "How often to scan for new blocks in milliseconds")
	rootCmd.PersistentFlags().Int("scanner-blocks-per-batch", 10, "How many blocks to scan per batch")
	rootCmd.PersistentFlags().Int("scanner-from-block", 0, "From which block to start scanning")
	rootCmd.PersistentFlags().Bool("scanner-force-from-block", false, "Rewind the checkpoint to the from block on start")
	rootCmd.PersistentFlags().Bool("replay-enabled", true, "Toggle replay")
	rootCmd.PersistentFlags().Int("replay-interval", 5000, "How often to replay unprocessed logs in milliseconds")
	rootCmd.PersistentFlags().Int("replay-batch-limit", 5000, "Maximum number of logs per replay run")
	rootCmd.PersistentFlags().Bool("retention-enabled", true, "Toggle the monthly retention sweep")
	rootCmd.PersistentFlags().Bool("gateway-enabled", true, "Toggle the websocket gateway")
	rootCmd.PersistentFlags().Int("gateway-port", 3000, "Port of the websocket gateway")
	rootCmd.PersistentFlags().String("storage-postgres-host", "", "Postgres host")
	rootCmd.PersistentFlags().Int("storage-postgres-port", 0, "Postgres port")
	rootCmd.PersistentFlags().String("storage-postgres-database", "", "Postgres database")
	rootCmd.PersistentFlags().String("storage-redis-addr", "", "Redis address for shared run leases")
	rootCmd.PersistentFlags().Bool("publisher-enabled", false, "Toggle publishing notifications to Kafka")
	rootCmd.PersistentFlags().String("publisher-brokers", "", "Comma separated Kafka brokers")
	viper.BindPFlag("rpc.url", rootCmd.PersistentFlags().Lookup("rpc-url"))
	viper.BindPFlag("rpc.concurrency", rootCmd.PersistentFlags().Lookup("rpc-concurrency"))
	viper.BindPFlag("rpc.rateLimit", rootCmd.PersistentFlags().Lookup("rpc-rate-limit"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.prettify", rootCmd.PersistentFlags().Lookup("log-prettify"))
	viper.BindPFlag("contract.address", rootCmd.PersistentFlags().Lookup("contract-address"))
	viper.BindPFlag("scanner.enabled", rootCmd.PersistentFlags().Lookup("scanner-enabled"))
	viper.BindPFlag("scanner.interval", rootCmd.PersistentFlags().Lookup("scanner-interval"))
	viper.BindPFlag("scanner.blocksPerBatch", rootCmd.PersistentFlags().Lookup("scanner-blocks-per-batch"))
	viper.BindPFlag("scanner.fromBlock", rootCmd.PersistentFlags().Lookup("scanner-from-block"))
	viper.BindPFlag("scanner.forceFromBlock", rootCmd.PersistentFlags().Lookup("scanner-force-from-block"))
	viper.BindPFlag("replay.enabled", rootCmd.PersistentFlags().Lookup("replay-enabled"))
	viper.BindPFlag("replay.interval", rootCmd.PersistentFlags().Lookup("replay-interval"))
	viper.BindPFlag("replay.batchLimit", rootCmd.PersistentFlags().Lookup("replay-batch-limit"))
	viper.BindPFlag("retention.enabled", rootCmd.PersistentFlags().Lookup("retention-enabled"))
	viper.BindPFlag("gateway.enabled", rootCmd.PersistentFlags().Lookup("gateway-enabled"))
	viper.BindPFlag("gateway.port", rootCmd.PersistentFlags().Lookup("gateway-port"))
	viper.BindPFlag("storage.postgres.host", rootCmd.PersistentFlags().Lookup("storage-postgres-host"))
	viper.BindPFlag("storage.postgres.port", rootCmd.PersistentFlags().Lookup("storage-postgres-port"))
	viper.BindPFlag("storage.postgres.database", rootCmd.PersistentFlags().Lookup("storage-postgres-database"))
	viper.BindPFlag("storage.redis.addr", rootCmd.PersistentFlags().Lookup("storage-redis-addr"))
	viper.BindPFlag("publisher.enabled", rootCmd.PersistentFlags().Lookup("publisher-enabled"))
	viper.BindPFlag("publisher.brokers", rootCmd.PersistentFlags().Lookup("publisher-brokers"))
	rootCmd.AddCommand(orchestratorCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(retentionCmd)
}

func initConfig() {
	env.Load()
	if err := configs.LoadConfig(cfgFile); err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	customLogger.InitLogger()
}
