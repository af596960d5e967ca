package cmd

import (
	"context"
	"os/signal"
	"syscall"

	config "github.com/curvewatch/indexer/configs"
	"github.com/curvewatch/indexer/internal/fanout"
	"github.com/curvewatch/indexer/internal/publisher"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	gatewayCmd = &cobra.Command{
		Use:   "gateway",
		Short: "Run the websocket gateway on its own",
		Long:  "Run the websocket gateway on its own, relaying notifications the indexer published to Kafka",
		Run: func(cmd *cobra.Command, args []string) {
			RunGateway()
		},
	}
)

func RunGateway() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	hub := fanout.NewHub()
	if config.Cfg.Publisher.Brokers != "" {
		relay, err := publisher.NewKafkaRelay(&config.Cfg.Publisher, hub)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start Kafka relay")
		}
		go relay.Run(ctx)
	} else {
		log.Warn().Msg("No Kafka brokers configured, the gateway will not receive notifications")
	}

	if err := fanout.NewServer(&config.Cfg.Gateway, hub).Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Fanout gateway failed")
	}
}
