package cmd

import (
	"context"

	config "github.com/curvewatch/indexer/configs"
	"github.com/curvewatch/indexer/internal/orchestrator"
	"github.com/curvewatch/indexer/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	retentionCmd = &cobra.Command{
		Use:   "retention",
		Short: "Delete processed logs older than the retention window once",
		Run: func(cmd *cobra.Command, args []string) {
			s, err := storage.NewStorageConnector(&config.Cfg.Storage)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to initialize storage")
			}
			defer s.Close()

			deleted, err := orchestrator.NewRetentionSweeper(s.LogStorage).RunOnce(context.Background())
			if err != nil {
				log.Fatal().Err(err).Msg("Retention sweep failed")
			}
			log.Info().Msgf("Deleted %d processed logs", deleted)
		},
	}
)
