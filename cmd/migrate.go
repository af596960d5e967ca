package cmd

import (
	"github.com/curvewatch/indexer/db"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending postgres migrations",
		Run: func(cmd *cobra.Command, args []string) {
			if err := db.RunMigrations(); err != nil {
				log.Fatal().Err(err).Msg("Failed to run migrations")
			}
		},
	}
)
