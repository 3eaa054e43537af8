package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muniportal/portal-auth/internal/infra/database"
)

func newMigrateCmd(state *cliState) *cobra.Command {
	var direction string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := database.Migrate(database.DSN(state.cfg.Postgres), direction); err != nil {
				return err
			}
			state.logger.Info("migrations applied", zap.String("direction", direction))
			return nil
		},
	}
	cmd.Flags().StringVar(&direction, "direction", "up", "migration direction: up or down")
	return cmd
}
