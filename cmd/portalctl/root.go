package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muniportal/portal-auth/internal/infra/config"
	"github.com/muniportal/portal-auth/internal/infra/logger"
)

type cliState struct {
	cfg    *config.AppConfig
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	state := &cliState{}

	root := &cobra.Command{
		Use:           "portalctl",
		Short:         "Operate the municipal portal auth service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log, err := logger.New(cfg.App.Env)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			state.cfg = cfg
			state.logger = log
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if state.logger != nil {
				_ = state.logger.Sync()
			}
		},
	}

	root.AddCommand(newMigrateCmd(state), newAccountCmd(state))
	return root
}
