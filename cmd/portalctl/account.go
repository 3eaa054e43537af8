package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muniportal/portal-auth/internal/core/domain"
	"github.com/muniportal/portal-auth/internal/core/port"
	"github.com/muniportal/portal-auth/internal/infra/database"
	"github.com/muniportal/portal-auth/internal/infra/security"
	postgresrepo "github.com/muniportal/portal-auth/internal/repository/postgres"
)

type accountInput struct {
	Username    string
	AlternateID string
	Password    string
	Roles       []string
}

func newAccountCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage portal accounts",
	}
	cmd.AddCommand(newAccountCreateCmd(state))
	return cmd
}

func newAccountCreateCmd(state *cliState) *cobra.Command {
	var in accountInput

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision an account with an Argon2id password hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := state.cfg

			hasher, err := security.NewPasswordHasher(security.Argon2Config{
				Memory:      cfg.Argon2.Memory,
				Iterations:  cfg.Argon2.Iterations,
				Parallelism: cfg.Argon2.Parallelism,
				SaltLength:  cfg.Argon2.SaltLength,
				KeyLength:   cfg.Argon2.KeyLength,
			})
			if err != nil {
				return fmt.Errorf("configure argon2: %w", err)
			}

			account, err := buildAccount(in, hasher, time.Now().UTC())
			if err != nil {
				return err
			}

			pool, err := database.NewPostgresPool(ctx, cfg.Postgres, state.logger)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			if err := postgresrepo.NewAccountRepository(pool).Create(ctx, account); err != nil {
				return fmt.Errorf("create account: %w", err)
			}

			state.logger.Info("account provisioned",
				zap.String("account_id", account.ID),
				zap.String("username", account.Username),
				zap.Strings("roles", account.Roles),
			)
			fmt.Fprintln(cmd.OutOrStdout(), account.ID)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&in.Username, "username", "", "login username")
	flags.StringVar(&in.AlternateID, "alternate-id", "", "optional badge or employee number accepted as identifier")
	flags.StringVar(&in.Password, "password", "", "initial password")
	flags.StringSliceVar(&in.Roles, "role", nil, "role to grant; repeatable")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func buildAccount(in accountInput, hasher port.PasswordHasher, now time.Time) (domain.Account, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return domain.Account{}, errors.New("username is required")
	}

	identifiers := []string{username}
	var alternateID *string
	if alt := strings.TrimSpace(in.AlternateID); alt != "" {
		alternateID = &alt
		identifiers = append(identifiers, alt)
	}

	if err := security.DefaultPasswordValidator(identifiers...).Validate(in.Password); err != nil {
		return domain.Account{}, err
	}

	hash, err := hasher.Hash(in.Password)
	if err != nil {
		return domain.Account{}, fmt.Errorf("hash password: %w", err)
	}

	roles := make([]string, 0, len(in.Roles))
	for _, role := range in.Roles {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}

	return domain.Account{
		ID:           uuid.NewString(),
		Username:     username,
		AlternateID:  alternateID,
		PasswordHash: hash,
		Roles:        roles,
		Status:       domain.AccountStatusActive,
		MFAState:     domain.MFAStateDisabled,
		CreatedAt:    now,
	}, nil
}
