package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/tenant-ledger/cmd/api"
	"github.com/FACorreiaa/tenant-ledger/internal/domain/common"
	"github.com/FACorreiaa/tenant-ledger/pkg/db"
	"github.com/FACorreiaa/tenant-ledger/pkg/interceptors"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	run := func(name string, fn func(*db.DB) error) *cobra.Command {
		return &cobra.Command{
			Use:   name,
			Short: "Run goose " + name,
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				cfg, logger, err := setup()
				if err != nil {
					return err
				}
				database, err := api.OpenDatabase(cfg, logger)
				if err != nil {
					return err
				}
				defer database.Close()

				if err := fn(database); err != nil {
					return err
				}
				logger.Info("migrate finished", "command", name)
				return nil
			},
		}
	}

	cmd.AddCommand(
		run("up", (*db.DB).RunMigrations),
		run("down", (*db.DB).RollbackMigration),
		run("status", (*db.DB).MigrationStatus),
	)
	return cmd
}

type tokenOptions struct {
	userID   string
	tenantID uuid.UUID
	role     common.Role
	ttl      time.Duration
}

// newTokenCmd signs a development token with JWT_SECRET.
func newTokenCmd() *cobra.Command {
	var (
		opts   tokenOptions
		tenant string
		role   string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed tenant token for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			tok, err := interceptors.NewTenantAuth([]byte(cfg.Auth.JWTSecret)).IssueToken(&common.Claims{
				UserID:  opts.userID,
				Tenants: map[string]common.Role{opts.tenantID.String(): opts.role},
				RegisteredClaims: jwt.RegisteredClaims{
					Subject:   opts.userID,
					IssuedAt:  jwt.NewNumericDate(time.Now()),
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(opts.ttl)),
				},
			})
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant UUID (required)")
	cmd.Flags().StringVar(&role, "role", string(common.RoleEditor), "viewer, editor or owner")
	cmd.Flags().StringVar(&opts.userID, "user", "local-dev", "user id claim")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("tenant")

	cmd.PreRunE = func(*cobra.Command, []string) error {
		id, err := uuid.Parse(strings.TrimSpace(tenant))
		if err != nil {
			return fmt.Errorf("invalid --tenant: %w", err)
		}
		opts.tenantID = id

		opts.role = common.Role(strings.ToLower(strings.TrimSpace(role)))
		if !opts.role.Allows(common.RoleViewer) {
			return fmt.Errorf("invalid --role %q", role)
		}
		if opts.ttl <= 0 {
			return fmt.Errorf("--ttl must be positive")
		}
		return nil
	}
	return cmd
}
