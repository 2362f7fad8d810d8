package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/trellis/internal/fixtures"
	"github.com/Ramsey-B/trellis/internal/handlers"
	"github.com/Ramsey-B/trellis/internal/repositories/postgres"
	"github.com/Ramsey-B/trellis/pkg/database"
	"github.com/Ramsey-B/trellis/pkg/models"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withApp runs fn against a started app and always closes it.
func withApp(cmd *cobra.Command, opts *options, mode appMode, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, *opts, mode)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))
	return fn(ctx, a)
}

func reconcileCmd(opts *options) *cobra.Command {
	var tenantID string
	var full bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Derive links for a tenant from its cases, tickets and themes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode := models.RunModeIncremental
			if full {
				mode = models.RunModeFull
			}
			return withApp(cmd, opts, appMode{sinks: true}, func(ctx context.Context, a *app) error {
				report, err := a.engine.Run(ctx, tenantID, mode)
				if err != nil {
					return err
				}
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if report.Partial {
					return fmt.Errorf("run %s was partial: %d failed batches", report.RunID, len(report.FailedBatches))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant id")
	cmd.Flags().BoolVar(&full, "full", false, "Delete the tenant's links before writing")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func wipeCmd(opts *options) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Delete every link and theme link for a tenant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, appMode{sinks: true}, func(ctx context.Context, a *app) error {
				result, err := a.engine.Wipe(ctx, tenantID)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), result)
			})
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant id")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func linksCmd(opts *options) *cobra.Command {
	var tenantID string
	var filter models.LinkFilter
	var strategy string

	cmd := &cobra.Command{
		Use:   "links",
		Short: "List stored links with their strategy and confidence",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter.Strategy = models.Strategy(strategy)
			return withApp(cmd, opts, appMode{}, func(ctx context.Context, a *app) error {
				links, err := a.engine.Links(ctx, tenantID, filter)
				if err != nil {
					return err
				}
				if links == nil {
					links = []models.Link{}
				}
				return writeJSON(cmd.OutOrStdout(), links)
			})
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant id")
	cmd.Flags().StringVar(&filter.AccountID, "account", "", "Only links for this account id")
	cmd.Flags().StringVar(&filter.TicketID, "ticket", "", "Only links for this ticket id")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Only links made by this strategy")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func rollupCmd(opts *options) *cobra.Command {
	var tenantID, accountID, themeKey string
	var windowDays int

	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Summarize linked tickets for an account or a theme",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, appMode{}, func(ctx context.Context, a *app) error {
				var (
					rollup models.Rollup
					err    error
				)
				if accountID != "" {
					rollup, err = a.rollups.AccountRollup(ctx, tenantID, accountID, windowDays)
				} else {
					rollup, err = a.rollups.ThemeRollup(ctx, tenantID, themeKey, windowDays)
				}
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), rollup)
			})
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant id")
	cmd.Flags().StringVar(&accountID, "account", "", "Account id")
	cmd.Flags().StringVar(&themeKey, "theme", "", "Theme key")
	cmd.Flags().IntVar(&windowDays, "window-days", 0, "Resolved-recently window in days (default from config)")
	_ = cmd.MarkFlagRequired("tenant")
	cmd.MarkFlagsMutuallyExclusive("account", "theme")
	cmd.MarkFlagsOneRequired("account", "theme")
	return cmd
}

func serveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			migrate := opts.fixturesPath == ""
			a, err := newApp(ctx, *opts, appMode{sinks: true, migrate: migrate})
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			health := handlers.NewHealthHandler(Version, a.checks)
			e := handlers.NewServer(
				a.cfg.AppName,
				a.logger,
				handlers.NewReconcileHandler(a.engine, a.logger),
				handlers.NewRollupHandler(a.rollups),
				health,
			)
			e.Server.ReadTimeout = time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second
			e.Server.WriteTimeout = time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second

			errCh := make(chan error, 1)
			go func() {
				addr := fmt.Sprintf(":%d", a.cfg.Port)
				a.logger.WithField("addr", addr).Info("Starting HTTP server")
				errCh <- e.Start(addr)
			}()
			health.SetReady(true)

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			health.SetReady(false)
			a.logger.Info("Shutting down HTTP server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		},
	}
}

func migrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.fixturesPath != "" {
				return errors.New("migrate needs Postgres and cannot run with --fixtures")
			}
			cfg, logger, flush, err := loadBase(*opts)
			if err != nil {
				return err
			}
			defer flush()

			ctx := cmd.Context()
			db, err := database.Connect(ctx, database.ConnectionConfig{DSN: cfg.Database.DSN()}, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			return runMigrations(logger, cfg.Database, db)
		},
	}
}

// loadCmd copies a fixture file into Postgres, for seeding environments.
func loadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "load FILE",
		Short: "Load a YAML dataset into Postgres",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.fixturesPath != "" {
				return errors.New("load writes to Postgres and cannot run with --fixtures")
			}
			file, err := fixtures.Load(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, appMode{migrate: true}, func(ctx context.Context, a *app) error {
				store, ok := a.store.(*postgres.Store)
				if !ok {
					return errors.New("load requires the Postgres store")
				}
				for _, tenantID := range file.TenantIDs() {
					if err := store.Load(ctx, tenantID, file.Tenants[tenantID]); err != nil {
						return fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
					}
				}
				return nil
			})
		},
	}
}
