package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-cmms/cmd/cmms/cli"
	"github.com/odyssey-erp/odyssey-cmms/internal/app"
	"github.com/odyssey-erp/odyssey-cmms/internal/platform/db"
)

// exitCode carries a non-error process status such as "ledger drift found".
type exitCode int

func (c exitCode) Error() string {
	return fmt.Sprintf("exit status %d", int(c))
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	var code exitCode
	switch {
	case errors.As(err, &code):
		stop()
		os.Exit(int(code))
	case err != nil:
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cmms",
		Short:         "Maintenance inventory core: stock ledger, returns, meters and PM",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newLedgerCmd(), newJobsCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			if err := db.Migrate(cfg.PGDSN, logger); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
			return nil
		},
	}
}

func newLedgerCmd() *cobra.Command {
	ledger := &cobra.Command{
		Use:   "ledger",
		Short: "Stock ledger maintenance",
	}
	var opts cli.LedgerVerifyOptions
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Reconcile stock rows against the ledger (exit 10 on drift)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			pool, err := db.New(cmd.Context(), cfg.PGDSN)
			if err != nil {
				return err
			}
			defer pool.Close()
			services, err := app.NewServices(app.ServicesParams{Pool: pool, Config: cfg, Logger: logger})
			if err != nil {
				return err
			}
			if opts.Concurrency <= 0 {
				opts.Concurrency = cfg.LedgerAuditConcurrency
			}
			opts.Stdout = cmd.OutOrStdout()
			opts.Stderr = cmd.ErrOrStderr()
			if code := cli.NewLedgerCLI(services.Inventory).VerifyCommand(cmd.Context(), opts); code != 0 {
				return exitCode(code)
			}
			return nil
		},
	}
	verify.Flags().Int64Var(&opts.CompanyID, "company", 0, "company id, 0 for every company")
	verify.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "stock rows reconciled in parallel")
	verify.Flags().BoolVar(&opts.JSONOutput, "json", false, "print a JSON summary")
	ledger.AddCommand(verify)
	return ledger
}

func newJobsCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "jobs",
		Short: "Background job helpers",
	}
	var (
		companyID   int64
		concurrency int
	)
	trigger := &cobra.Command{
		Use:   "trigger <task>",
		Short: "Enqueue a job now (supported: inventory:ledger-audit)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadRuntime()
			if err != nil {
				return err
			}
			jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
			defer jobsCLI.Close()
			info, err := jobsCLI.Trigger(cmd.Context(), args[0], companyID, concurrency)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	trigger.Flags().Int64Var(&companyID, "company", 0, "company id, 0 for every company")
	trigger.Flags().IntVar(&concurrency, "concurrency", 0, "stock rows reconciled in parallel")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadRuntime()
			if err != nil {
				return err
			}
			jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
			defer jobsCLI.Close()
			queues, err := jobsCLI.InspectQueues(cmd.Context())
			if err != nil {
				return err
			}
			for _, q := range queues {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%-10s pending=%d active=%d scheduled=%d retry=%d failed=%d\n",
					q.Queue, q.Pending, q.Active, q.Scheduled, q.Retry, q.Failed)
			}
			return nil
		},
	}
	root.AddCommand(trigger, stats)
	return root
}

func loadRuntime() (*app.Config, *slog.Logger, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, app.NewLogger(cfg), nil
}
