package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newReconcileCommand(root *rootOptions) *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Resolve orders whose POS outcome is unknown, once",
		Long: `Ask the POS for the status of every CREATED or SUBMITTED order older than
the grace period and move it to CONFIRMED or FAILED. Orders are never
submitted again. Prints a JSON report.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, log, err := loadConfig(root)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("grace") {
				grace = cfg.Workflow.ReconcileGrace
			}
			if minGrace := cfg.Workflow.MinReconcileGrace(); grace <= minGrace {
				return fmt.Errorf("--grace must be longer than %s (submit timeout plus ledger write)", minGrace)
			}

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.engine.Reconcile(ctx, grace)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().DurationVar(&grace, "grace", time.Minute, "only orders older than this are checked")
	return cmd
}
