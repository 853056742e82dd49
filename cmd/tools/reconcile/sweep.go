package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pass-provisioning/internal/app"
	"pass-provisioning/internal/reconcile"

	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Compare completed payments against granted subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}

			from, to, err := window(cmd, cfg.Reconcile.Window())
			if err != nil {
				return err
			}
			tenants, _ := cmd.Flags().GetStringSlice("tenant")
			if len(tenants) == 0 {
				tenants = cfg.TenantIDs()
			}
			if len(tenants) == 0 {
				return fmt.Errorf("no tenants configured; pass --tenant")
			}
			heal, _ := cmd.Flags().GetBool("heal")
			sendMail, _ := cmd.Flags().GetBool("report-email")
			asJSON, _ := cmd.Flags().GetBool("json")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := app.Connect(ctx, cfg, log, app.Options{ServiceName: "reconcile", SkipZeebe: true})
			if err != nil {
				return err
			}
			defer closeDeps(deps)

			sweeper := deps.NewSweeper(reconcile.Options{
				Window:      to.Sub(from),
				Concurrency: cfg.Reconcile.Concurrency,
				Heal:        heal,
			})
			report, err := sweeper.RunRange(ctx, tenants, from, to)
			if err != nil {
				return fmt.Errorf("sweep interrupted: %w", err)
			}

			if asJSON {
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				fmt.Fprint(cmd.OutOrStdout(), reconcile.Format(report))
			}

			if sendMail && !report.Clean() {
				reporter := deps.Reporter()
				if reporter == nil {
					log.Warn("Report email requested but SES or operators are not configured", nil)
				} else if err := reporter.Send(ctx, report); err != nil {
					return err
				}
			}

			if len(report.TenantErrors) > 0 {
				return fmt.Errorf("%d of %d tenants could not be swept", len(report.TenantErrors), len(tenants))
			}
			if report.GapCount() > report.Healed {
				return errGapsFound
			}
			return nil
		},
	}

	cmd.Flags().String("from", "", "Window start, RFC3339 (default: --to minus the configured window)")
	cmd.Flags().String("to", "", "Window end, RFC3339 (default: now)")
	cmd.Flags().StringSliceP("tenant", "t", nil, "Tenant to sweep; repeatable (default: all configured)")
	cmd.Flags().Bool("heal", false, "Provision missing subscriptions through the normal pipeline")
	cmd.Flags().Bool("report-email", false, "Mail the report to operators when it is not clean")
	cmd.Flags().Bool("json", false, "Print the report as JSON")

	return cmd
}

func window(cmd *cobra.Command, fallback time.Duration) (time.Time, time.Time, error) {
	fromRaw, _ := cmd.Flags().GetString("from")
	toRaw, _ := cmd.Flags().GetString("to")

	to := time.Now().UTC()
	if toRaw != "" {
		t, err := parseTime("to", toRaw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}

	if fallback <= 0 {
		fallback = 24 * time.Hour
	}
	from := to.Add(-fallback)
	if fromRaw != "" {
		t, err := parseTime("from", fromRaw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from must be before --to")
	}
	return from, to, nil
}
