package main

import (
	"fmt"
	"os"
	"time"

	"pass-provisioning/internal/audit"
	"pass-provisioning/internal/catalog"
	"pass-provisioning/internal/models"
	"pass-provisioning/internal/subscription"
	"pass-provisioning/migrations"

	"github.com/spf13/cobra"
)

func transactionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transaction [tenant] [transactionId]",
		Short: "Show a processor transaction and the subscription it produced",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := connect(cmd)
			if err != nil {
				return err
			}
			defer closeDeps(deps)

			txn, err := deps.Payments.GetTransaction(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			out := struct {
				Transaction  *models.Transaction  `json:"transaction"`
				Subscription *models.Subscription `json:"subscription"`
			}{Transaction: txn}
			if !txn.Correlation().Empty() {
				out.Subscription, err = subscription.NewGuard(deps.Store).Check(cmd.Context(), txn.Correlation())
				if err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func subscriptionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subscriptions [tenant] [beneficiaryId]",
		Short: "List a beneficiary's subscriptions, newest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := connect(cmd)
			if err != nil {
				return err
			}
			defer closeDeps(deps)

			subs, err := deps.Store.ListByBeneficiary(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), subs)
		},
	}
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history [eventId]",
		Short: "Print the audit trail recorded for one payment event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := connect(cmd)
			if err != nil {
				return err
			}
			defer closeDeps(deps)

			entries, err := audit.NewPostgresSink(deps.Postgres.DB).History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return fmt.Errorf("no audit entries for event %s", args[0])
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}
}

func duplicatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "duplicates",
		Short: "List beneficiaries who bought the same pass twice in quick succession",
		RunE: func(cmd *cobra.Command, args []string) error {
			sinceRaw, _ := cmd.Flags().GetString("since")
			within, _ := cmd.Flags().GetDuration("within")

			since := time.Now().UTC().Add(-7 * 24 * time.Hour)
			if sinceRaw != "" {
				t, err := parseTime("since", sinceRaw)
				if err != nil {
					return err
				}
				since = t
			}

			deps, err := connect(cmd)
			if err != nil {
				return err
			}
			defer closeDeps(deps)

			groups, err := deps.Store.FindDuplicates(cmd.Context(), since, within)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), groups)
		},
	}

	cmd.Flags().String("since", "", "Only subscriptions created after this RFC3339 instant (default: 7 days ago)")
	cmd.Flags().Duration("within", 10*time.Minute, "Maximum gap between the two purchases")
	return cmd
}

func correctExpiryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correct-expiry [subscriptionId]",
		Short: "Move a subscription's expiry; it must stay after activation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("expires-at")
			if raw == "" {
				return fmt.Errorf("--expires-at is required")
			}
			expiresAt, err := parseTime("expires-at", raw)
			if err != nil {
				return err
			}

			deps, err := connect(cmd)
			if err != nil {
				return err
			}
			defer closeDeps(deps)

			before, err := deps.Store.GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := deps.Store.CorrectExpiry(cmd.Context(), args[0], expiresAt); err != nil {
				return err
			}
			deps.Logger.Info("Subscription expiry corrected", map[string]interface{}{
				"subscriptionId": before.ID,
				"tenantId":       before.TenantID,
				"from":           before.ExpiresAt,
				"to":             expiresAt,
			})
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", before.ID,
				before.ExpiresAt.Format(time.RFC3339), expiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().String("expires-at", "", "New expiry, RFC3339")
	return cmd
}

func seedPoliciesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed-policies [file]",
		Short: "Upsert pass policies from a JSON file into the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read policy file: %w", err)
			}
			inputs, err := catalog.ParsePolicyFile(raw)
			if err != nil {
				return err
			}
			if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d policies valid\n", args[0], len(inputs))
				return nil
			}

			deps, err := connect(cmd)
			if err != nil {
				return err
			}
			defer closeDeps(deps)

			var inv catalog.Invalidator
			if cached, ok := deps.Catalog.(catalog.Invalidator); ok {
				inv = cached
			}
			n, err := catalog.Seed(cmd.Context(), catalog.NewPostgresSource(deps.Postgres.DB), inv, inputs)
			fmt.Fprintf(cmd.OutOrStdout(), "Upserted %d of %d policies\n", n, len(inputs))
			return err
		},
	}

	cmd.Flags().Bool("dry-run", false, "Validate the file without writing")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			cfg.Database.Postgres.AutoMigrate = false
			cfg.Catalog.CacheEnabled = false
			cfg.Audit.EnableElasticsearch = false

			deps, err := connectWith(cmd, cfg, log)
			if err != nil {
				return err
			}
			defer closeDeps(deps)

			names, err := migrations.Names()
			if err != nil {
				return err
			}
			if err := migrations.Apply(cmd.Context(), deps.Postgres.DB); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrations up to date (%d known)\n", len(names))
			return nil
		},
	}
}
