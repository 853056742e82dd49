package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"pass-provisioning/internal/app"
	"pass-provisioning/internal/common/config"
	"pass-provisioning/internal/common/logger"

	"github.com/spf13/cobra"
)

var Version = "dev"

// errGapsFound makes the process exit 2 so cron wrappers can tell a dirty
// sweep from a failed one.
var errGapsFound = errors.New("reconciliation found gaps")

func main() {
	rootCmd := &cobra.Command{
		Use:           "reconcile",
		Short:         "Operator tooling for pass provisioning",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default: configs/config.yaml lookup)")

	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(transactionCmd())
	rootCmd.AddCommand(subscriptionsCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(duplicatesCmd())
	rootCmd.AddCommand(correctExpiryCmd())
	rootCmd.AddCommand(seedPoliciesCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errGapsFound) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command) (*config.Config, logger.Logger, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, err
	}

	// Reports go to stdout, so logs never do.
	output := cfg.Logging.Output
	if output == "" || output == "stdout" {
		output = "stderr"
	}
	return cfg, logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format, output), nil
}

// connect loads config and dials the stores. Zeebe is never needed here.
func connect(cmd *cobra.Command) (*app.Dependencies, error) {
	cfg, log, err := setup(cmd)
	if err != nil {
		return nil, err
	}
	return connectWith(cmd, cfg, log)
}

func connectWith(cmd *cobra.Command, cfg *config.Config, log logger.Logger) (*app.Dependencies, error) {
	return app.Connect(cmd.Context(), cfg, log, app.Options{ServiceName: "reconcile", SkipZeebe: true})
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseTime(flag, raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s: %w", flag, err)
	}
	return t.UTC(), nil
}

func closeDeps(deps *app.Dependencies) {
	deps.Close(context.Background())
}
