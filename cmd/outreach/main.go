// Command outreach drives the outreach engine from the terminal, acting as
// the owner of one account.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/outreachpro/outreach/internal/app"
	"github.com/outreachpro/outreach/internal/config"
	"github.com/outreachpro/outreach/internal/logger"
	"github.com/spf13/cobra"
)

var (
	accountID string
	logLevel  string
	a         *app.App
)

var rootCmd = &cobra.Command{
	Use:           "outreach",
	Short:         "Import contacts, draft and send outreach email",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		level := cfg.Log.Level
		if logLevel != "" {
			level = logLevel
		}
		log := logger.NewWithWriter(os.Stderr, level, "text")

		a, err = app.New(cfg, log)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if a == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Close(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&accountID, "account", "a", os.Getenv("OUTREACH_ACCOUNT"), "account id (default $OUTREACH_ACCOUNT)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (default from config)")

	rootCmd.AddCommand(accountCmd(), tokenCmd(), creditsCmd(), importCmd(), contactsCmd(),
		previewCmd(), draftCmd(), sendCmd(), sendAllCmd(), batchCmd(), statsCmd(), historyCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func requireAccount() (string, error) {
	if accountID == "" {
		return "", errors.New("--account is required")
	}
	return accountID, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
