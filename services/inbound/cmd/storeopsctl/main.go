package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"storeops/internal/util"
	"storeops/services/inbound/internal/config"
)

var (
	configPath string
	logLevel   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "storeopsctl",
		Short:         "Operate the storeops inbound service",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: util.ParseLevel(logLevel)})
			slog.SetDefault(slog.New(handler))
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the inbound config.yaml (default: $STOREOPS_CONFIG or ./config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "debug|info|warn|error")

	root.AddCommand(jobsCmd())
	root.AddCommand(storesCmd())
	root.AddCommand(injectCmd())
	return root
}

func loadConfig() (config.FileConfig, error) {
	path := configPath
	if path == "" {
		path = config.ConfigPath
	}
	return config.Load(path)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
