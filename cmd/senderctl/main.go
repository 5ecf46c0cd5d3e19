package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/okynn/senderctl/internal/daemon"
	"github.com/okynn/senderctl/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "senderctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "senderctl",
		Short:         "Sender session orchestrator daemon",
		Long:          "senderctl keeps tenant sender sessions paired, connected, and supervised against the messaging gateway, and serves the tenant-facing management API.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		newRunCmd(),
		newCheckConfigCmd(),
	)
	return rootCmd
}

func newRunCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the orchestrator daemon",
		RunE: func(_ *cobra.Command, _ []string) error {
			logging.ConfigureRuntime()
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			d, err := daemon.New(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return d.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to TOML config (defaults apply when omitted)")
	return cmd
}

func newCheckConfigCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate a config file and print the effective settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok\n")
			fmt.Fprintf(cmd.OutOrStdout(), "  data_dir:     %s\n", cfg.DataDir)
			fmt.Fprintf(cmd.OutOrStdout(), "  listen_addr:  %s\n", cfg.ListenAddr)
			fmt.Fprintf(cmd.OutOrStdout(), "  gateway_addr: %s\n", cfg.Gateway.Addr)
			fmt.Fprintf(cmd.OutOrStdout(), "  gateway_tls:  %v\n", cfg.Gateway.TLS.Enabled)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to TOML config")
	return cmd
}
