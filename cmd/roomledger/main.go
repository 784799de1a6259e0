package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/roomledger/internal/cmd/client"
	serverrun "github.com/rzbill/roomledger/internal/cmd/server"
	cfgpkg "github.com/rzbill/roomledger/internal/config"
	"github.com/rzbill/roomledger/internal/runtime"
	logpkg "github.com/rzbill/roomledger/pkg/log"
)

func main() {
	// .env values never override variables already set in the environment.
	if err := cfgpkg.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "load .env:", err)
	}

	rootCmd := &cobra.Command{
		Use:   "roomledger",
		Short: "RoomLedger availability reconciler",
		Long:  "RoomLedger consumes booking events and keeps per-room, per-day availability counters. This CLI runs the server and talks to a running one.",
	}
	rootCmd.PersistentFlags().String("api", clientcmd.APIURLFromEnv(), "HTTP API base URL for client commands")
	apiURL := func() string {
		v, _ := rootCmd.PersistentFlags().GetString("api")
		return v
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverCmd.AddCommand(newServerStartCommand())
	rootCmd.AddCommand(serverCmd)

	dedupCmd := &cobra.Command{Use: "dedup", Short: "Dedup ledger maintenance"}
	dedupCmd.AddCommand(newDedupSweepCommand())
	rootCmd.AddCommand(dedupCmd)

	rootCmd.AddCommand(
		clientcmd.NewBookingCommand(apiURL),
		clientcmd.NewAvailabilityCommand(apiURL),
		clientcmd.NewDeadLettersCommand(apiURL),
		clientcmd.NewHealthCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers the config file, ROOMLEDGER_* variables and explicit
// flags, in that order.
func loadConfig(cmd *cobra.Command) (cfgpkg.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfg, path, err
	}
	if err := cfgpkg.FromEnv(&cfg); err != nil {
		return cfg, path, err
	}
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.Storage.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("fsync") {
		cfg.Storage.Fsync, _ = flags.GetString("fsync")
	}
	if flags.Changed("http") {
		cfg.HTTP.Addr, _ = flags.GetString("http")
	}
	if flags.Changed("grpc") {
		cfg.GRPC.Addr, _ = flags.GetString("grpc")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Log.Format, _ = flags.GetString("log-format")
	}
	return cfg, path, nil
}

func addStorageFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", os.Getenv("ROOMLEDGER_CONFIG"), "Config file (.yaml, .yml or .json)")
	cmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	cmd.Flags().String("fsync", "always", "Fsync mode: always|interval|never")
}

func newServerStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the reconciler with gRPC and HTTP servers",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rawSeeds, _ := cmd.Flags().GetStringArray("seed")
			seeds := make([]serverrun.Seed, 0, len(rawSeeds))
			for _, s := range rawSeeds {
				seed, err := serverrun.ParseSeed(s)
				if err != nil {
					return err
				}
				seeds = append(seeds, seed)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{Config: cfg, ConfigPath: path, Seeds: seeds}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	addStorageFlags(cmd)
	cmd.Flags().String("http", ":8080", "HTTP listen address (empty disables)")
	cmd.Flags().String("grpc", ":50051", "gRPC listen address (empty disables)")
	cmd.Flags().String("log-level", "info", "Log level: debug|info|warn|error")
	cmd.Flags().String("log-format", "text", "Log format: text|json")
	cmd.Flags().StringArray("seed", nil, "Seed capacity as room:YYYY-MM-DD:capacity (repeatable)")
	return cmd
}

func newDedupSweepCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire dedup records and trim the event log once (server must be stopped)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Storage.DataDir == "" {
				cfg.Storage.DataDir = cfgpkg.DefaultDataDir()
			}
			logger, err := logpkg.ApplyConfig(&cfg.Log)
			if err != nil {
				return err
			}
			rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
			if err != nil {
				return err
			}
			defer rt.Close()
			st, err := rt.NewSweeper().SweepOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "dedup=%d applied=%d log_entries=%d\n", st.Dedup, st.Applied, st.LogEntries)
			return err
		},
	}
	addStorageFlags(cmd)
	return cmd
}
