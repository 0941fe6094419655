package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/pubparam/pkg/config"
	"github.com/cuemby/pubparam/pkg/httpapi"
	"github.com/cuemby/pubparam/pkg/log"
	"github.com/cuemby/pubparam/pkg/metrics"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pubparam",
	Short: "pubparam - typed parameter registry with publish/subscribe",
	Long: `pubparam hosts a registry of named, typed parameters. Event loops
subscribe to state changes, owners receive write requests, and a deadline
scheduler posts one-shot and periodic messages to any loop.

Parameters are declared in a YAML, JSON or TOML configuration file.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"pubparam version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Configuration file (.yaml, .json or .toml)")

	runCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	runCmd.Flags().Bool("log-json", false, "Emit JSON logs")
	runCmd.Flags().String("metrics-addr", "", "Metrics, health and parameter listing address; overrides the config file")
	runCmd.Flags().Duration("list-interval", 0, "Log every parameter at this interval (0 disables)")
	runCmd.Flags().Bool("trace", false, "Subscribe a monitor loop to every visible parameter and log each new state")

	listCmd.Flags().Bool("json", false, "Print the parameters as one JSON object")
	listCmd.Flags().Bool("hidden", false, "Include hidden parameters in JSON output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkConfigCmd)
	rootCmd.AddCommand(listCmd)
}

// loadConfig reads --config, or returns the defaults when it is not set
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration %s: %w", path, err)
	}
	return cfg, nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the registry and scheduler until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.LogLevel = level
		}
		if cmd.Flags().Changed("log-json") {
			cfg.LogJSON, _ = cmd.Flags().GetBool("log-json")
		}
		if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
			cfg.MetricsAddr = addr
		}
		listInterval, _ := cmd.Flags().GetDuration("list-interval")
		trace, _ := cmd.Flags().GetBool("trace")

		log.Init(log.Config{
			Level:      log.ParseLevel(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})
		metrics.SetVersion(Version)

		rt, err := newRuntime(cfg)
		if err != nil {
			return fmt.Errorf("failed to build runtime: %w", err)
		}
		defer rt.close()
		rt.watchEvents()
		fmt.Printf("✓ Registry ready (%d/%d parameters)\n", rt.registry.Len(), rt.registry.Capacity())

		if trace {
			if err := rt.trace(); err != nil {
				return fmt.Errorf("failed to start tracing: %w", err)
			}
			fmt.Println("✓ Tracing parameter updates")
		}

		if err := rt.start(listInterval); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		fmt.Println("✓ Scheduler started")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		eg, ctx := errgroup.WithContext(ctx)
		if cfg.MetricsAddr != "" {
			srv := &http.Server{
				Addr:              cfg.MetricsAddr,
				Handler:           httpapi.NewRouter(rt),
				ReadHeaderTimeout: 5 * time.Second,
			}
			eg.Go(func() error {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("metrics server error: %w", err)
				}
				return nil
			})
			eg.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			fmt.Printf("✓ Metrics listening on %s\n", cfg.MetricsAddr)
		} else {
			eg.Go(func() error {
				<-ctx.Done()
				return nil
			})
		}

		fmt.Println()
		fmt.Println("pubparam is running. Press Ctrl+C to stop.")

		err = eg.Wait()
		fmt.Println("\nShutting down...")
		if err != nil {
			return err
		}
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate a configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		if path == "" {
			return fmt.Errorf("--config is required")
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		fmt.Printf("✓ %s is valid (%d parameters)\n", path, len(cfg.Parameters))
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Declare the configured parameters and print them",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		hidden, _ := cmd.Flags().GetBool("hidden")

		log.Init(log.Config{Level: log.ErrorLevel})
		rt, err := newRuntime(cfg)
		if err != nil {
			return err
		}
		defer rt.close()

		if asJSON {
			buf, err := rt.registry.ListJSON(hidden)
			if err != nil {
				return err
			}
			defer rt.registry.Free(buf)
			fmt.Println(string(buf))
			return nil
		}
		for _, line := range rt.listing() {
			fmt.Println(line)
		}
		return nil
	},
}
