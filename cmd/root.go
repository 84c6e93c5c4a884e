package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloudproof/internal/configuration"
	"cloudproof/internal/sample"
	"cloudproof/internal/server"
	"cloudproof/internal/source"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

type rootOptions struct {
	configPath string
	config     *configuration.AppConfig
	closeLog   func() error
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "cloudproof",
		Short:         "Turn CloudTrail activity into capped daily skill scores",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			config, err := configuration.LoadConfig(opts.configPath)
			if err != nil {
				slog.Error("Unable to load configuration", "error", err)
				return err
			}
			opts.config = config
			opts.closeLog = prepareLogger(config.Logger)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.closeLog != nil {
				return opts.closeLog()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("CLOUDPROOF_CONFIG"), "configuration file (YAML)")

	root.AddCommand(
		newServeCommand(opts),
		newRunCommand(opts),
		newLocalCommand(opts),
		newSampleCommand(),
	)
	return root
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, opts.config)
			if err != nil {
				slog.Error("Unable to initialize application", "error", err)
				return err
			}
			defer a.close(context.Background())

			// Deferred in this order so the loops stop and finish before the app closes.
			wait := startWorkers(ctx,
				func(ctx context.Context) { a.history.Serve(ctx, time.Minute) },
				func(ctx context.Context) { a.driver.Serve(ctx, opts.config.Ingestion.Interval) },
			)
			defer wait()
			defer cancel()

			router := server.NewApiV1Router(a.repo, a.history, a.driver, opts.config.Server.SampleDir, a.registry)
			srv := server.NewServer(opts.config.Server.Address, router, opts.config.Server.ReadTimeout, opts.config.Server.WriteTimeout)

			errCh := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()
			slog.Info("Server listening " + opts.config.Server.Address)

			select {
			case <-ctx.Done():
			case err := <-errCh:
				slog.Error("Server failed", "error", err)
				return err
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("Server shutdown", "error", err)
			}
			slog.Info("Server stopped")
			return nil
		},
	}
}

// startWorkers runs each loop in its own goroutine until ctx ends. The returned wait
// blocks until every loop has returned.
func startWorkers(ctx context.Context, loops ...func(context.Context)) (wait func()) {
	var wg sync.WaitGroup
	for _, loop := range loops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop(ctx)
		}()
	}
	return wg.Wait
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Ingest new CloudTrail logs of every user once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, opts.config)
			if err != nil {
				slog.Error("Unable to initialize application", "error", err)
				return err
			}
			defer a.close(context.Background())

			summary, err := a.driver.RunAll(ctx)
			if err != nil {
				slog.Error("Ingestion pass failed", "error", err)
				return err
			}
			return printJSON(cmd, summary)
		},
	}
}

func newLocalCommand(opts *rootOptions) *cobra.Command {
	var (
		userID int64
		dir    string
	)

	cmd := &cobra.Command{
		Use:   "local",
		Short: "Ingest CloudTrail files from a local directory for one user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				dir = opts.config.Server.SampleDir
			}
			if dir == "" {
				return errors.New("--dir or server.sample_dir must be set")
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, opts.config)
			if err != nil {
				slog.Error("Unable to initialize application", "error", err)
				return err
			}
			defer a.close(context.Background())

			user, err := a.localUser(ctx, userID)
			if err != nil {
				return err
			}

			report, err := a.driver.Run(ctx, user, source.NewLocalSource(dir), "local")
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 1, "user id the activities are attributed to")
	cmd.Flags().StringVar(&dir, "dir", "", "directory of *.json / *.json.gz CloudTrail files (default server.sample_dir)")
	return cmd
}

func newSampleCommand() *cobra.Command {
	opts := sample.DefaultOptions()
	var dir string

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Write synthetic CloudTrail files for local runs",
		// Configuration and logging are not needed to write files.
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary, err := sample.Generate(dir, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd, summary)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "sample_logs", "output directory")
	cmd.Flags().IntVar(&opts.Days, "days", opts.Days, "number of days to cover")
	cmd.Flags().IntVar(&opts.MaxEvents, "max-events", opts.MaxEvents, "maximum events per active day")
	cmd.Flags().Float64Var(&opts.ActiveRatio, "active-ratio", opts.ActiveRatio, "share of days with activity")
	cmd.Flags().Int64Var(&opts.Seed, "seed", opts.Seed, "random seed")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
