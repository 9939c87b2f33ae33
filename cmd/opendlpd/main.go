// opendlpd is the OpenDLP selection daemon: it serves the selection API
// and runs the async workers that execute selection workflows.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sortitionfoundation/opendlp/async"
	"github.com/sortitionfoundation/opendlp/config"
	"github.com/sortitionfoundation/opendlp/db"
	"github.com/sortitionfoundation/opendlp/logger"
	"github.com/sortitionfoundation/opendlp/selection"
	"github.com/sortitionfoundation/opendlp/server"
	"github.com/sortitionfoundation/opendlp/source/csvdir"
	"github.com/sortitionfoundation/opendlp/stratify"
)

var (
	configFile string
	jsonLogs   bool
)

var rootCmd = &cobra.Command{
	Use:   "opendlpd",
	Short: "OpenDLP selection daemon",
	Long: `opendlpd runs the OpenDLP stratified-selection service.

It exposes an HTTP API for dispatching selection workflows against
configured assemblies, executes them on an async worker pool backed by
SQLite, and reconciles runs whose worker died.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the selection API server and workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: search for opendlp.toml)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit logs as JSON")

	rootCmd.AddCommand(serveCmd)
}

func serve() error {
	defer logger.Cleanup()
	log := logger.Logger

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	conn, err := db.Open(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := db.Migrate(conn, log); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := async.NewWorkerPool(ctx, conn, async.WorkerPoolConfig{
		Workers:      cfg.Selection.Workers,
		PollInterval: cfg.Selection.TickerInterval(),
	}, log)
	queue := pool.GetQueue()

	runs := selection.NewStore(conn)
	directory := config.NewDirectory(cfg)
	sources := csvdir.NewFactory(cfg.Selection.SourceBaseDir)

	executor := selection.NewExecutor(runs, sources, stratify.NewGreedy(), log)
	pool.Registry().Register(executor)

	dispatcher := selection.NewDispatcher(runs, queue, directory, directory, log)
	monitor := selection.NewHealthMonitor(runs, queue, cfg.Selection.SubmitGrace(), log)
	statusSvc := selection.NewStatusService(runs, queue, log)

	pool.Start()
	defer pool.Stop()

	sweeper := selection.NewSweeper(monitor, cfg.Selection.SweepInterval(), log)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	api := server.NewServer(cfg.Server.Port, dispatcher, statusSvc, monitor, queue, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- api.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Infow("Shutting down", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer shutdownCancel()

	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Warnw("Server shutdown was not clean", "error", err)
	}

	return nil
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFromFile(configFile)
	}
	return config.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
