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

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/applybot/jobtracker/internal/api"
	"github.com/applybot/jobtracker/internal/config"
	"github.com/applybot/jobtracker/internal/db"
	"github.com/applybot/jobtracker/internal/job"
	"github.com/applybot/jobtracker/internal/logging"
	"github.com/applybot/jobtracker/internal/worker"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "jobtracker",
		Short:         "Job tracking backend for the application automation",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default $JOBTRACKER_CONFIG)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the job worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), config.Version)
		},
	})
	return root
}

func runServer(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.Debug)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"instance":  cfg.InstanceName,
		"port":      cfg.HTTPPort,
		"job_store": cfg.JobStore,
	}).Info("starting jobtracker")

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()

	opts := worker.Options{
		PollInterval:    cfg.Worker.PollInterval(),
		InitialProgress: cfg.Worker.InitialProgress,
		ProgressStep:    cfg.Worker.ProgressStep,
		ProgressCap:     cfg.Worker.ProgressCap,
	}
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("worker options: %w", err)
	}
	automation := &worker.CommandAutomation{
		Interpreter: cfg.Automation.Interpreter,
		Script:      cfg.Automation.Script,
		Dir:         cfg.Automation.Dir,
	}
	w := worker.New(store, automation, opts, logger)
	w.Start()

	requeued, err := w.Recover(context.Background())
	if err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}
	if requeued > 0 {
		logger.WithField("count", requeued).Info("requeued pending jobs")
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(cfg, store, w, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Addr()).Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-done:
	case err := <-serveErr:
		return fmt.Errorf("server: %w", err)
	}
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
	if err := w.Stop(ctx); err != nil {
		logger.WithError(err).Warn("worker still busy at shutdown, job will be failed on next start")
	}

	logger.Info("server stopped")
	return nil
}

func openStore(cfg *config.Config) (job.Store, error) {
	switch cfg.JobStore {
	case config.StoreBadger:
		dbStore, err := db.NewStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return job.NewKVStore(dbStore), nil
	default:
		return job.OpenSQLStore(cfg.DBPath)
	}
}
