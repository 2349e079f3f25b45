// Command flit is the offline-first capture client: capture now, let
// classification and sync catch up whenever the network allows.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/flitapp/flit-sync/internal/api"
	"github.com/flitapp/flit-sync/internal/classify"
	"github.com/flitapp/flit-sync/internal/config"
	"github.com/flitapp/flit-sync/internal/logging"
	"github.com/flitapp/flit-sync/internal/queue"
	"github.com/flitapp/flit-sync/internal/runner"
	"github.com/flitapp/flit-sync/internal/store"
	"github.com/flitapp/flit-sync/internal/syncer"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "flit",
	Short: "Offline-first capture and sync",
	Long: `flit stores captures locally first, classifies them with AI when a
classifier is reachable, and syncs everything to your account in the
background. No capture is ever lost to a dead network.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.flit/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")
}

// app bundles everything a command needs.
type app struct {
	cfg    *config.Config
	db     *store.DB
	queue  *queue.Queue
	client *api.Client
	logger *zap.Logger
}

// openApp loads config, opens the store, and wires shared components.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Verbose:    verbose,
	})

	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	q := queue.New(db)
	q.MaxRetries = cfg.Sync.MaxRetries
	q.BaseDelay = cfg.Sync.BaseDelay
	q.MaxDelay = cfg.Sync.MaxDelay

	client := api.NewClient(cfg.API.BaseURL, cfg.API.Token, cfg.API.DeviceID,
		api.WithLogger(logger))

	return &app{cfg: cfg, db: db, queue: q, client: client, logger: logger}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
	_ = a.db.Close()
}

// classifier picks the configured backend.
func (a *app) classifier() classify.Classifier {
	switch a.cfg.Classifier.Backend {
	case config.BackendLocal:
		return classify.NewLocal()
	case config.BackendAnthropic:
		return classify.NewAnthropic(
			a.cfg.Classifier.AnthropicAPIKey,
			a.cfg.Classifier.AnthropicModel)
	default:
		return classify.NewRemote(a.client)
	}
}

func (a *app) syncer() *syncer.Syncer {
	return syncer.New(a.db, a.client, a.logger)
}

func (a *app) online() func() bool {
	return runner.NetChecker(a.cfg.API.BaseURL)
}

func (a *app) dispatcher() *classify.Dispatcher {
	online := a.online()
	if a.cfg.Classifier.Backend == config.BackendLocal {
		// The local classifier never needs the network; only push/pull do.
		online = func() bool { return true }
	}
	return classify.NewDispatcher(a.db, a.queue, a.classifier(), online, a.logger)
}

func (a *app) runner() *runner.Runner {
	cfg := runner.Config{
		Interval:           a.cfg.Sync.Interval,
		BatchSize:          a.cfg.Sync.BatchSize,
		TrashRetention:     a.cfg.TrashRetention(),
		CompletedRetention: queue.DefaultKeepComplete,
	}
	return runner.New(a.db, a.queue, a.dispatcher(), a.syncer(),
		a.online(), func() string { return a.cfg.API.UserID }, cfg, a.logger)
}
