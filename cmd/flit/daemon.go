package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/flitapp/flit-sync/internal/events"
	"github.com/flitapp/flit-sync/internal/inbox"
	"github.com/flitapp/flit-sync/internal/model"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: `Runs the queue drainer in the foreground: classifying captures,
pushing and pulling changes on the configured interval, and retrying
failures with backoff.

Optional extras, enabled in config or by flag:
  - inbox watcher: text files dropped into the inbox directory become captures
  - events server: a local WebSocket feed of capture and sync activity

Example:
  flit daemon
  flit daemon --inbox --events`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := signal.NotifyContext(context.Background(),
			os.Interrupt, syscall.SIGTERM)
		defer cancel()

		r := a.runner()
		if err := r.Start(ctx); err != nil {
			return err
		}
		defer r.Stop()

		withInbox, _ := cmd.Flags().GetBool("inbox")
		if withInbox || a.cfg.Inbox.Enabled {
			w, err := inbox.New(a.cfg.Inbox.Dir, a.db, a.dispatcher(), r, a.logger)
			if err != nil {
				return err
			}
			if err := w.Start(ctx); err != nil {
				return err
			}
			defer w.Stop()
			fmt.Printf("Watching inbox: %s\n", a.cfg.Inbox.Dir)
		}

		withEvents, _ := cmd.Flags().GetBool("events")
		if withEvents || a.cfg.Events.Enabled {
			srv := events.NewServer(a.cfg.Events.Port, a.logger)
			srv.AttachStore(a.db)
			r.SetSyncListener(func(op string, result *model.SyncResult) {
				srv.BroadcastSyncComplete(op, result)
				pending, perr := a.queue.PendingCount(ctx)
				failed, ferr := a.queue.FailedCount(ctx)
				if perr == nil && ferr == nil {
					srv.BroadcastQueueDepth(pending, failed)
				}
			})
			if err := srv.Start(); err != nil {
				return err
			}
			defer func() { _ = srv.Stop() }()
			fmt.Printf("Events feed: ws://%s/ws\n", srv.Addr())
		}

		a.logger.Info("daemon started",
			zap.Duration("interval", a.cfg.Sync.Interval))
		fmt.Println("Daemon running. Press Ctrl+C to stop.")

		r.TriggerProcessing()
		<-ctx.Done()
		fmt.Println("\nShutting down...")
		return nil
	},
}

func init() {
	daemonCmd.Flags().Bool("inbox", false, "watch the inbox directory for dropped files")
	daemonCmd.Flags().Bool("events", false, "serve the WebSocket events feed")
	rootCmd.AddCommand(daemonCmd)
}
