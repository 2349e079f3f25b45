package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flitapp/flit-sync/internal/model"
)

var captureCmd = &cobra.Command{
	Use:   "capture [text...]",
	Short: "Capture a thought",
	Long: `Capture text into the local store. The capture is saved immediately
regardless of network state; classification and upload happen in the
background.

With no arguments, text is read from stdin:

  flit capture buy milk tomorrow
  pbpaste | flit capture`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		text := strings.Join(args, " ")
		if text == "" {
			raw, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read stdin: %w", err)
			}
			text = strings.TrimSpace(string(raw))
		}
		if text == "" {
			return fmt.Errorf("nothing to capture")
		}

		c := model.NewCapture(text, model.SourceText)
		if err := a.db.SaveCapture(ctx, c); err != nil {
			return err
		}
		if _, _, err := a.queue.Enqueue(ctx, c.ID, model.OpClassify); err != nil {
			return err
		}

		fmt.Printf("Captured %s\n", c.ID)

		// Try to settle it right away when the network allows; failure
		// here is fine, the queue keeps the work.
		if drainNow, _ := cmd.Flags().GetBool("now"); drainNow {
			r := a.runner()
			r.DrainOnce(ctx) // classify
			r.DrainOnce(ctx) // push what classification enqueued
		}
		return nil
	},
}

func init() {
	captureCmd.Flags().Bool("now", false, "classify and sync immediately instead of waiting for the daemon")
	rootCmd.AddCommand(captureCmd)
}
