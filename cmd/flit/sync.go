package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync with the remote service now",
	Long: `Pushes local changes and pulls remote ones immediately. The daemon
does this continuously; sync is for one-shot use or scripts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if a.cfg.API.UserID == "" {
			return fmt.Errorf("not signed in; run `flit login` first")
		}

		s := a.syncer()
		pushOnly, _ := cmd.Flags().GetBool("push-only")
		pullOnly, _ := cmd.Flags().GetBool("pull-only")

		switch {
		case pushOnly:
			result, err := s.Push(ctx, a.cfg.API.UserID)
			if err != nil {
				return err
			}
			reportSync(result.Pushed, 0, result.Message)
		case pullOnly:
			result, err := s.Pull(ctx, a.cfg.API.UserID)
			if err != nil {
				return err
			}
			reportSync(0, result.Pulled, result.Message)
		default:
			result, err := s.Sync(ctx, a.cfg.API.UserID)
			if err != nil {
				return err
			}
			reportSync(result.Pushed, result.Pulled, result.Message)
		}
		return nil
	},
}

func reportSync(pushed, pulled int, message string) {
	fmt.Printf("Pushed %d, pulled %d\n", pushed, pulled)
	if message != "" {
		fmt.Println(message)
	}
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Retry failed queue items",
	Long:  `Returns every terminally failed queue item to pending with a fresh retry budget.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		n, err := a.queue.RetryFailed(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Requeued %d failed items\n", n)
		return nil
	},
}

func init() {
	syncCmd.Flags().Bool("push-only", false, "push local changes without pulling")
	syncCmd.Flags().Bool("pull-only", false, "pull remote changes without pushing")
	rootCmd.AddCommand(syncCmd, retryCmd)
}
