package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Width(16)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync and queue state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		row := func(label, value string) {
			fmt.Printf("%s %s\n", labelStyle.Render(label), value)
		}

		if a.cfg.API.UserID == "" {
			row("Account", badStyle.Render("signed out"))
		} else {
			row("Account", a.cfg.API.UserID)
		}

		if a.online()() {
			row("Network", okStyle.Render("online"))
		} else {
			row("Network", warnStyle.Render("offline"))
		}

		last, err := a.db.LastSyncAt(ctx)
		if err != nil {
			return err
		}
		if last.IsZero() {
			row("Last sync", dimStyle.Render("never"))
		} else {
			row("Last sync", fmt.Sprintf("%s (%s ago)",
				last.Local().Format(time.RFC822),
				time.Since(last).Round(time.Second)))
		}

		pending, err := a.queue.PendingCount(ctx)
		if err != nil {
			return err
		}
		failed, err := a.queue.FailedCount(ctx)
		if err != nil {
			return err
		}
		row("Pending", fmt.Sprintf("%d", pending))
		if failed > 0 {
			row("Failed", badStyle.Render(fmt.Sprintf("%d (run `flit retry`)", failed)))
		}

		unconfirmed, err := a.db.UnconfirmedCount(ctx)
		if err != nil {
			return err
		}
		if unconfirmed > 0 {
			row("Unconfirmed", warnStyle.Render(fmt.Sprintf("%d (run `flit confirm --all`)", unconfirmed)))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
