package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/flitapp/flit-sync/internal/api"
	"github.com/flitapp/flit-sync/internal/syncer"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the capture service",
	Long: `Stores an API token for the capture service and binds this device to
your account. Signing in with a different account than the one this
device last synced with clears all local data first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			form := huh.NewForm(huh.NewGroup(
				huh.NewInput().
					Title("API token").
					Description("From your account page at flitapp.dev").
					EchoMode(huh.EchoModePassword).
					Value(&token),
			))
			if err := form.Run(); err != nil {
				return err
			}
		}
		if token == "" {
			return fmt.Errorf("no token provided")
		}

		// Validate the token and resolve the account it belongs to.
		client := api.NewClient(a.cfg.API.BaseURL, token, a.cfg.API.DeviceID,
			api.WithLogger(a.logger))
		acct, err := client.Me(ctx)
		if err != nil {
			if api.IsAuth(err) {
				return fmt.Errorf("token rejected; check it and try again")
			}
			return err
		}

		if err := a.cfg.SetCredentials(token, acct.UserID); err != nil {
			return err
		}

		// A different account must never see the previous one's data, so
		// the wipe happens here, not lazily at the next sync.
		wiped, err := syncer.NewGuard(a.db, a.logger).Ensure(ctx, acct.UserID)
		if err != nil {
			return err
		}

		fmt.Printf("Signed in as %s\n", acct.Email)
		if wiped {
			fmt.Println("This device belonged to a different account; local data was cleared. Run `flit sync` to fetch yours.")
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out",
	Long:  `Removes the stored token. Local data stays until a different account signs in.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.cfg.ClearCredentials(); err != nil {
			return err
		}
		fmt.Println("Signed out")
		return nil
	},
}

func init() {
	loginCmd.Flags().String("token", "", "API token (prompts interactively when omitted)")
	rootCmd.AddCommand(loginCmd, logoutCmd)
}
