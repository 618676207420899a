package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/crewlink-app/crewlink/internal/models"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newLoginCmd() *cobra.Command {
	var (
		configPath string
		token      string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against the marketplace API",
		Long: "Stores an API token in the session file after verifying it against the " +
			"server. With no --token flag the token is prompted for without echo.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := loadClient(configPath)
			if err != nil {
				return err
			}

			if token == "" {
				fmt.Fprint(cmd.OutOrStdout(), "API token: ")
				raw, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(cmd.OutOrStdout())
				if err != nil {
					return fmt.Errorf("read token: %w", err)
				}
				token = strings.TrimSpace(string(raw))
			}
			if token == "" {
				return fmt.Errorf("token is required")
			}

			// Install the token, then verify it by fetching the caller's
			// own profile. A bad token comes back 401 and clears the
			// session again.
			client.session.Set(token, models.Profile{})
			profile, err := client.api.Me(cmd.Context())
			if err != nil {
				client.session.Clear()
				return err
			}
			client.session.Set(token, profile)

			if err := client.session.SaveFile(client.cfg.API.SessionFile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", profile.Name, profile.Role)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "crewlink.yaml", "path to Crewlink config file")
	cmd.Flags().StringVar(&token, "token", "", "API token (prompted when omitted)")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Clear the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := loadClient(configPath)
			if err != nil {
				return err
			}
			client.session.Clear()
			if err := client.session.SaveFile(client.cfg.API.SessionFile); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "crewlink.yaml", "path to Crewlink config file")
	return cmd
}
