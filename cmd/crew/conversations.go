package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/crewlink-app/crewlink/internal/card"
	"github.com/crewlink-app/crewlink/internal/models"
	"github.com/spf13/cobra"
)

func newConversationsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "List conversations, newest activity first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := loadClient(configPath)
			if err != nil {
				return err
			}
			s, err := client.newStore(cmd.Context())
			if err != nil {
				return err
			}

			conversations := s.Conversations()
			out := cmd.OutOrStdout()
			if len(conversations) == 0 {
				fmt.Fprintln(out, "No conversations")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCOUNTERPART\tROLE\tUNREAD\tUPDATED\tLAST")
			for _, c := range conversations {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					c.ID, c.Counterpart.Name, c.Counterpart.Role, c.UnreadCount,
					c.UpdatedAt.Local().Format("2006-01-02 15:04"),
					previewBody(c.LastMessage))
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "crewlink.yaml", "path to Crewlink config file")
	return cmd
}

// previewBody renders a one-line preview of a message, replacing embedded
// cards with a readable tag.
func previewBody(m *models.Message) string {
	if m == nil {
		return ""
	}
	if jc := card.DecodeJobCard(m.Body); jc != nil {
		return fmt.Sprintf("[job] %s (%s)", jc.Title, jc.Trade)
	}
	if app := card.DecodeApplication(m.Body); app != nil {
		return fmt.Sprintf("[application %s] %s", app.Status, app.Title)
	}
	body := m.Body
	if len(body) > 48 {
		body = body[:45] + "..."
	}
	return body
}
