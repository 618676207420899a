package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMessagesCmd() *cobra.Command {
	var (
		configPath     string
		conversationID string
		pages          int
	)

	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Show a conversation's history and mark it read",
		Long: "Selects the conversation, fetches the newest history page (plus --pages " +
			"older ones), acknowledges it with a read receipt, and prints the messages " +
			"oldest first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := loadClient(configPath)
			if err != nil {
				return err
			}
			snapshot, err := client.requireLogin()
			if err != nil {
				return err
			}
			s, err := client.newStore(cmd.Context())
			if err != nil {
				return err
			}

			if err := s.Select(cmd.Context(), conversationID); err != nil {
				return err
			}
			for i := 1; i < pages && s.HasMore(); i++ {
				if err := s.LoadOlder(cmd.Context()); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			messages := s.Messages()
			if len(messages) == 0 {
				fmt.Fprintln(out, "No messages")
				return nil
			}
			if s.HasMore() {
				fmt.Fprintln(out, "(older messages not shown; use --pages to fetch more)")
			}
			for _, m := range messages {
				who := "them"
				if m.SenderID == snapshot.Profile.UserID {
					who = "you"
				}
				fmt.Fprintf(out, "%s  %-4s  %s\n",
					m.CreatedAt.Local().Format("2006-01-02 15:04"), who, previewBody(&m))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "crewlink.yaml", "path to Crewlink config file")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation ID (required)")
	cmd.Flags().IntVar(&pages, "pages", 1, "number of history pages to fetch")
	cmd.MarkFlagRequired("conversation")
	return cmd
}

func newSendCmd() *cobra.Command {
	var (
		configPath     string
		conversationID string
		body           string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message to a conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := loadClient(configPath)
			if err != nil {
				return err
			}
			s, err := client.newStore(cmd.Context())
			if err != nil {
				return err
			}
			if err := s.Select(cmd.Context(), conversationID); err != nil {
				return err
			}
			msg, err := s.Send(cmd.Context(), body)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent message %s\n", msg.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "crewlink.yaml", "path to Crewlink config file")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation ID (required)")
	cmd.Flags().StringVar(&body, "body", "", "message body (required)")
	cmd.MarkFlagRequired("conversation")
	cmd.MarkFlagRequired("body")
	return cmd
}
