package main

import (
	"fmt"

	"github.com/crewlink-app/crewlink/internal/card"
	"github.com/spf13/cobra"
)

func newOutreachCmd() *cobra.Command {
	var (
		configPath     string
		counterpartyID int
		message        string
	)

	cmd := &cobra.Command{
		Use:   "outreach",
		Short: "Open a conversation with a counterparty and send a first message",
		Long: "Queues the message as an outreach draft, creates the conversation with " +
			"the counterparty if none exists, and sends the draft exactly once.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := loadClient(configPath)
			if err != nil {
				return err
			}
			s, err := client.newStore(cmd.Context())
			if err != nil {
				return err
			}

			if err := s.QueueOutreach(counterpartyID, message); err != nil {
				return err
			}
			conversation, err := s.EnsureConversation(cmd.Context(), counterpartyID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent to %s (conversation %s)\n",
				conversation.Counterpart.Name, conversation.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "crewlink.yaml", "path to Crewlink config file")
	cmd.Flags().IntVar(&counterpartyID, "counterparty", 0, "counterparty user ID (required)")
	cmd.Flags().StringVar(&message, "message", "", "opening message, at most 200 characters (required)")
	cmd.MarkFlagRequired("counterparty")
	cmd.MarkFlagRequired("message")
	return cmd
}

func newApplyCmd() *cobra.Command {
	var (
		configPath     string
		counterpartyID int
		applicationID  string
		jobPostingID   string
		title          string
		note           string
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply to a job posting via an embedded application card",
		Long: "Encodes a pending application card, queues it as an outreach draft toward " +
			"the posting's contractor, and delivers it once a conversation exists.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := loadClient(configPath)
			if err != nil {
				return err
			}
			s, err := client.newStore(cmd.Context())
			if err != nil {
				return err
			}

			body := card.EncodeApplication(card.Application{
				ID:           applicationID,
				JobPostingID: jobPostingID,
				Title:        title,
				Note:         note,
				Status:       card.StatusPending,
			})
			if err := s.QueueOutreach(counterpartyID, body); err != nil {
				return err
			}
			conversation, err := s.EnsureConversation(cmd.Context(), counterpartyID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied to %q (conversation %s)\n",
				title, conversation.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "crewlink.yaml", "path to Crewlink config file")
	cmd.Flags().IntVar(&counterpartyID, "counterparty", 0, "contractor user ID (required)")
	cmd.Flags().StringVar(&applicationID, "application-id", "", "application ID (required)")
	cmd.Flags().StringVar(&jobPostingID, "job-posting-id", "", "job posting ID (required)")
	cmd.Flags().StringVar(&title, "title", "", "job posting title (required)")
	cmd.Flags().StringVar(&note, "note", "", "note to the contractor")
	cmd.MarkFlagRequired("counterparty")
	cmd.MarkFlagRequired("application-id")
	cmd.MarkFlagRequired("job-posting-id")
	cmd.MarkFlagRequired("title")
	return cmd
}

func newDecideCmd() *cobra.Command {
	var (
		configPath     string
		conversationID string
		applicationID  string
		accept         bool
		reject         bool
	)

	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Accept or reject a pending application",
		Long: "Finds the latest copy of the application card in the conversation and " +
			"sends a new message carrying the decided copy. Already-decided " +
			"applications are refused.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if accept == reject {
				return fmt.Errorf("exactly one of --accept or --reject is required")
			}
			next := card.StatusAccepted
			if reject {
				next = card.StatusRejected
			}

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

			// The newest copy of the card is authoritative for its
			// current status.
			var latest *card.Application
			for _, m := range s.Messages() {
				if app := card.DecodeApplication(m.Body); app != nil && app.ID == applicationID {
					latest = app
				}
			}
			if latest == nil {
				return fmt.Errorf("application %s not found in conversation", applicationID)
			}

			body, err := card.EncodeApplicationUpdate(*latest, next)
			if err != nil {
				return err
			}
			if _, err := s.Send(cmd.Context(), body); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Application %s %s\n", applicationID, next)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "crewlink.yaml", "path to Crewlink config file")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation ID (required)")
	cmd.Flags().StringVar(&applicationID, "application-id", "", "application ID (required)")
	cmd.Flags().BoolVar(&accept, "accept", false, "accept the application")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the application")
	cmd.MarkFlagRequired("conversation")
	cmd.MarkFlagRequired("application-id")
	return cmd
}
