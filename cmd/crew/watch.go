package main

import (
	"fmt"
	"io"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/crewlink-app/crewlink/internal/models"
	"github.com/crewlink-app/crewlink/internal/stream"
	"github.com/spf13/cobra"
)

// Reconnection backoff for the watch loop. The stream client itself never
// reconnects; this command owns the policy.
const (
	watchBaseBackoff = 2 * time.Second
	watchMaxBackoff  = 2 * time.Minute
)

func newWatchCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Tail live chat events",
		Long: "Opens the push-event stream and prints events as they arrive. Lost " +
			"connections are reopened with exponential backoff; the conversation list " +
			"is refreshed after every reconnect to catch missed events.",
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

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			wsURL, err := wsEndpoint(client.cfg.API.BaseURL)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			backoff := watchBaseBackoff
			for {
				failed := make(chan error, 1)
				handle, err := stream.Open(stream.Opts{
					URL:   wsURL,
					Token: snapshot.Token,
					OnEvent: func(ev models.ChatEvent) {
						s.HandleEvent(ctx, ev)
						printEvent(out, ev, snapshot.Profile.UserID)
					},
					OnError: func(err error) {
						failed <- err
					},
				})
				if err == nil {
					backoff = watchBaseBackoff
					// Catch up on anything pushed while we were away.
					if err := s.RefreshConversations(ctx); err != nil {
						fmt.Fprintf(out, "refresh failed: %v\n", err)
					}

					select {
					case <-ctx.Done():
						handle.Close()
						return nil
					case err := <-failed:
						fmt.Fprintf(out, "stream lost: %v\n", err)
					}
				} else {
					fmt.Fprintf(out, "connect failed: %v\n", err)
				}

				fmt.Fprintf(out, "reconnecting in %s\n", backoff)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > watchMaxBackoff {
					backoff = watchMaxBackoff
				}
			}
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "crewlink.yaml", "path to Crewlink config file")
	return cmd
}

// wsEndpoint derives the websocket URL from the API base URL.
func wsEndpoint(baseURL string) (string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base URL scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/chat/ws"
	return parsed.String(), nil
}

// printEvent renders one pushed event as a log line.
func printEvent(out io.Writer, ev models.ChatEvent, viewerID int) {
	switch ev.Event {
	case models.EventConnectionEstablished:
		fmt.Fprintln(out, "connected")
	case models.EventMessageCreated:
		who := "them"
		if ev.Message.SenderID == viewerID {
			who = "you"
		}
		fmt.Fprintf(out, "message in %s from %s: %s\n",
			ev.Message.ConversationID, who, previewBody(ev.Message))
	case models.EventConversationCreated:
		fmt.Fprintf(out, "new conversation %s with %s\n",
			ev.Conversation.ID, ev.Conversation.Counterpart.Name)
	case models.EventConversationRead:
		fmt.Fprintf(out, "conversation %s read by user %d\n", ev.ConversationID, ev.UserID)
	}
}
