package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/crewlink-app/crewlink/internal/chatserver"
	"github.com/crewlink-app/crewlink/internal/config"
	"github.com/crewlink-app/crewlink/internal/models"
	"github.com/crewlink-app/crewlink/internal/notify"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		seedDemo   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference chat server",
		Long: "Serves the chat REST API and websocket push channel, runs migrations on " +
			"startup, and schedules the unread digest when configured.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			db, err := chatserver.Connect(cfg.Server.DB)
			if err != nil {
				return err
			}
			if err := chatserver.AutoMigrate(db); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if seedDemo {
				for _, demo := range []struct{ email, role, name string }{
					{"contractor@example.com", models.RoleContractor, "Demo Contractor"},
					{"subcontractor@example.com", models.RoleSubcontractor, "Demo Subcontractor"},
				} {
					user, err := chatserver.SeedUser(db, demo.email, demo.role, demo.name)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s (%s): token %s\n", user.Email, user.Role, user.APIToken)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.Server.Digest.Schedule != "" {
				adapters, err := digestAdapters(cfg.Server.Digest)
				if err != nil {
					return err
				}
				minAge, err := time.ParseDuration(cfg.Server.Digest.MinAge)
				if err != nil {
					return fmt.Errorf("parse digest min_age: %w", err)
				}
				chatserver.StartDigest(ctx, db, cfg.Server.Digest.Schedule, minAge, adapters)
			}

			return chatserver.Start(ctx, chatserver.StartOpts{
				DB:   db,
				Port: cfg.Server.Port,
				Out:  out,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "crewlink.yaml", "path to Crewlink config file")
	cmd.Flags().BoolVar(&seedDemo, "seed-demo", false, "create demo users and print their tokens")
	return cmd
}

// digestAdapters builds the configured notification sinks.
func digestAdapters(cfg config.DigestConfig) ([]notify.Adapter, error) {
	var adapters []notify.Adapter
	if cfg.Slack.BotToken != "" {
		slack, err := notify.NewSlack(notify.SlackOpts{
			BotToken:  cfg.Slack.BotToken,
			ChannelID: cfg.Slack.ChannelID,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, slack)
	}
	if cfg.Discord.BotToken != "" {
		discord, err := notify.NewDiscord(notify.DiscordOpts{
			BotToken:  cfg.Discord.BotToken,
			ChannelID: cfg.Discord.ChannelID,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, discord)
	}
	return adapters, nil
}
