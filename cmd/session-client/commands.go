package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"collaboration-client/config"
	"collaboration-client/internal/journal"
	"collaboration-client/internal/rest"
	"collaboration-client/internal/session"
)

const (
	FlagActivity    = "activity"
	FlagDescription = "description"
)

// GetConnectCmd joins a document session and keeps it open until the
// process is interrupted. Presence is announced on join.
func GetConnectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Join a document session and stay connected",
		RunE: func(cmd *cobra.Command, args []string) error {
			documentID, err := cmd.Flags().GetString(FlagDocument)
			if err != nil {
				return err
			}
			activity, err := cmd.Flags().GetString(FlagActivity)
			if err != nil {
				return err
			}

			logger, cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			var j *journal.Journal
			if cfg.JournalPath != "" {
				j, err = journal.Open(cfg.JournalPath, logger)
				if err != nil {
					return err
				}
				defer j.Close()
			}

			registry := newRegistry(cfg, j, logger)
			registry.Start()
			defer registry.Shutdown()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := registry.Connect(ctx, documentID); err != nil {
				return err
			}
			if err := registry.UpdateUserPresence(documentID, map[string]string{"activity": activity}); err != nil {
				logger.Warn("presence announcement failed", zap.Error(err))
			}

			logger.Info("session open, waiting for interrupt",
				zap.String("document_id", documentID),
				zap.String("status", string(registry.Status())))

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop

			return nil
		},
	}

	cmd.Flags().String(FlagDocument, "", "document to join")
	cmd.Flags().String(FlagActivity, "viewing", "activity announced on join")
	cmd.MarkFlagRequired(FlagDocument)

	return cmd
}

// GetSessionsCmd prints the sessions currently active on the server.
func GetSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List active sessions on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			registry := newRegistry(cfg, nil, logger)
			defer registry.Shutdown()

			sessions, err := registry.ActiveSessions(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(sessions))
			return nil
		},
	}
}

// GetHistoryCmd prints the server-side collaboration history feed.
func GetHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show the collaboration history feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			registry := newRegistry(cfg, nil, logger)
			defer registry.Shutdown()

			history, err := registry.History(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(history))
			return nil
		},
	}
}

// GetSnapshotCmd creates a named snapshot of a document.
func GetSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Create a document snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			documentID, err := cmd.Flags().GetString(FlagDocument)
			if err != nil {
				return err
			}
			description, err := cmd.Flags().GetString(FlagDescription)
			if err != nil {
				return err
			}

			logger, cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			registry := newRegistry(cfg, nil, logger)
			defer registry.Shutdown()

			snapshot, err := registry.Conflicts().CreateSnapshot(cmd.Context(), documentID, description)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(snapshot.Metadata))
			return nil
		},
	}

	cmd.Flags().String(FlagDocument, "", "document to snapshot")
	cmd.Flags().String(FlagDescription, "", "snapshot description")
	cmd.MarkFlagRequired(FlagDocument)

	return cmd
}

// setup loads the configuration and builds the logger from shared flags.
func setup(cmd *cobra.Command) (*zap.Logger, *config.Config, error) {
	env, err := cmd.Flags().GetString(FlagEnv)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(env)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(env)
	if err != nil {
		return nil, nil, err
	}
	return logger, cfg, nil
}

// newRegistry wires the REST client and session registry from config.
func newRegistry(cfg *config.Config, j *journal.Journal, logger *zap.Logger) *session.Registry {
	api := rest.NewClient(cfg.ServerURL, cfg.Token, &http.Client{Timeout: 15 * time.Second}, logger)

	sessionCfg := session.DefaultConfig(cfg.WSURL)
	sessionCfg.Token = cfg.Token
	sessionCfg.Reconnect = cfg.Reconnect
	sessionCfg.CursorTTL = cfg.CursorTTL

	return session.NewRegistry(sessionCfg, api, j, nil, logger)
}
