package client

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chatify/internal/chunk"
	"chatify/internal/conversation"
	"chatify/internal/storage"
	"chatify/internal/transport"

	"github.com/gookit/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var identityFlag string

func init() {
	chatCmd.Flags().StringVar(&identityFlag, "name", "", "identity to sign in with")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive chat session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		db, err := storage.NewBboltStorage(cfg.StateDB)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		out := cmd.OutOrStdout()
		session := NewSession(out, cfg.MaxImageSize, color.SupportColor())

		tr := transport.New(transport.Config{
			URL:               cfg.ServerURL,
			ReconnectAttempts: cfg.ReconnectAttempts,
			ReconnectDelay:    cfg.ReconnectDelay,
		})
		store := conversation.New(ctx, tr, db, conversation.Config{
			MaxMessageLength: cfg.MaxMessageLength,
			MaxImageSize:     cfg.MaxImageSize,
			ChunkSize:        cfg.ChunkSize,
			ChunkThreshold:   cfg.ChunkThreshold,
			ChunkDelay:       cfg.ChunkDelay,
			TypingTimeout:    cfg.TypingTimeout,
			Chunks: chunk.Config{
				Grace: cfg.ChunkGrace,
				Stale: cfg.ChunkStale,
			},
			OnChange: session.Render,
		})
		session.Attach(store)

		if identityFlag != "" {
			if err := store.SetIdentity(identityFlag); err != nil {
				return err
			}
		}
		if id := store.Identity(); id != "" {
			fmt.Fprintf(out, "signed in as %s\n", id)
		} else {
			fmt.Fprintln(out, "pick a name with /name <identity>, /help lists commands")
		}

		g, gCtx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return tr.Run(gCtx, store)
		})
		g.Go(func() error {
			defer cancel()
			return session.Run(gCtx, cmd.InOrStdin())
		})
		if err := g.Wait(); err != nil && err != context.Canceled {
			return err
		}
		return nil
	},
}
