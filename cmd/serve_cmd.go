package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yungbote/arfor-backend/internal/app"
	"github.com/yungbote/arfor-backend/internal/platform/shutdown"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := shutdown.NotifyContext(context.Background())
		defer stop()

		a, err := app.New(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize app: %w", err)
		}
		defer a.Close()

		if err := a.Run(ctx); err != nil {
			return fmt.Errorf("server exited: %w", err)
		}
		return nil
	},
}
