package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/stepflow/pkg/mcp"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the stepflow MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, c.cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcp.NewStepflowServer(mcp.ServerDeps{
				Executor:  a.executor,
				Tester:    a.tester,
				Store:     a.store,
				Registry:  a.registry,
				Validator: a.validator,
				Logger:    a.logger,
			})
			a.logger.InfoContext(ctx, "serving MCP over stdio", "db_path", c.cfg.DBPath)
			if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

