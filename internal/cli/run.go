package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Joseda-hg/tasksync/internal/tui"
	"github.com/Joseda-hg/tasksync/internal/web"
)

func newTUICmd(app *App) *cobra.Command {
	var withWeb bool
	var port int
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Run the interactive terminal client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app.WebPort = port
			return runTUI(cmd, app, withWeb)
		},
	}
	cmd.Flags().BoolVar(&withWeb, "web", false, "Also serve the browser view")
	cmd.Flags().IntVar(&port, "port", 0, "Browser view port")
	return cmd
}

func newWebCmd(app *App) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "web",
		Short: "Serve only the browser view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app.WebPort = port
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, err := openEngine(ctx, app)
			if err != nil {
				return writeErr(cmd, err)
			}
			defer e.Close()
			if err := e.coord.Start(ctx); err != nil {
				e.logger.Warn("initial fetch failed", "error", err)
			}

			addr := web.ListenAddr(e.cfg.WebPort)
			fmt.Fprintf(cmd.OutOrStdout(), "Web view running at http://%s\n", addr)
			if err := web.NewServer(e.coord, e.logger).ListenAndServe(ctx, addr); err != nil {
				return writeErr(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Browser view port")
	return cmd
}

// runTUI drives the terminal client, with the browser view alongside when
// enabled. Leaving the TUI stops the web server too.
func runTUI(cmd *cobra.Command, app *App, withWeb bool) error {
	e, err := openEngine(cmd.Context(), app)
	if err != nil {
		return writeErr(cmd, err)
	}
	defer e.Close()

	group, ctx := errgroup.WithContext(cmd.Context())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := e.coord.Start(ctx); err != nil {
		// Shown in the task pane.
		e.logger.Warn("initial fetch failed", "error", err)
	}

	if withWeb || e.cfg.WebEnabled {
		addr := web.ListenAddr(e.cfg.WebPort)
		server := web.NewServer(e.coord, e.logger)
		group.Go(func() error {
			return server.ListenAndServe(ctx, addr)
		})
	}
	group.Go(func() error {
		defer cancel()
		return tui.Run(ctx, e.coord, e.logger)
	})

	if err := group.Wait(); err != nil {
		return writeErr(cmd, err)
	}
	return nil
}
