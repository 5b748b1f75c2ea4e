package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/KRYPTOHAUS/hyperfeed/internal/rss"
	"github.com/KRYPTOHAUS/hyperfeed/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string
	var noPoll bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve hosted feeds over HTTP and keep them synced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, cmd, addr, noPoll)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&noPoll, "no-poll", false, "do not sync subscriptions in the background")
	return cmd
}

func runServe(ctx context.Context, rootOpts *RootOptions, cmd *cobra.Command, addr string, noPoll bool) error {
	a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	if addr == "" {
		addr = a.cfg.Addr
	}

	opts := server.Options{Secret: []byte(a.cfg.JWTSecret), Logger: a.log}
	if !noPoll {
		opts.Poller = rss.NewPoller(a.syncer, a.cfg.PollInterval, a.log)
	}
	if a.cfg.JWTSecret == "" {
		a.log.Warn(ctx, "no jwt secret configured; mutating routes are open")
	}
	return server.New(a.hub, a.syncer, opts).Run(ctx, addr)
}
