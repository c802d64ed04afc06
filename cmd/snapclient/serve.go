package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/snapncook/snapclient/internal/api/v1/routes"
	"github.com/snapncook/snapclient/internal/connections"
	"github.com/snapncook/snapclient/pkg/httpext"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local session bridge",
		Long: `Serve the local session bridge: the session snapshot and its websocket
stream, sign-in and account operations, recommendations, /healthz and
/metrics. Stops on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Serve.Addr
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}
			return serve(cmd.Context(), a, ln)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to serve.addr)")
	return cmd
}

func serve(ctx context.Context, a *app, ln net.Listener) error {
	manager := connections.NewManager(connections.DefaultTimeouts)
	srv := &http.Server{
		Handler:           routes.NewRouter(a.services, manager, a.registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().
		Str("addr", ln.Addr().String()).
		Str("session", a.services.GetSessionService().Snapshot().State.String()).
		Msg("Session bridge ready")

	return httpext.Serve(ctx, srv, ln, manager.CloseAll)
}
