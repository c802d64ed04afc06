// Command mockapi serves an in-memory Snap'n'Cook backend for local
// development of snapclient.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/snapncook/snapclient/internal/config"
	"github.com/snapncook/snapclient/internal/mockapi"
	"github.com/snapncook/snapclient/pkg/httpext"
	"github.com/snapncook/snapclient/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		addr   string
		prefix string
	)

	cmd := &cobra.Command{
		Use:          "mockapi",
		Short:        "Serve an in-memory Snap'n'Cook backend",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.GetMockAPIConfig()
			if addr == "" {
				addr = cfg.Addr
			}

			opts := mockapi.OptionsFromConfig(cfg)
			opts.Prefix = prefix
			server := mockapi.NewServer(opts, nil)

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}
			logger.Info(logger.MOCKAPI, "Mock backend at http://%s%s (access ttl %s)", ln.Addr(), prefix, cfg.AccessTTL)

			srv := &http.Server{Handler: server, ReadHeaderTimeout: 5 * time.Second}
			return httpext.Serve(cmd.Context(), srv, ln, nil)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to MOCKAPI_ADDR)")
	cmd.Flags().StringVar(&prefix, "prefix", "/api", "Path prefix the API is mounted under")
	return cmd
}
