// Package main provides the snapclient binary: a command line client for the
// Snap'n'Cook backend and the local session bridge it can serve.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/snapncook/snapclient/internal/apierr"
	"github.com/snapncook/snapclient/internal/config"
	"github.com/snapncook/snapclient/internal/services"
	"github.com/snapncook/snapclient/pkg/logger"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "snapclient"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", apierr.Message(err))
		stop()
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Snap'n'Cook session client",
		Long: `snapclient signs in to the Snap'n'Cook backend, keeps the session
fresh across runs and fetches recipe recommendations.

Credentials are kept in the configured store (a file by default) so every
command starts from the previous session.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		loginCmd(opts),
		logoutCmd(opts),
		signupCmd(opts),
		whoamiCmd(opts),
		profileCmd(opts),
		passwordCmd(opts),
		deleteAccountCmd(opts),
		recommendCmd(opts),
		oauthCmd(opts),
		serveCmd(opts),
	)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// app is what every command runs against.
type app struct {
	cfg      *config.Config
	services *services.Services
	registry *prometheus.Registry
}

func (a *app) Close() {
	if err := a.services.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close credential store")
	}
}

// setupLogging points both the namespaced logger and the global zerolog
// logger at stderr. A --log-level flag wins over the configured level.
func setupLogging(cfg *config.Config, flagLevel string) {
	level := cfg.Log.Level
	if flagLevel != "" {
		level = flagLevel
	}
	logger.SetLevel(level)
	logger.SetOutput(os.Stderr, cfg.Log.Pretty)

	zl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || zl == zerolog.NoLevel {
		zl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(zl)
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
}

// newApp loads configuration, wires the services and resolves the stored
// session. A revalidation failure that left the session in place is logged
// and otherwise ignored.
func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg, opts.logLevel)

	registry := prometheus.NewRegistry()
	svc, err := services.InitializeServices(ctx, cfg, registry)
	if err != nil {
		return nil, err
	}

	if err := <-svc.GetSessionService().Bootstrap(ctx); err != nil {
		log.Warn().Err(err).Str("state", svc.GetSessionService().Snapshot().State.String()).Msg("Session revalidation failed")
	}

	return &app{cfg: cfg, services: svc, registry: registry}, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
