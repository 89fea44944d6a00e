package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wyydra/meet/internal/adapter/driven/gateway/ws"
	repo "github.com/Wyydra/meet/internal/adapter/driven/persistence/memory"
	handler "github.com/Wyydra/meet/internal/adapter/driving/http"
	"github.com/Wyydra/meet/internal/config"
	"github.com/Wyydra/meet/internal/core/service"
	"github.com/Wyydra/meet/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	addr       string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "meet-server",
		Short: "Signaling server for two-party calls",
		Long: `meet-server pairs participants in named rooms and relays their
offers and answers over WebSocket. Media never passes through it.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to a TOML config file")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level (overrides config)")
	return cmd
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if err := logging.Setup(cfg.Log); err != nil {
		return err
	}

	presence := repo.NewPresenceRepository()
	hub := ws.NewHub()

	roomService := service.NewRoomService(presence, hub)
	relayService := service.NewRelayService(hub)
	signalingService := service.NewSignalingService(roomService, relayService, hub)
	h := handler.NewHandler(roomService, hub, cfg)

	go hub.Run(signalingService)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h.NewRouter(),
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Strs("allowed_origins", cfg.Server.AllowedOrigins).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	hub.Stop()
	log.Info().Msg("Server exited")
	return nil
}
