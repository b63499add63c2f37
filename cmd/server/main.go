package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sombochea/tungo/internal/proxy"
	"github.com/sombochea/tungo/internal/registry"
	"github.com/sombochea/tungo/internal/server"
	"github.com/sombochea/tungo/pkg/config"
)

func main() {
	cfg, err := config.LoadServerConfig("")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	setupLogger(cfg)

	log.Info().Msg("Starting tungo server")
	log.Info().
		Str("server_id", cfg.ID).
		Str("host", cfg.Host).
		Int("control_port", cfg.ControlPort).
		Int("remote_port", cfg.RemotePort).
		Str("portal_host", cfg.PortalHost).
		Str("redis_url", cfg.RedisURL).
		Msg("Server configuration")

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	datastore, err := registry.NewRegistry(cfg.RedisURL, cfg.ID, slogger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize registry")
	}
	defer datastore.Close()

	if cfg.RedisURL == "" {
		log.Info().Msg("Using in-memory datastore (non-distributed mode)")
	} else {
		log.Info().Str("redis_url", cfg.RedisURL).Msg("Using Redis datastore (distributed mode)")
	}

	serverInfo := &registry.ServerInfo{
		ServerID:    cfg.ID,
		Host:        cfg.Host,
		ProxyPort:   cfg.RemotePort,
		ControlPort: cfg.ControlPort,
	}
	if err := datastore.RegisterServer(serverInfo); err != nil {
		log.Fatal().Err(err).Msg("Failed to register server")
	}
	datastore.StartHeartbeat(serverInfo)

	serverProxy := proxy.NewServerProxy(datastore, slogger)

	connMgr := server.NewConnectionManager(datastore, log.Logger, cfg.MaxConnections)

	auth := server.NewAnonymousAuthenticator()

	// Cross-server routing (dispatcher.tryCrossServerProxy, control server's
	// tunnel ownership bookkeeping) only applies in distributed mode; in
	// single-server mode datastore is an InMemoryRegistry and this is nil.
	distRegistry, _ := datastore.(*registry.DistributedRegistry)

	controlServer := server.NewControlServer(cfg, connMgr, auth, log.Logger, distRegistry)

	remoteDispatcher := server.NewRemoteDispatcher(cfg, connMgr, distRegistry, serverProxy, log.Logger)

	controlApp := fiber.New(fiber.Config{
		AppName:      "TunGo Control Server",
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	})

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // control handshake auth happens in the hello, not at the TCP/TLS layer
		},
	}

	controlApp.Get("/wormhole", adaptor.HTTPHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Msg("Failed to upgrade WebSocket")
			return
		}
		defer conn.Close()

		controlServer.HandleConnection(conn)
	})))

	controlApp.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":      "ok",
			"connections": connMgr.ActiveConnections(),
			"hosts":       connMgr.ListHosts(),
		})
	})

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.ControlPort)
		log.Info().Str("addr", addr).Msg("Control server listening")
		if err := controlApp.Listen(addr); err != nil {
			log.Fatal().Err(err).Msg("Control server failed")
		}
	}()

	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	go func() {
		if err := remoteDispatcher.ListenAndServe(dispatcherCtx); err != nil {
			log.Fatal().Err(err).Msg("Remote dispatcher failed")
		}
	}()

	go func() {
		metricsPort := 9090
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf("%s:%d", cfg.Host, metricsPort)
		log.Info().Str("addr", addr).Msg("Metrics server listening")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			activeConns := connMgr.ActiveConnections()
			if err := datastore.UpdateServerLoad(activeConns); err != nil {
				log.Warn().Err(err).Msg("Failed to update server load")
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down server...")

	cancelDispatcher()

	if err := controlApp.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Control server shutdown error")
	}

	log.Info().Msg("Server stopped")
}

func setupLogger(cfg *config.ServerConfig) {
	var level zerolog.Level
	switch cfg.LogLevel {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	case "fatal":
		level = zerolog.FatalLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
}
