package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	appconfig "github.com/thuanbk2010/simple-chat/internal/config"
	"github.com/thuanbk2010/simple-chat/internal/metrics"
	"github.com/thuanbk2010/simple-chat/internal/registry"
	"github.com/thuanbk2010/simple-chat/internal/relay"
	"github.com/thuanbk2010/simple-chat/internal/server"
)

const (
	serviceName    = "simple-chat"
	serviceVersion = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	relayMode := flag.String("mode", "", "UDP relay mode: broadcast or multicast (overrides config)")
	flag.Parse()

	// Load configuration, falling back to built-in defaults when no
	// file is given
	cfg := appconfig.Default()
	if *configPath != "" {
		loaded, err := appconfig.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Apply the relay mode flag
	if *relayMode != "" {
		cfg.Relay.Mode = *relayMode
		if err := cfg.Relay.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid relay mode: %v\n", err)
			os.Exit(1)
		}
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
	)

	logger.Info("Configuration loaded",
		slog.Int("tcp_port", cfg.Server.TCPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("udp_port", cfg.Relay.UDPPort),
		slog.String("relay_mode", cfg.Relay.Mode),
		slog.String("multicast_group", cfg.Relay.MulticastGroup),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()

	// Initialize the shared client registry, the only concurrently
	// shared mutable structure in the service
	reg := registry.NewRegistry(logger, appMetrics)

	// Initialize UDP relay
	udpRelay := relay.NewRelay(&cfg.Relay, logger, reg, appMetrics)

	// Initialize TCP chat server
	tcpServer := server.NewTCPServer(&cfg.Server, logger, reg, appMetrics)

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, reg, appMetrics)
	}

	// Start UDP relay
	if err := udpRelay.Start(); err != nil {
		logger.Error("Failed to start UDP relay", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start TCP chat server
	if err := tcpServer.Start(); err != nil {
		logger.Error("Failed to start TCP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start HTTP server (if enabled)
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("tcp_address", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.TCPPort)),
		slog.Int("udp_port", cfg.Relay.UDPPort),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop TCP server (closes listener and client connections)
	if err := tcpServer.Stop(); err != nil {
		logger.Error("Error stopping TCP server", slog.String("error", err.Error()))
	}

	// Stop UDP relay
	if err := udpRelay.Stop(); err != nil {
		logger.Error("Error stopping UDP relay", slog.String("error", err.Error()))
	}

	logger.Info("Service stopped", slog.Int("remaining_clients", reg.Count()))
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg appconfig.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
