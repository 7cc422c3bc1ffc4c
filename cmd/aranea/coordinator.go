package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/aranea/internal/broker"
	"github.com/ternarybob/aranea/internal/coordinator"
	"github.com/ternarybob/aranea/internal/handlers"
	"github.com/ternarybob/aranea/internal/server"
)

// runCoordinator starts the coordinator, its background loops and the
// dashboard HTTP server, then blocks until an interrupt
func runCoordinator() error {
	b := broker.NewRedis(&config.Redis, logger)
	defer b.Close()

	s, err := openJobStore()
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	defer s.Close()

	hub := handlers.NewWebSocketHandler(config.WebSocket, logger)

	coord := coordinator.New(b, s, hub, config, logger)
	hub.SetStatsProvider(coord)

	if err := coord.Start(); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}
	hub.StartDashboardBroadcaster()

	srv := server.New(coord, hub, config, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Coordinator ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Interrupt signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	hub.Shutdown()
	coord.Stop()

	logger.Info().Msg("Coordinator stopped")
	return nil
}
