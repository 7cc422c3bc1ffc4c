package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/aranea/internal/broker"
	"github.com/ternarybob/aranea/internal/satellite"
)

// runSatellite starts one crawl worker and blocks until an interrupt.
// Satellites read job state from the same store the coordinator writes.
func runSatellite(id string) error {
	b := broker.NewRedis(&config.Redis, logger)
	defer b.Close()

	s, err := openJobStore()
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	defer s.Close()

	sat := satellite.New(id, b, s, config, logger)
	if err := sat.Start(); err != nil {
		return fmt.Errorf("failed to start satellite: %w", err)
	}

	logger.Info().
		Str("satellite_id", sat.ID()).
		Msg("Satellite ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Interrupt signal received")
	sat.Stop()
	return nil
}
