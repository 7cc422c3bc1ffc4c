package coordinator

import (
	"context"
	"time"

	"github.com/ternarybob/aranea/internal/models"
)

// satelliteMonitorLoop classifies satellite liveness from the heartbeat
// sorted set. Satellites outside the window count as inactive but are
// not removed; they may reappear.
func (c *Coordinator) satelliteMonitorLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.Queue.SchedulerInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.refreshSatellites(c.ctx); err != nil {
				c.logger.Warn().Err(err).Msg("Satellite liveness sweep failed")
			}
		}
	}
}

func (c *Coordinator) refreshSatellites(ctx context.Context) error {
	members, err := c.broker.ZRangeByScore(ctx, c.config.Queue.HeartbeatQueueSorted, 0, maxScore)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-c.config.Monitoring.CrawlerTimeout.Duration())
	satellites := make([]models.SatelliteInfo, 0, len(members))
	active := 0
	for _, m := range members {
		last := time.Unix(int64(m.Score), 0)
		info := models.SatelliteInfo{
			ID:            m.Member,
			LastHeartbeat: last,
			Active:        last.After(cutoff),
		}
		if info.Active {
			active++
		}
		satellites = append(satellites, info)
	}

	c.satMu.Lock()
	c.satellites = satellites
	c.satMu.Unlock()

	c.logger.Debug().
		Int("total", len(satellites)).
		Int("active", active).
		Msg("Satellite liveness refreshed")
	return nil
}
