package interfaces

import (
	"github.com/ternarybob/aranea/internal/models"
)

// JobBroadcaster fans out telemetry to dashboard subscribers. The
// coordinator depends on this interface only, never on the hub itself.
type JobBroadcaster interface {
	// Broadcast sends a typed message to all connected subscribers
	Broadcast(messageType string, payload interface{})
	// JobUpdate broadcasts a job_update frame for the given job
	JobUpdate(job *models.Job)
	// Error broadcasts an error frame
	Error(message string)
}

// NopBroadcaster discards every message. Satellites and tests use it
// where no dashboard is attached.
type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(messageType string, payload interface{}) {}
func (NopBroadcaster) JobUpdate(job *models.Job)                         {}
func (NopBroadcaster) Error(message string)                              {}
