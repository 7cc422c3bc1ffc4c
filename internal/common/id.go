package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewLinkID generates a unique link ID with the "link_" prefix
func NewLinkID() string {
	return "link_" + uuid.New().String()
}

// NewSatelliteID generates a unique satellite ID with the "sat_" prefix.
// Satellites keep this ID for their whole lifetime; it names their
// targeted control channel and their heartbeat entry.
func NewSatelliteID() string {
	return "sat_" + uuid.New().String()
}
