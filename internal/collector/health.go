package collector

import "github.com/pfrederiksen/local-events/internal/storage"

// HealthPolicy maps a source's rolling success rate to its status.
type HealthPolicy struct {
	// ErrorBelow is the rate, in percent, under which a source is in error.
	ErrorBelow float64
	// WarningBelow is the rate under which a source is in warning.
	WarningBelow float64
}

// DefaultHealthPolicy returns the 50/80 policy.
func DefaultHealthPolicy() HealthPolicy {
	return HealthPolicy{ErrorBelow: 50, WarningBelow: 80}
}

// Status returns the status after an attempt. A failed attempt never leaves
// the source active.
func (p HealthPolicy) Status(rate float64, succeeded bool) string {
	switch {
	case rate < p.ErrorBelow:
		return storage.StatusError
	case !succeeded || rate < p.WarningBelow:
		return storage.StatusWarning
	default:
		return storage.StatusActive
	}
}
