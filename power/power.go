package power

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Host suspends by sleeping. Retained state is kept by the caller in a
// retention store, so a real process restart during the sleep behaves the
// same as a resume.
type Host struct {
	logger *zap.Logger
}

// NewHost creates a host power manager
func NewHost(logger *zap.Logger) *Host {
	return &Host{logger: logger}
}

// Suspend blocks for d, or until ctx is cancelled
func (h *Host) Suspend(ctx context.Context, d time.Duration) error {
	h.logger.Debug("suspending", zap.Duration("duration", d))

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	h.logger.Debug("resumed", zap.Duration("duration", d))
	return nil
}
