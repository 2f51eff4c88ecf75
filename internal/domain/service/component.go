package service

import (
	"context"

	"SignalPipe/internal/domain/models"
)

// Component is one long-running pipeline stage owned by the App.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health() models.ComponentHealth
}

// Cycle is the unit of work a component repeats on its poll interval. The
// returned summary is surfaced on /health.
type Cycle interface {
	RunCycle(ctx context.Context) (summary string, err error)
}
