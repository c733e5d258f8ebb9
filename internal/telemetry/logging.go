// Package telemetry wires up structured logging for the session/
// transaction core, in the same message-shape/call-site style this
// codebase's cmd entry points already log startup and lifecycle events,
// swapped from the standard library logger onto zap.
package telemetry

import (
	"go.uber.org/zap"
)

// NewLogger builds the process logger: development-friendly console
// encoding outside production, JSON encoding (for log aggregation) in
// it.
func NewLogger(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// WithComponent returns a child logger tagged with the component name,
// the convention every subsystem's logger should be built through
// rather than logging via the root logger directly.
func WithComponent(logger *zap.Logger, component string) *zap.Logger {
	return logger.With(zap.String("component", component))
}
