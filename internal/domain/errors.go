package domain

import "errors"

var (
	// ErrConfiguration marks an invalid transition matrix, sensor profile or
	// other setting. Always raised before the first tick.
	ErrConfiguration = errors.New("plantpulse: invalid configuration")
	// ErrConnection marks an unreachable or lost live backend.
	ErrConnection = errors.New("plantpulse: live connection failed")
	// ErrSimulationStart marks a simulator that could not start.
	ErrSimulationStart = errors.New("plantpulse: simulation start failed")
	// ErrHandler wraps a failing event subscriber.
	ErrHandler = errors.New("plantpulse: event handler failed")
)
