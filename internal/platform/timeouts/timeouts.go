// Package timeouts defines shared timeout constants used across the service.
// Centralizing these values prevents drift between layers and makes the
// durations discoverable.
package timeouts

import "time"

// StoreOp caps the wait time for a single invite store operation. A store
// call that exceeds it surfaces as a dependency failure, never as a conflict.
const StoreOp = 2 * time.Second

// NotifyDispatch caps the time the create path spends handing an invite
// notification to the dispatcher before giving up on best-effort delivery.
const NotifyDispatch = 5 * time.Second

// Shutdown limits how long the server waits for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second

// SweepInterval is the default cadence of the background expiry sweep.
const SweepInterval = 15 * time.Minute
