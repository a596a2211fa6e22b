package types

import (
	"fmt"
	"strings"
)

// ConfigValidationError reports every violation found while validating a
// configuration snapshot, not just the first. A rejected snapshot is never
// applied; the previous one stays live.
type ConfigValidationError struct {
	Violations []string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s", strings.Join(e.Violations, "; "))
}

// CircuitOpenError is surfaced when a protected call short-circuits on an
// open breaker and no fallback is registered for the dependency.
type CircuitOpenError struct {
	Name string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

// CapacityExceededError is returned when the optimizer's concurrency gate
// or wait queue is full.
type CapacityExceededError struct {
	Limit int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("concurrency capacity exceeded (limit %d)", e.Limit)
}

// SyncConflictError marks an item parked for manual conflict resolution.
// The item counts as neither success nor failure on its job.
type SyncConflictError struct {
	ItemID string
	Field  string
}

func (e *SyncConflictError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("sync conflict on item %q field %q requires manual resolution", e.ItemID, e.Field)
	}
	return fmt.Sprintf("sync conflict on item %q requires manual resolution", e.ItemID)
}

// EngineCallError wraps a driver error so resilience accounting can tell
// which engine failed. It unwraps to the driver error.
type EngineCallError struct {
	Engine string
	Op     string
	Err    error
}

func (e *EngineCallError) Error() string {
	return fmt.Sprintf("engine %s: %s: %v", e.Engine, e.Op, e.Err)
}

func (e *EngineCallError) Unwrap() error {
	return e.Err
}
