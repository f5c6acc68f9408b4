// Package limits implements the resource-limit model (C2): an
// immutable, composable bundle of CPU, wall-time, memory, stack,
// process, and file-descriptor caps.
package limits

import (
	"fmt"
	"time"
)

// Limits bundles the resource caps enforced around one container
// invocation. Defaults() never leaves a field unset; Merge treats zero
// fields like any other value (partial specification goes through
// Override's nil pointers instead).
type Limits struct {
	CPUTime        time.Duration
	WallTime       time.Duration
	MemoryBytes    int64
	StackBytes     int64
	MaxProcesses   int64
	MaxOpenFiles   int64
	NetworkAllowed bool
}

// Override is a per-test partial specification merged over a base
// Limits. A nil field means "inherit".
type Override struct {
	CPUTime      *time.Duration
	WallTime     *time.Duration
	MemoryBytes  *int64
	StackBytes   *int64
	MaxProcesses *int64
	MaxOpenFiles *int64
}

// Field identifies which Limits field a LimitOutOfRange error concerns.
type Field string

const (
	FieldCPUTime      Field = "cpu_time"
	FieldWallTime     Field = "wall_time"
	FieldMemoryBytes  Field = "memory_bytes"
	FieldStackBytes   Field = "stack_bytes"
	FieldMaxProcesses Field = "max_processes"
	FieldMaxOpenFiles Field = "max_open_files"
	FieldInvariant    Field = "cpu_time<=wall_time"
)

// OutOfRangeError reports that a requested override exceeds a
// host-configured ceiling, or otherwise violates an invariant.
type OutOfRangeError struct {
	Field Field
	Msg   string
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("limit out of range (%s): %s", e.Field, e.Msg)
}

// Ceilings are the host-configured maximums a per-test Override may
// never exceed (spec.md §3: overrides may only reduce wall_time and
// memory_bytes below host ceilings).
type Ceilings struct {
	MaxWallTime    time.Duration
	MaxMemoryBytes int64
}

// Defaults returns the global default Limits (spec.md §3): 5s CPU,
// 10s wall, 128MiB memory, 64MiB stack, 50 processes, 100 open files,
// no network.
func Defaults() Limits {
	return Limits{
		CPUTime:        5 * time.Second,
		WallTime:       10 * time.Second,
		MemoryBytes:    128 * 1024 * 1024,
		StackBytes:     64 * 1024 * 1024,
		MaxProcesses:   50,
		MaxOpenFiles:   100,
		NetworkAllowed: false,
	}
}

// Merge applies override on top of base, field by field. The result
// always has NetworkAllowed = false: user code in this system is never
// permitted network access regardless of what an override requests.
func Merge(base Limits, override *Override) Limits {
	result := base
	result.NetworkAllowed = false
	if override == nil {
		return result
	}
	if override.CPUTime != nil {
		result.CPUTime = *override.CPUTime
	}
	if override.WallTime != nil {
		result.WallTime = *override.WallTime
	}
	if override.MemoryBytes != nil {
		result.MemoryBytes = *override.MemoryBytes
	}
	if override.StackBytes != nil {
		result.StackBytes = *override.StackBytes
	}
	if override.MaxProcesses != nil {
		result.MaxProcesses = *override.MaxProcesses
	}
	if override.MaxOpenFiles != nil {
		result.MaxOpenFiles = *override.MaxOpenFiles
	}
	return result
}

// Validate enforces the cpu_time <= wall_time invariant and, when
// ceilings are supplied, that wall_time and memory_bytes never exceed
// the host-configured maximums.
func Validate(l Limits, ceilings Ceilings) error {
	if l.CPUTime > l.WallTime {
		return &OutOfRangeError{Field: FieldInvariant, Msg: "cpu_time must not exceed wall_time"}
	}
	if ceilings.MaxWallTime > 0 && l.WallTime > ceilings.MaxWallTime {
		return &OutOfRangeError{Field: FieldWallTime, Msg: fmt.Sprintf("wall_time %s exceeds ceiling %s", l.WallTime, ceilings.MaxWallTime)}
	}
	if ceilings.MaxMemoryBytes > 0 && l.MemoryBytes > ceilings.MaxMemoryBytes {
		return &OutOfRangeError{Field: FieldMemoryBytes, Msg: fmt.Sprintf("memory_bytes %d exceeds ceiling %d", l.MemoryBytes, ceilings.MaxMemoryBytes)}
	}
	if l.CPUTime <= 0 || l.WallTime <= 0 {
		return &OutOfRangeError{Field: FieldWallTime, Msg: "cpu_time and wall_time must be positive"}
	}
	return nil
}
