// Package preempt error taxonomy.
package preempt

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by kernel entry points. All are comparable with
// [errors.Is].
var (
	// ErrPriorityInUse is returned by CreateSync/CreateAsync when the
	// requested priority already has a live task occupying it.
	ErrPriorityInUse = errors.New("preempt: priority already in use")

	// ErrPriorityInvalid is returned when a priority falls outside
	// [0, MAX_PRIORITY).
	ErrPriorityInvalid = errors.New("preempt: priority out of range")

	// ErrTaskNotExist is returned by Delete/ChangePriority when the given
	// task handle does not refer to a live TCB.
	ErrTaskNotExist = errors.New("preempt: task does not exist")

	// ErrCalledFromISR is returned by kernel operations that assert they
	// are never invoked from interrupt context (the simulated port's
	// alarm callback).
	ErrCalledFromISR = errors.New("preempt: illegal call from interrupt context")

	// ErrSchedulerLocked is returned by operations that are illegal while
	// the scheduler lock (Kernel.Lock) is held by the calling task.
	ErrSchedulerLocked = errors.New("preempt: scheduler is locked")

	// ErrAlarmChannelsExhausted is returned by TimerDriver.AllocateAlarm
	// when every alarm channel configured via WithAlarmCount is already in
	// use.
	ErrAlarmChannelsExhausted = errors.New("preempt: no free alarm channels")

	// ErrKernelAlreadyRunning is returned by Kernel.Start when the
	// dispatcher loop is already active.
	ErrKernelAlreadyRunning = errors.New("preempt: kernel is already running")

	// ErrDeleteSelf is returned by Delete when a task attempts to delete
	// itself; it must exit by returning instead.
	ErrDeleteSelf = errors.New("preempt: a task cannot delete itself")
)

// StackExhaustedError is a fatal, non-recoverable condition: the stack
// allocator could not satisfy a request of the given size from either its
// size-class free lists or the bump region.
type StackExhaustedError struct {
	Requested int
	Cause     error
}

func (e *StackExhaustedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("preempt: stack allocator exhausted (requested %d bytes): %v", e.Requested, e.Cause)
	}
	return fmt.Sprintf("preempt: stack allocator exhausted (requested %d bytes)", e.Requested)
}

func (e *StackExhaustedError) Unwrap() error { return e.Cause }

// ArenaExhaustedError is a fatal, non-recoverable condition: the TCB arena's
// bump region has no slots left for a new task.
type ArenaExhaustedError struct {
	Capacity int
}

func (e *ArenaExhaustedError) Error() string {
	return fmt.Sprintf("preempt: TCB arena exhausted (capacity %d)", e.Capacity)
}

// WrapError wraps an error with a message, preserving the cause chain for
// [errors.Is]/[errors.As].
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
