package preempt

import (
	"sync/atomic"
)

// TaskState is the lifecycle state of a TCB.
//
// State Machine:
//
//	Unused (0) → Spawned (1)    [Kernel.CreateSync / CreateAsync]
//	Spawned (1) → Running (2)   [scheduler dispatch]
//	Running (2) → Waiting (3)   [DelayTick, WaitList block]
//	Waiting (3) → Spawned (1)   [timer fires / waiter woken, task becomes ready]
//	Running (2) → Spawned (1)   [preempted, still ready]
//	Running (2) → Unused (0)    [task returns or is Deleted]
//	Waiting (3) → Unused (0)    [task is Deleted while blocked]
//
// Use TryTransition (CAS) for every transition; a direct Store is only valid
// when reclaiming a slot after a task has definitively exited (no concurrent
// reader can observe the old state).
type TaskState uint32

const (
	// TaskUnused marks a free arena slot.
	TaskUnused TaskState = 0
	// TaskSpawned marks a task that is ready to run but not currently
	// holding the CPU.
	TaskSpawned TaskState = 1
	// TaskRunning marks the task currently holding the CPU token.
	TaskRunning TaskState = 2
	// TaskWaiting marks a task blocked on a timer or a WaitList.
	TaskWaiting TaskState = 3
)

// String returns a human-readable representation of the state.
func (s TaskState) String() string {
	switch s {
	case TaskUnused:
		return "Unused"
	case TaskSpawned:
		return "Spawned"
	case TaskRunning:
		return "Running"
	case TaskWaiting:
		return "Waiting"
	default:
		return "Unknown"
	}
}

// taskStateCell is a lock-free state machine with cache-line padding,
// guarding a single TCB's lifecycle state with pure atomic CAS.
type taskStateCell struct { // betteralign:ignore
	_ [64]byte      // cache line padding (before value)
	v atomic.Uint32 // state value
	_ [60]byte      // pad to complete cache line (64 - 4 = 60)
}

// newTaskStateCell creates a state cell in the Unused state.
func newTaskStateCell() *taskStateCell {
	s := &taskStateCell{}
	s.v.Store(uint32(TaskUnused))
	return s
}

// Load returns the current state atomically.
func (s *taskStateCell) Load() TaskState {
	return TaskState(s.v.Load())
}

// Store atomically stores a new state, bypassing CAS validation. Only valid
// for irreversible transitions (reclaiming a slot to Unused).
func (s *taskStateCell) Store(state TaskState) {
	s.v.Store(uint32(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *taskStateCell) TryTransition(from, to TaskState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// TransitionAny attempts to transition from any of several valid source
// states to the target state.
func (s *taskStateCell) TransitionAny(validFrom []TaskState, to TaskState) bool {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(uint32(from), uint32(to)) {
			return true
		}
	}
	return false
}

// IsLive reports whether the slot currently holds a task (any state other
// than Unused).
func (s *taskStateCell) IsLive() bool {
	return s.Load() != TaskUnused
}
