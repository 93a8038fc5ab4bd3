package preempt

import (
	"math/bits"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// reservedTCB is a sentinel pointer placed in prioTable to mark a priority
// reserved by an in-flight create: distinguishes "empty" from "about to be
// populated" without leaving the slot looking free to a racing create on
// the same priority.
var reservedTCB = &TCB{}

// scheduler is the two-level bitmap ready set plus priority table.
// `readyGroup` bit r is 1 iff `readyTable[r]` is nonzero; the
// highest-priority ready task is found by a bit-scan of each.
type scheduler struct {
	maxPriority int
	readyGroup  uint8
	readyTable  []uint8
	prioTable   []*TCB
}

func newScheduler(maxPriority int) *scheduler {
	rows := maxPriority/8 + 1
	return &scheduler{
		maxPriority: maxPriority,
		readyTable:  make([]uint8, rows),
		prioTable:   make([]*TCB, maxPriority+1),
	}
}

func rowCol(prio int) (row, col int) {
	return prio >> 3, prio & 7
}

// Enqueue sets the row/column ready bits and installs tcb into prioTable.
// Caller holds critical section. Idempotent if tcb is already enqueued.
func (s *scheduler) Enqueue(tcb *TCB) {
	row, col := rowCol(tcb.priority)
	s.readyTable[row] |= 1 << uint(col)
	s.readyGroup |= 1 << uint(row)
	s.prioTable[tcb.priority] = tcb
}

// SetTaskUnready clears the column bit for tcb's priority; if the row byte
// becomes zero, the group bit is cleared too. Caller holds critical
// section. Does not touch prioTable: the TCB still occupies its priority
// slot, it's merely not ready (blocked, or currently running).
func (s *scheduler) SetTaskUnready(tcb *TCB) {
	row, col := rowCol(tcb.priority)
	s.readyTable[row] &^= 1 << uint(col)
	if s.readyTable[row] == 0 {
		s.readyGroup &^= 1 << uint(row)
	}
}

// FindHighestReadyPrio bit-scans the group then the indexed row. Returns
// maxPriority (the idle priority) when the group is empty: idle priority is
// implicitly ready whenever nothing else is.
func (s *scheduler) FindHighestReadyPrio() int {
	if s.readyGroup == 0 {
		return s.maxPriority
	}
	row := bits.TrailingZeros8(s.readyGroup)
	col := bits.TrailingZeros8(s.readyTable[row])
	return row*8 + col
}

// ReservePriority installs the reserved sentinel if prio is unoccupied.
// Returns false if a live task (or another in-flight reservation) already
// owns the slot.
func (s *scheduler) ReservePriority(prio int) bool {
	if s.prioTable[prio] != nil {
		return false
	}
	s.prioTable[prio] = reservedTCB
	return true
}

// ReleasePriority clears a reservation placed by ReservePriority. No-op if
// the slot has since been filled by a real TCB (create succeeded) or
// already cleared.
func (s *scheduler) ReleasePriority(prio int) {
	if s.prioTable[prio] == reservedTCB {
		s.prioTable[prio] = nil
	}
}

// Clear removes tcb from prioTable entirely (task deleted).
func (s *scheduler) Clear(prio int) {
	s.prioTable[prio] = nil
}

// setHighReady computes the highest-priority ready task and stores it into
// highReadyPrio/highReadyTCB.
func (k *Kernel) setHighReady() {
	prio := k.sched.FindHighestReadyPrio()
	k.highReadyPrio = prio
	if prio == k.sched.maxPriority && k.sched.prioTable[prio] == nil {
		k.highReadyTCB = k.idleTCB
	} else {
		k.highReadyTCB = k.sched.prioTable[prio]
	}
}

// requestContextSwitch is the scheduler's sole preemption trigger, called at
// the end of every operation that touched the ready set. Under critical
// section, recompute the highest-ready priority; if it
// strictly outranks the running task, and the CPU is neither nested in a
// simulated ISR nor holding the scheduler lock, trigger the deferred
// context-switch trap. Otherwise do nothing.
func (k *Kernel) requestContextSwitch() {
	k.setHighReady()
	if k.highReadyPrio < k.curPrio && k.ispNesting == 0 && k.lockCount == 0 {
		k.logSched(func(b *logiface.Builder[*stumpy.Event]) *logiface.Builder[*stumpy.Event] {
			return b.Int("from", k.curPrio).Int("to", k.highReadyPrio)
		}, "deferred switch triggered")
		k.port.TriggerDeferredSwitch()
	}
}
