package preempt

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// create.go implements task creation, deletion, and priority change. A
// synchronous task runs in its own goroutine and hands control back to the
// owning dispatcher through a channel-based handshake, the same shape used
// elsewhere in this package to move a result back onto the owning loop
// goroutine.

// CreateAsync installs a cooperative task: producer is called once, eagerly,
// to build its Future state machine. Validation, priority reservation, arena
// allocation, TCB population, and enqueue all run under one continuous
// critical section.
func (k *Kernel) CreateAsync(priority int, producer func() Future) (*TCB, error) {
	if priority < 0 || priority >= k.maxPriority {
		return nil, ErrPriorityInvalid
	}

	cookie := k.port.EnterCritical()
	defer k.port.ExitCritical(cookie)

	if k.ispNesting > 0 {
		return nil, ErrCalledFromISR
	}
	if !k.sched.ReservePriority(priority) {
		return nil, ErrPriorityInUse
	}

	tcb := k.arena.Alloc()

	tcb.kernel = k
	tcb.priority = priority
	tcb.row, tcb.col = rowCol(priority)
	tcb.stat = newTaskStateCell()
	tcb.expiresAt = tickMax
	tcb.pollFn = pollFnCooperative
	tcb.future = producer()

	tcb.stat.TryTransition(TaskUnused, TaskSpawned)
	k.sched.Enqueue(tcb)

	if k.running.Load() && priority < k.curPrio {
		k.requestContextSwitch()
	}

	k.logCreate(nil, "async task created")
	return tcb, nil
}

// CreateSync installs a thread-style task: fn runs on its own dedicated
// goroutine, starting the moment the dispatcher first selects it, and
// returning to retire itself. The first dispatch runs fn to completion, or
// until it blocks on a wait primitive.
func (k *Kernel) CreateSync(priority int, fn func(k *Kernel)) (*TCB, error) {
	if priority < 0 || priority >= k.maxPriority {
		return nil, ErrPriorityInvalid
	}

	cookie := k.port.EnterCritical()
	defer k.port.ExitCritical(cookie)

	if k.ispNesting > 0 {
		return nil, ErrCalledFromISR
	}
	if !k.sched.ReservePriority(priority) {
		return nil, ErrPriorityInUse
	}

	tcb := k.arena.Alloc()
	stackRef := k.stacks.Alloc(k.taskStackSize)
	k.logStack(func(b *logiface.Builder[*stumpy.Event]) *logiface.Builder[*stumpy.Event] {
		return b.Int("class", stackRef.Class())
	}, "task stack allocated")

	tcb.kernel = k
	tcb.priority = priority
	tcb.row, tcb.col = rowCol(priority)
	tcb.stat = newTaskStateCell()
	tcb.expiresAt = tickMax
	tcb.entry = fn
	tcb.savedStack = stackRef
	tcb.needsStackSave = true

	k.port.MockInitialStack(stackRef, func() {
		defer func() {
			if r := recover(); r != nil {
				if _, ok := r.(taskDeletedSignal); ok {
					return
				}
				panic(r)
			}
		}()
		fn(k)
		k.retireTask(tcb)
	})

	tcb.stat.TryTransition(TaskUnused, TaskSpawned)
	k.sched.Enqueue(tcb)

	if k.running.Load() && priority < k.curPrio {
		k.requestContextSwitch()
	}

	k.logCreate(nil, "sync task created")
	return tcb, nil
}

// Delete removes a live, non-running task. Self-deletion is rejected: a
// thread-mode task's goroutine is the caller in that case, and there is no
// way to reclaim its stack out from under code still executing on it —
// real task bodies exit by returning instead (see DESIGN.md).
func (k *Kernel) Delete(tcb *TCB) error {
	cookie := k.port.EnterCritical()
	defer k.port.ExitCritical(cookie)

	if !tcb.stat.IsLive() {
		return ErrTaskNotExist
	}
	if tcb == k.curTCB {
		return ErrDeleteSelf
	}

	k.sched.SetTaskUnready(tcb)
	k.sched.Clear(tcb.priority)
	k.timerQ.Remove(tcb)
	if tcb.inWaitList {
		tcb.waitList.unlink(tcb)
	}

	ref := tcb.savedStack
	tcb.stat.Store(TaskUnused)
	tcb.future = nil
	tcb.pollFn = nil
	tcb.savedStack = nil
	tcb.entry = nil

	k.setHighReady()

	if ref != nil {
		ref.resume <- false
		k.stacks.Free(ref)
	}

	k.logCreate(nil, "task deleted")
	return nil
}

// ChangePriority remaps a live task to newPriority, preserving its ready,
// waiting, or timer-queue membership across the move. Fails with
// ErrPriorityInUse if newPriority is already occupied by a different task.
func (k *Kernel) ChangePriority(tcb *TCB, newPriority int) error {
	if newPriority < 0 || newPriority >= k.maxPriority {
		return ErrPriorityInvalid
	}

	cookie := k.port.EnterCritical()
	defer k.port.ExitCritical(cookie)

	if !tcb.stat.IsLive() {
		return ErrTaskNotExist
	}
	if newPriority == tcb.priority {
		return nil
	}
	if !k.sched.ReservePriority(newPriority) {
		return ErrPriorityInUse
	}

	wasReady := tcb.stat.Load() == TaskSpawned
	if wasReady {
		k.sched.SetTaskUnready(tcb)
	}
	k.sched.Clear(tcb.priority)

	tcb.priority = newPriority
	tcb.row, tcb.col = rowCol(newPriority)
	k.sched.ReleasePriority(newPriority)

	if wasReady {
		k.sched.Enqueue(tcb)
	} else {
		k.sched.prioTable[newPriority] = tcb
	}

	k.setHighReady()
	if tcb == k.curTCB {
		k.curPrio = newPriority
	}
	k.requestContextSwitch()

	k.logCreate(nil, "task priority changed")
	return nil
}
