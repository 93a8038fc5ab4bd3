package preempt

// wait.go implements the blocking-delay and event-wait-list primitives:
// DelayTick (thread-mode), the cooperative two-poll Timer future, and
// WaitList, the bare wake-one/wake-all mechanism higher-level collaborators
// (semaphore, mailbox, queue — left for callers to build) would build on.

// DelayTick blocks the calling thread-mode task for n ticks. It is the only
// non-cooperative delay primitive the kernel exposes.
func (k *Kernel) DelayTick(n uint64) error {
	tcb := k.curTCB
	if tcb == nil || tcb.entry == nil {
		return WrapError("preempt: DelayTick", ErrCalledFromISR)
	}

	cookie := k.port.EnterCritical()
	if k.ispNesting > 0 {
		k.port.ExitCritical(cookie)
		return ErrCalledFromISR
	}
	if k.lockCount > 0 {
		k.port.ExitCritical(cookie)
		return ErrSchedulerLocked
	}

	tcb.expiresAt = k.timerDriver.Now() + n
	k.sched.SetTaskUnready(tcb)
	tcb.stat.TransitionAny([]TaskState{TaskRunning}, TaskWaiting)
	newHead := k.timerQ.Update(tcb)
	if newHead < k.armedDeadline {
		k.armAlarmLocked()
	}
	k.setHighReady()
	needSwitch := k.highReadyTCB != tcb
	k.port.ExitCritical(cookie)

	if needSwitch {
		k.yieldCurrentThreadTask(tcb)
	}
	return nil
}

// taskDeletedSignal is panicked through a blocked thread-mode task's stack
// of Go call frames when Kernel.Delete reclaims it while parked. Recovered
// by the goroutine wrapper installed in CreateSync, never by task code: it
// exists because a parked goroutine has no other way to unwind cleanly out
// from under arbitrary blocking user code — recover() is the only tool
// available for stopping a task body the kernel doesn't otherwise control.
type taskDeletedSignal struct{}

// yieldCurrentThreadTask hands the CPU token for tcb back to the dispatcher
// and parks until the dispatcher resumes it, standing in for the deferred
// context-switch trap's save/restore of a thread-mode task's register state
// (see doc.go). Panics taskDeletedSignal if the task was deleted while
// parked instead of being resumed normally.
func (k *Kernel) yieldCurrentThreadTask(tcb *TCB) {
	tcb.savedStack.yield <- struct{}{}
	if run := <-tcb.savedStack.resume; !run {
		panic(taskDeletedSignal{})
	}
}

// Timer is the cooperative equivalent of DelayTick: a two-poll future.
type Timer struct {
	ticks    uint64
	deadline uint64
	armed    bool
}

// After constructs a future that resolves once n ticks have elapsed,
// measured from its first poll.
func After(n uint64) *Timer {
	return &Timer{ticks: n}
}

// Poll implements Future. The registration hook on first poll is identical
// to DelayTick's, minus the explicit preemption trigger: a cooperative yield
// naturally returns control to the executor loop.
func (t *Timer) Poll(cx *PollContext) PollState {
	k, tcb := cx.Kernel, cx.tcb
	if !t.armed {
		cookie := k.port.EnterCritical()
		t.deadline = k.timerDriver.Now() + t.ticks
		tcb.expiresAt = t.deadline
		k.sched.SetTaskUnready(tcb)
		tcb.stat.TransitionAny([]TaskState{TaskRunning}, TaskWaiting)
		newHead := k.timerQ.Update(tcb)
		if newHead < k.armedDeadline {
			k.armAlarmLocked()
		}
		k.port.ExitCritical(cookie)
		t.armed = true
		return PollPending
	}
	// tcb.expiresAt has been reset to tickMax by the timer queue once the
	// task was dequeued, so compare against the deadline saved above.
	if k.timerDriver.Now() >= t.deadline {
		return PollReady
	}
	return PollPending
}

// WaitList is the event wait-list primitive: a doubly linked list of
// blocked TCBs (nodes are the TCBs themselves, no auxiliary allocation,
// exactly like timerQueue), with wake-one/wake-all semantics. Higher-level
// synchronization primitives (semaphores, mailboxes, queues) are left for
// callers to build on top of this mechanism.
type WaitList struct {
	head, tail *TCB
}

// NewWaitList returns an empty wait list.
func NewWaitList() *WaitList {
	return &WaitList{}
}

func (wl *WaitList) enqueue(tcb *TCB) {
	tcb.waitList = wl
	tcb.waitPrev, tcb.waitNext = wl.tail, nil
	if wl.tail != nil {
		wl.tail.waitNext = tcb
	} else {
		wl.head = tcb
	}
	wl.tail = tcb
	tcb.inWaitList = true
}

func (wl *WaitList) unlink(tcb *TCB) {
	if !tcb.inWaitList {
		return
	}
	if tcb.waitPrev != nil {
		tcb.waitPrev.waitNext = tcb.waitNext
	} else {
		wl.head = tcb.waitNext
	}
	if tcb.waitNext != nil {
		tcb.waitNext.waitPrev = tcb.waitPrev
	} else {
		wl.tail = tcb.waitPrev
	}
	tcb.waitPrev, tcb.waitNext, tcb.waitList = nil, nil, nil
	tcb.inWaitList = false
}

// Block suspends the calling thread-mode task on wl until a matching
// WakeOne/WakeAll.
func (wl *WaitList) Block(k *Kernel, tcb *TCB) {
	cookie := k.port.EnterCritical()
	wl.enqueue(tcb)
	k.sched.SetTaskUnready(tcb)
	tcb.stat.TransitionAny([]TaskState{TaskRunning}, TaskWaiting)
	k.setHighReady()
	k.port.ExitCritical(cookie)
	k.yieldCurrentThreadTask(tcb)
}

// waitFuture adapts WaitList to the cooperative Future contract: first poll
// enqueues and returns pending, later polls return ready once a wake has
// removed the task from the list.
type waitFuture struct {
	wl      *WaitList
	waiting bool
}

// Wait returns a Future a cooperative task can compose into its own state
// machine to block on wl.
func (wl *WaitList) Wait() Future {
	return &waitFuture{wl: wl}
}

func (f *waitFuture) Poll(cx *PollContext) PollState {
	tcb := cx.tcb
	if !f.waiting {
		k := cx.Kernel
		cookie := k.port.EnterCritical()
		f.wl.enqueue(tcb)
		k.sched.SetTaskUnready(tcb)
		tcb.stat.TransitionAny([]TaskState{TaskRunning}, TaskWaiting)
		k.port.ExitCritical(cookie)
		f.waiting = true
		return PollPending
	}
	if !tcb.inWaitList {
		return PollReady
	}
	return PollPending
}

// WakeOne wakes the longest-waiting task on wl, if any. Returns false if wl
// was empty.
func (wl *WaitList) WakeOne(k *Kernel) bool {
	cookie := k.port.EnterCritical()
	defer k.port.ExitCritical(cookie)
	tcb := wl.head
	if tcb == nil {
		return false
	}
	wl.unlink(tcb)
	tcb.stat.TransitionAny([]TaskState{TaskWaiting}, TaskSpawned)
	k.timerQ.Remove(tcb)
	k.sched.Enqueue(tcb)
	k.requestContextSwitch()
	return true
}

// WakeAll wakes every task on wl, returning the count woken.
func (wl *WaitList) WakeAll(k *Kernel) int {
	cookie := k.port.EnterCritical()
	defer k.port.ExitCritical(cookie)
	n := 0
	for wl.head != nil {
		tcb := wl.head
		wl.unlink(tcb)
		tcb.stat.TransitionAny([]TaskState{TaskWaiting}, TaskSpawned)
		k.timerQ.Remove(tcb)
		k.sched.Enqueue(tcb)
		n++
	}
	if n > 0 {
		k.requestContextSwitch()
	}
	return n
}
