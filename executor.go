package preempt

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Kernel is the process-wide executor core: the dual-mode dispatcher tying
// together the scheduler, timer queue, arena, stack allocator, port and
// timer driver. A single struct owning every subsystem, constructed once by
// Init and driven by a blocking Start-style main loop.
type Kernel struct { // betteralign:ignore
	sched       *scheduler
	port        Port
	timerDriver TimerDriver
	arena       *arena
	stacks      *stackAllocator
	timerQ      *timerQueue
	log         *Logger
	metrics     Metrics

	maxPriority        int
	tickHz             uint64
	programStackSize   int
	interruptStackSize int
	taskStackSize      int

	alarmHandle   AlarmHandle
	armedDeadline uint64

	idleTCB *TCB

	// dispatcher-owned bookkeeping; only ever touched by the goroutine
	// running Start's loop, except where noted.
	curPrio       int
	curTCB        *TCB
	highReadyPrio int
	highReadyTCB  *TCB

	// lockCount is the scheduler-lock nesting counter (OS_SCHED_LOCK in
	// the original source): request_context_switch is a no-op while it's
	// nonzero.
	lockCount int
	// ispNesting counts simulated-ISR nesting (the alarm callback);
	// request_context_switch is a no-op while it's nonzero.
	ispNesting int

	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once

	programStack   *StackRef
	interruptStack *StackRef
}

// Init constructs a Kernel: allocates the scheduler, arena, stack allocator,
// timer queue, resolves the port and timer driver (the simulated defaults
// when none supplied), allocates the boot stacks and the single hardware
// alarm, and spawns the idle task. Returns a working, ready-to-Start object,
// not a bare struct literal.
func Init(opts ...Option) (*Kernel, error) {
	cfg, err := resolveKernelOptions(opts)
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		sched:              newScheduler(cfg.maxPriority),
		arena:              newArena(cfg.arenaSizeBytes),
		stacks:             newStackAllocator(cfg.stackRegionSizeBytes),
		timerQ:             &timerQueue{},
		log:                cfg.logger,
		maxPriority:        cfg.maxPriority,
		tickHz:             cfg.tickHz,
		programStackSize:   cfg.programStackSize,
		interruptStackSize: cfg.interruptStackSize,
		taskStackSize:      cfg.taskStackSize,
		armedDeadline:      tickMax,
		stopCh:             make(chan struct{}),
	}

	k.stacks.metrics = &k.metrics.Stack

	k.port = cfg.port
	if k.port == nil {
		k.port = newSimPort()
	}

	k.timerDriver = cfg.timerDriver
	if k.timerDriver == nil {
		k.timerDriver = newSimTimerDriver(cfg.tickHz, cfg.alarmCount)
	}

	k.programStack = k.stacks.Alloc(k.programStackSize)
	k.interruptStack = k.stacks.Alloc(k.interruptStackSize)
	k.logStack(func(b *logiface.Builder[*stumpy.Event]) *logiface.Builder[*stumpy.Event] {
		return b.Int("program_stack", k.programStackSize).Int("interrupt_stack", k.interruptStackSize)
	}, "boot stacks allocated")

	handle, err := k.timerDriver.AllocateAlarm()
	if err != nil {
		return nil, err
	}
	k.alarmHandle = handle
	k.timerDriver.SetAlarmCallback(handle, k.alarmFired)

	k.curPrio = k.maxPriority
	k.highReadyPrio = k.maxPriority

	idleTCB := k.spawnIdleTask(cfg.delayIdle)
	k.idleTCB = idleTCB
	k.highReadyTCB = idleTCB
	k.curTCB = idleTCB

	k.logExecutor(nil, "kernel initialised")
	return k, nil
}

// Start runs the dispatcher loop until ctx is cancelled or Stop is called.
// Blocks the calling goroutine; run it with `go k.Start(ctx)` to drive the
// kernel in the background.
func (k *Kernel) Start(ctx context.Context) error {
	if !k.running.CompareAndSwap(false, true) {
		return ErrKernelAlreadyRunning
	}
	defer k.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-k.stopCh:
			return nil
		default:
		}
		k.dispatchOnce()
	}
}

// Stop signals a running dispatcher loop to return from Start.
func (k *Kernel) Stop() {
	k.stopOnce.Do(func() { close(k.stopCh) })
}

// dispatchOnce is a single iteration of the main dispatch loop: pick the
// highest-ready task, run it (cooperatively in place, or by handing the CPU
// token to its dedicated goroutine), then drain timers and recompute the
// ready set under critical section.
func (k *Kernel) dispatchOnce() {
	cookie := k.port.EnterCritical()
	k.setHighReady()
	T := k.highReadyTCB
	k.curTCB = T
	k.curPrio = T.priority
	k.port.ExitCritical(cookie)

	if T == k.idleTCB {
		k.port.IdleInstruction()
		return
	}

	dispatchedAt := time.Now()
	T.stat.TransitionAny([]TaskState{TaskSpawned}, TaskRunning)

	if T.entry != nil {
		// Capture the StackRef once: the task's own goroutine may retire
		// (and nil out T.savedStack) before this handoff returns.
		ref := T.savedStack
		ref.resume <- true
		<-ref.yield
	} else {
		T.pollFn(T)
	}
	k.metrics.Dispatch.Record(time.Since(dispatchedAt))
	k.metrics.Switches.Increment()

	cookie = k.port.EnterCritical()
	now := k.timerDriver.Now()
	k.timerQ.DequeueExpired(now, k.enqueueReady)
	k.sched.SetTaskUnready(T)
	if exp := k.timerQ.NextExpiration(); exp < k.armedDeadline {
		k.armAlarmLocked()
	}
	k.setHighReady()
	k.port.ExitCritical(cookie)
}

// CurrentTask returns the TCB of whichever task is presently holding the
// CPU token. A thread-style task body calls this to get its own handle for
// WaitList.Block, ChangePriority, or Delete of some other task; valid only
// while actually running (the handoff in dispatchOnce/yieldCurrentThreadTask
// guarantees exactly one task runs at a time).
func (k *Kernel) CurrentTask() *TCB { return k.curTCB }

// Lock increments the scheduler-lock nesting counter: while held,
// requestContextSwitch is inhibited even if a higher-priority task becomes
// ready.
func (k *Kernel) Lock() {
	cookie := k.port.EnterCritical()
	k.lockCount++
	k.port.ExitCritical(cookie)
}

// Unlock decrements the lock counter; when it reaches zero, a pending
// preemption (if any) is requested immediately.
func (k *Kernel) Unlock() {
	cookie := k.port.EnterCritical()
	k.lockCount--
	if k.lockCount == 0 {
		k.requestContextSwitch()
	}
	k.port.ExitCritical(cookie)
}

// enqueueReady is the timer queue's wake callback: moves a timed-out task
// from Waiting back into the ready bitmap. Caller holds the critical
// section.
func (k *Kernel) enqueueReady(tcb *TCB) {
	tcb.stat.TransitionAny([]TaskState{TaskWaiting}, TaskSpawned)
	k.sched.Enqueue(tcb)
}

// wakeTask moves tcb from Waiting back to ready and requests a preemption
// if warranted; used by Waker.Wake. Idempotent: waking an already-ready or
// already-running task is a no-op.
func (k *Kernel) wakeTask(tcb *TCB) {
	cookie := k.port.EnterCritical()
	defer k.port.ExitCritical(cookie)
	if !tcb.stat.TransitionAny([]TaskState{TaskWaiting}, TaskSpawned) {
		return
	}
	k.timerQ.Remove(tcb)
	k.sched.Enqueue(tcb)
	k.requestContextSwitch()
}

// retireTask finalises a task that has run to completion: clears its ready
// bit, frees its priority slot for reuse, and releases its dedicated stack
// if it had one. The arena slot itself is never reclaimed.
func (k *Kernel) retireTask(tcb *TCB) {
	cookie := k.port.EnterCritical()
	k.sched.SetTaskUnready(tcb)
	k.sched.Clear(tcb.priority)
	k.timerQ.Remove(tcb)
	tcb.stat.Store(TaskUnused)
	ref := tcb.savedStack
	tcb.future = nil
	tcb.pollFn = nil
	tcb.savedStack = nil
	k.port.ExitCritical(cookie)

	if ref != nil {
		k.logStack(func(b *logiface.Builder[*stumpy.Event]) *logiface.Builder[*stumpy.Event] {
			return b.Int("class", ref.Class())
		}, "task stack freed")
		k.stacks.Free(ref)
	}
}

// armAlarmLocked implements the alarm-arming retry loop: drain expired
// entries, read the new head, and try to arm it, looping if the deadline
// has already slipped past by the time the driver could arm it. Caller
// holds the critical section.
func (k *Kernel) armAlarmLocked() {
	for {
		now := k.timerDriver.Now()
		k.timerQ.DequeueExpired(now, k.enqueueReady)
		next := k.timerQ.NextExpiration()
		k.armedDeadline = next
		if next == tickMax {
			return
		}
		if k.timerDriver.SetAlarm(k.alarmHandle, next) {
			k.logTimer(func(b *logiface.Builder[*stumpy.Event]) *logiface.Builder[*stumpy.Event] {
				return b.Int("deadline", int(next))
			}, "alarm armed")
			return
		}
	}
}

// alarmFired is the hardware alarm's callback, invoked from (simulated)
// timer-ISR context.
func (k *Kernel) alarmFired() {
	cookie := k.port.EnterCritical()
	k.ispNesting++
	k.logTimer(nil, "alarm fired")
	k.armAlarmLocked()
	k.ispNesting--
	k.requestContextSwitch()
	k.port.ExitCritical(cookie)
}
