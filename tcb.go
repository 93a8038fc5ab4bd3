package preempt

// PollState is the result of driving a cooperative task's state machine one
// step.
type PollState int

const (
	// PollPending means the future has more work to do; the wait primitive
	// that caused this must have already registered a wake (timer queue
	// entry or wait-list link) or the task will never run again.
	PollPending PollState = iota
	// PollReady means the task has finished; the kernel retires it.
	PollReady
)

// Future is the stackless-coroutine contract a cooperative task (installed
// via Kernel.CreateAsync) implements: a two-state Pending/Ready machine. It
// resolves by side effect (waking its owner), never with a value, so there
// is no error channel to model.
type Future interface {
	Poll(cx *PollContext) PollState
}

// FutureFunc adapts a plain function to Future, for simple single-step
// cooperative tasks that never need to return PollPending.
type FutureFunc func(cx *PollContext) PollState

func (f FutureFunc) Poll(cx *PollContext) PollState { return f(cx) }

// PollContext is passed to Future.Poll. It carries the owning Kernel and
// exposes the Waker bound to the polled task.
type PollContext struct {
	Kernel *Kernel
	tcb    *TCB
}

// Waker returns the waker bound to the task currently being polled: a
// waker's payload is simply the TCB pointer.
func (cx *PollContext) Waker() *Waker { return &Waker{tcb: cx.tcb} }

// Waker wakes the task it is bound to: moves it back into the ready set and,
// if it now outranks the running task, requests a preemption.
type Waker struct {
	tcb *TCB
}

// Wake enqueues the waker's task into the ready set under a critical
// section, exactly like any other wait primitive's wake path.
func (w *Waker) Wake() {
	w.tcb.kernel.wakeTask(w.tcb)
}

// TCB is a task control block: the arena-owned state every task, cooperative
// or thread-style, is represented by. See DESIGN.md for how
// `savedStack`/`needsStackSave` map onto this rendition's goroutine-parking
// substitution for register state.
type TCB struct { // betteralign:ignore
	kernel *Kernel

	priority int
	row, col int

	stat *taskStateCell

	// savedStack is the thread-style task's dedicated goroutine-parking
	// slot, allocated once at CreateSync and held for the task's entire
	// life; nil for a cooperative task, which has no stack of its own.
	// Unlike a register-frame rendition, where ownership of the stack
	// moves out of the TCB while a task actually runs, a goroutine's stack
	// is never something this rendition needs to move between fields — the
	// Go runtime keeps it live regardless of who currently holds the CPU
	// token — so savedStack stays populated throughout (see DESIGN.md).
	savedStack *StackRef

	// needsStackSave mirrors the preempted-task flag: true for a
	// thread-style task (its stack is always worth retaining across a
	// yield), false for a cooperative task (no stack exists to retain).
	// Since this rendition never preempts a task mid-instruction (see
	// DESIGN.md), the flag never toggles after creation.
	needsStackSave bool

	// cooperative task fields
	pollFn func(tcb *TCB)
	future Future

	// thread-style task entry point, run on its own goroutine
	entry func(k *Kernel)

	// timer queue linkage (doubly linked list node = the TCB itself)
	timerPrev, timerNext *TCB
	expiresAt            uint64
	inTimerQueue         bool

	// wait-list linkage
	waitList           *WaitList
	waitPrev, waitNext *TCB
	inWaitList         bool
}

// pollFnCooperative drives a cooperative task's future one step.
func pollFnCooperative(tcb *TCB) {
	cx := &PollContext{Kernel: tcb.kernel, tcb: tcb}
	if tcb.future.Poll(cx) == PollReady {
		tcb.kernel.retireTask(tcb)
	}
}
