package preempt

import (
	"sync"
	"time"
)

// Port is the architecture-specific collaborator: critical-section
// entry/exit, the deferred context-switch trap (PendSV on Cortex-M), and the
// idle instruction. Kernel code never touches interrupt masks or registers
// directly — it only calls through Port, the same separation a real-time
// kernel draws between its portable core and its hardware abstraction
// layer.
type Port interface {
	// EnterCritical masks interrupts (or, here, takes the kernel-wide lock)
	// and returns a cookie that must be passed back to ExitCritical. Calls
	// nest: an already-masked caller gets a cookie that's a no-op to restore.
	EnterCritical() (cookie uint32)
	// ExitCritical restores the interrupt mask captured by the matching
	// EnterCritical call.
	ExitCritical(cookie uint32)
	// TriggerDeferredSwitch requests that the dispatcher re-evaluate the
	// ready set at the earliest point it's safe to do so (outside any
	// critical section or simulated ISR nesting).
	TriggerDeferredSwitch()
	// MockInitialStack prepares a StackRef so that, the first time it is
	// resumed, execution begins at entry.
	MockInitialStack(ref *StackRef, entry func())
	// IdleInstruction is executed by the idle task's body; on real hardware
	// this would be WFI. The simulated port sleeps briefly instead of
	// busy-spinning.
	IdleInstruction()
}

// simPort is the default Port, modelled on a single-threaded event-loop:
// rather than an atomic reentrant-lock counter (which a genuinely concurrent
// goroutine — the simulated timer ISR — could race past without ever
// holding the lock), it uses one plain sync.Mutex and requires kernel code
// to lock exactly once per public entry point, calling unexported *_locked
// helpers for anything that would otherwise need to re-enter. Critical
// sections nest in the interface's shape — a cookie is still threaded
// through for fidelity — but the cookie carries no information here, since
// a sync.Mutex is simply held or not; there is no saved-mask value to
// restore. See DESIGN.md for the full rationale.
type simPort struct {
	mu sync.Mutex

	switchPending chan struct{}

	idleSleep func()
}

func newSimPort() *simPort {
	return &simPort{
		switchPending: make(chan struct{}, 1),
	}
}

func (p *simPort) EnterCritical() uint32 {
	p.mu.Lock()
	return 0
}

func (p *simPort) ExitCritical(uint32) {
	p.mu.Unlock()
}

// TriggerDeferredSwitch enqueues a pending-switch signal; the executor's
// main loop drains it between task dispatches, standing in for a pended
// PendSV exception.
func (p *simPort) TriggerDeferredSwitch() {
	select {
	case p.switchPending <- struct{}{}:
	default:
	}
}

// MockInitialStack lays down a synthetic entry point on ref's dedicated
// goroutine (see doc.go): the goroutine blocks until the first resume, then
// runs entry to completion. entry is the whole
// thread-mode task body; it yields control to the dispatcher zero or more
// times along the way by sending on ref.yield and waiting on ref.resume
// itself (see wait.go's blocking primitives), then signals ref.yield once
// more, for the last time, when it returns — exactly like every other
// yield, just with nothing left to resume.
func (p *simPort) MockInitialStack(ref *StackRef, entry func()) {
	go func(ref *StackRef, entry func()) {
		if run := <-ref.resume; !run {
			return
		}
		entry()
		ref.yield <- struct{}{}
	}(ref, entry)
}

// IdleInstruction parks until either a deferred switch is pending or a short
// timeout elapses, standing in for WFI: real hardware wakes instantly on any
// interrupt, so the timeout here is just a bound on how stale the idle loop's
// view of the ready set can get when something becomes ready without going
// through TriggerDeferredSwitch.
func (p *simPort) IdleInstruction() {
	if p.idleSleep != nil {
		p.idleSleep()
		return
	}
	select {
	case <-p.switchPending:
	case <-time.After(time.Millisecond):
	}
}
