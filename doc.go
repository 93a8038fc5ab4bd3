// Package preempt implements the core of a preemptive, priority-driven
// real-time kernel that unifies two execution models on a single logical
// core: thread-style tasks that block on synchronous delays or events with
// their own stacks, and stackless cooperative tasks expressed as state
// machines that suspend at explicit await points. Both kinds coexist at any
// of N priority levels, with lower numeric value meaning higher priority;
// the highest-priority ready task always runs, preempting lower ones even
// across the boundary between the two execution models.
//
// # Architecture
//
// The kernel is built around a [Kernel] singleton that owns the priority
// scheduler, the timer queue, the stack and TCB allocators, and a [Port]
// implementation that supplies the architecture-specific
// context-save/restore contract. The default [Port] (see [newSimPort]) and
// [TimerDriver] (see [newSimTimerDriver]) simulate real hardware on top of
// goroutines and channels, which lets the kernel run and be tested without a
// target device; see the doc comment on [Port] for the substitution this
// requires.
//
// # Execution model
//
// Cooperative tasks ([Kernel.CreateAsync]) are polled in place, on the
// goroutine that calls [Kernel.Start], exactly like a stackless state
// machine running on a shared "program stack." Thread-style tasks
// ([Kernel.CreateSync]) run on their own goroutine, which stands in for a
// dedicated stack; they give up the CPU only by calling a wait primitive
// ([Kernel.DelayTick], a [WaitList] block) or by returning.
//
// # Thread safety
//
// All scheduler, timer-queue, and priority-table mutations happen inside a
// [Port] critical section (a single global interrupt mask on real hardware,
// a mutex in the simulated port). TCB lifecycle transitions are additionally
// guarded by a single-word atomic state machine ([taskStateCell]).
package preempt
