package preempt

import "sync"

// StackRef owns a dedicated-stack resource. In this rendition (see doc.go) a
// "stack" is the goroutine-parking slot standing in for a thread-style
// task's register state: `resume` hands the CPU token to the parked
// goroutine, `yield` hands it back. A StackRef's pointer identity is stable
// for the lifetime of the process — a stack's base address must survive
// preempt/resume round-trips — even though the free list recycles it across
// different tasks' lifetimes, exactly like the reference's fixed-size-block
// allocator reuses the same memory address for successive tenants of a size
// class.
type StackRef struct {
	class int // size class in bytes this block was carved from

	// resume signals the parked goroutine to proceed; a false value tells
	// it to exit instead of running its body (used when the stack is
	// freed out from under a task that's about to be deleted).
	resume chan bool
	// yield signals the dispatcher that the goroutine gave up the CPU
	// token, either by blocking on a wait primitive or by returning.
	yield chan struct{}
}

// reset prepares a StackRef for a fresh tenant, discarding any stale
// channels from a previous occupant.
func (r *StackRef) reset() {
	r.resume = make(chan bool)
	r.yield = make(chan struct{})
}

// Class reports the size class, in bytes, this stack was allocated from.
func (r *StackRef) Class() int { return r.class }

// stackAllocator is a fixed-size-block allocator: one pooled free list per
// supported size class (PROGRAM_STACK_SIZE, INTERRUPT_STACK_SIZE,
// TASK_STACK_SIZE), backed by a bump region budget. Pre-sized blocks are
// recycled whole and never coalesced across classes, adapted here from
// fixed memory blocks to goroutine-parking slots.
type stackAllocator struct {
	mu          sync.Mutex
	regionBytes int
	usedBytes   int
	freeLists   map[int][]*StackRef
	carved      map[int]int // total blocks ever carved per class, for the histogram

	// metrics mirrors each class's current free-block count for the
	// stack-leak probe; nil until the owning Kernel wires it up.
	metrics *StackHistogram
}

func newStackAllocator(regionBytes int) *stackAllocator {
	return &stackAllocator{
		regionBytes: regionBytes,
		freeLists:   make(map[int][]*StackRef),
		carved:      make(map[int]int),
	}
}

func (a *stackAllocator) recordLocked(class int) {
	if a.metrics != nil {
		a.metrics.set(class, len(a.freeLists[class]))
	}
}

// Alloc returns a stack of exactly `size` bytes, preferring a recycled block
// from the class's free list over carving new space from the region. Panics
// with *StackExhaustedError when the class's free list is empty and the
// region has no space left: stack exhaustion is fatal and non-recoverable,
// there is no caller-visible error path for it.
func (a *stackAllocator) Alloc(size int) *StackRef {
	a.mu.Lock()
	defer a.mu.Unlock()

	if free := a.freeLists[size]; len(free) > 0 {
		ref := free[len(free)-1]
		a.freeLists[size] = free[:len(free)-1]
		ref.reset()
		a.recordLocked(size)
		return ref
	}

	if a.usedBytes+size > a.regionBytes {
		panic(&StackExhaustedError{Requested: size})
	}
	a.usedBytes += size
	a.carved[size]++
	ref := &StackRef{class: size}
	ref.reset()
	a.recordLocked(size)
	return ref
}

// Free pushes a stack back onto its class's free list. Free lists are
// never coalesced across classes.
func (a *stackAllocator) Free(ref *StackRef) {
	if ref == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeLists[ref.class] = append(a.freeLists[ref.class], ref)
	a.recordLocked(ref.class)
}

// Histogram returns the current free-block count per size class, used by a
// stack-leak probe that compares two snapshots.
func (a *stackAllocator) Histogram() map[int]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[int]int, len(a.freeLists))
	for class, free := range a.freeLists {
		out[class] = len(free)
	}
	return out
}
