package preempt

import "testing"

func TestArena_AllocBumpsMonotonically(t *testing.T) {
	a := newArena(int(tcbSize) * 4)
	if got := a.Capacity(); got < 4 {
		t.Fatalf("expected capacity >= 4, got %d", got)
	}

	seen := make(map[*TCB]bool)
	for i := 0; i < a.Capacity(); i++ {
		tcb := a.Alloc()
		if seen[tcb] {
			t.Fatalf("Alloc returned a duplicate slot pointer at i=%d", i)
		}
		seen[tcb] = true
	}
}

func TestArena_ExhaustionPanics(t *testing.T) {
	a := newArena(int(tcbSize))
	if a.Capacity() != 1 {
		t.Fatalf("expected capacity 1, got %d", a.Capacity())
	}
	a.Alloc() // consumes the only slot

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected Alloc to panic once capacity is consumed")
		}
		if _, ok := r.(*ArenaExhaustedError); !ok {
			t.Fatalf("expected panic value *ArenaExhaustedError, got %T (%v)", r, r)
		}
	}()
	a.Alloc()
	t.Fatalf("unreachable: Alloc should have panicked")
}

func TestArena_NeverReclaimsSlots(t *testing.T) {
	// The arena never reclaims TCB memory, even after a task is
	// deleted/retired; this is a property of Alloc alone, since arena has
	// no Free method at all.
	a := newArena(int(tcbSize) * 2)
	first := a.Alloc()
	second := a.Alloc()
	if first == second {
		t.Fatalf("expected distinct slots from successive Alloc calls")
	}
}

func TestArena_MinimumCapacityOne(t *testing.T) {
	a := newArena(0)
	if a.Capacity() != 1 {
		t.Fatalf("expected a degenerate size request to still provide one slot, got %d", a.Capacity())
	}
}
