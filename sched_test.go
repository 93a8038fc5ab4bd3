package preempt

import "testing"

func newTestTCB(priority int) *TCB {
	row, col := rowCol(priority)
	return &TCB{priority: priority, row: row, col: col, stat: newTaskStateCell()}
}

func TestScheduler_EnqueueSetsBitmapAndTable(t *testing.T) {
	s := newScheduler(63)
	tcb := newTestTCB(10)
	s.Enqueue(tcb)

	if s.prioTable[10] != tcb {
		t.Fatalf("expected prioTable[10] to hold tcb")
	}
	if got := s.FindHighestReadyPrio(); got != 10 {
		t.Fatalf("expected highest ready priority 10, got %d", got)
	}
}

func TestScheduler_FindHighestReadyPicksLowestNumber(t *testing.T) {
	s := newScheduler(63)
	for _, p := range []int{30, 5, 20, 9} {
		s.Enqueue(newTestTCB(p))
	}
	if got := s.FindHighestReadyPrio(); got != 5 {
		t.Fatalf("expected 5 (lower number = higher priority), got %d", got)
	}
}

func TestScheduler_SetTaskUnreadyClearsGroupWhenRowEmpty(t *testing.T) {
	s := newScheduler(63)
	tcb := newTestTCB(3)
	s.Enqueue(tcb)
	if s.readyGroup == 0 {
		t.Fatalf("expected group bit set after enqueue")
	}
	s.SetTaskUnready(tcb)
	if s.readyGroup != 0 {
		t.Fatalf("expected group bit cleared once the only task in its row goes unready")
	}
	// prioTable membership is untouched by SetTaskUnready.
	if s.prioTable[3] != tcb {
		t.Fatalf("SetTaskUnready must not clear prioTable")
	}
}

func TestScheduler_SetTaskUnreadyKeepsGroupBitWhileRowHasReadySibling(t *testing.T) {
	s := newScheduler(63)
	a := newTestTCB(1) // row 0, col 1
	b := newTestTCB(2) // row 0, col 2
	s.Enqueue(a)
	s.Enqueue(b)
	s.SetTaskUnready(a)
	if s.readyGroup == 0 {
		t.Fatalf("expected group bit to remain set: row 0 still has b ready")
	}
	if got := s.FindHighestReadyPrio(); got != 2 {
		t.Fatalf("expected 2 to still be found ready, got %d", got)
	}
}

func TestScheduler_FindHighestReadyFallsBackToIdlePriority(t *testing.T) {
	s := newScheduler(63)
	if got := s.FindHighestReadyPrio(); got != 63 {
		t.Fatalf("expected idle priority (maxPriority) fallback, got %d", got)
	}
}

func TestScheduler_ReserveReleasePriority(t *testing.T) {
	s := newScheduler(63)
	if !s.ReservePriority(5) {
		t.Fatalf("reserving a free priority should succeed")
	}
	if s.ReservePriority(5) {
		t.Fatalf("reserving an already-reserved priority should fail")
	}
	s.ReleasePriority(5)
	if !s.ReservePriority(5) {
		t.Fatalf("after release, priority should be reservable again")
	}
}

func TestScheduler_ReserveFailsOverLiveTask(t *testing.T) {
	s := newScheduler(63)
	tcb := newTestTCB(5)
	s.Enqueue(tcb)
	if s.ReservePriority(5) {
		t.Fatalf("reserving a priority with a live task should fail")
	}
}

func TestScheduler_ReleaseIsNoOpWhenSlotWasFilledByRealTask(t *testing.T) {
	s := newScheduler(63)
	if !s.ReservePriority(5) {
		t.Fatal("reserve should succeed")
	}
	tcb := newTestTCB(5)
	s.Enqueue(tcb) // create succeeded: real TCB overwrote the sentinel
	s.ReleasePriority(5)
	if s.prioTable[5] != tcb {
		t.Fatalf("ReleasePriority must not clear a slot a real task has since claimed")
	}
}

func TestScheduler_ClearRemovesFromPrioTable(t *testing.T) {
	s := newScheduler(63)
	tcb := newTestTCB(7)
	s.Enqueue(tcb)
	s.Clear(7)
	if s.prioTable[7] != nil {
		t.Fatalf("expected prioTable[7] cleared")
	}
}

func TestScheduler_EnqueueIsIdempotent(t *testing.T) {
	s := newScheduler(63)
	tcb := newTestTCB(4)
	s.Enqueue(tcb)
	s.Enqueue(tcb)
	if got := s.FindHighestReadyPrio(); got != 4 {
		t.Fatalf("expected 4 ready, got %d", got)
	}
}
