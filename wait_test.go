package preempt

import (
	"sync"
	"testing"
	"time"
)

func waitForState(t *testing.T, tcb *TCB, want TaskState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if tcb.stat.Load() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("task never reached state %v (stuck at %v)", want, tcb.stat.Load())
}

func TestDelayTick_WakesAfterDeadline(t *testing.T) {
	k, drv := newTestKernel(t)

	var mu sync.Mutex
	var woke bool
	var observedNow uint64
	tcb, err := k.CreateSync(5, func(k *Kernel) {
		if err := k.DelayTick(100); err != nil {
			t.Errorf("DelayTick: %v", err)
			return
		}
		mu.Lock()
		woke = true
		observedNow = drv.Now()
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	startTestKernel(t, k)

	waitForState(t, tcb, TaskWaiting, time.Second)
	drv.Advance(100)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		w := woke
		mu.Unlock()
		if w {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("task never woke after its delay elapsed")
		}
		time.Sleep(time.Millisecond)
	}

	if observedNow < 100 {
		t.Fatalf("task woke before its deadline: observed now()=%d < start+100", observedNow)
	}
}

func TestDelayTick_RejectedUnderSchedulerLock(t *testing.T) {
	k, _ := newTestKernel(t)
	errCh := make(chan error, 1)
	_, err := k.CreateSync(5, func(k *Kernel) {
		k.Lock()
		errCh <- k.DelayTick(10)
		k.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	startTestKernel(t, k)

	select {
	case got := <-errCh:
		if got != ErrSchedulerLocked {
			t.Fatalf("expected ErrSchedulerLocked, got %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
}

func TestDelayTick_ArmAlarmRetriesOnSetAlarmRace(t *testing.T) {
	// The set-alarm primitive reports "deadline already past" once; the
	// retry loop inside armAlarmLocked must still arm successfully and the
	// waiting task must still wake exactly once, in bounded time.
	k, drv := newTestKernel(t)

	done := make(chan struct{})
	tcb, err := k.CreateSync(5, func(k *Kernel) {
		drv.ForceNextSetAlarmFalse(k.alarmHandle, 1)
		if err := k.DelayTick(1); err != nil {
			t.Errorf("DelayTick: %v", err)
		}
		close(done)
	})
	if err != nil {
		t.Fatal(err)
	}
	startTestKernel(t, k)

	waitForState(t, tcb, TaskWaiting, time.Second)
	drv.Advance(1)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never woke despite the retry loop")
	}
}

func TestWaitList_BlockWakeOne(t *testing.T) {
	k, _ := newTestKernel(t)
	wl := NewWaitList()
	done := make(chan struct{})

	tcb, err := k.CreateSync(5, func(k *Kernel) {
		wl.Block(k, k.CurrentTask())
		close(done)
	})
	if err != nil {
		t.Fatal(err)
	}
	startTestKernel(t, k)

	waitForState(t, tcb, TaskWaiting, time.Second)
	if !wl.WakeOne(k) {
		t.Fatalf("expected WakeOne to find the blocked task")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task was never woken by WakeOne")
	}
}

func TestWaitList_WakeOneOnEmptyListReturnsFalse(t *testing.T) {
	k, _ := newTestKernel(t)
	wl := NewWaitList()
	if wl.WakeOne(k) {
		t.Fatalf("expected WakeOne on an empty list to report false")
	}
	if n := wl.WakeAll(k); n != 0 {
		t.Fatalf("expected WakeAll on an empty list to wake 0, got %d", n)
	}
}

func TestWaitList_WakeAllWakesEveryBlockedTask(t *testing.T) {
	k, _ := newTestKernel(t)
	wl := NewWaitList()

	const n = 4
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		p := 5 + i
		_, err := k.CreateSync(p, func(k *Kernel) {
			defer wg.Done()
			wl.Block(k, k.CurrentTask())
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	startTestKernel(t, k)
	time.Sleep(30 * time.Millisecond) // let all n tasks reach the wait list

	if got := wl.WakeAll(k); got != n {
		t.Fatalf("expected WakeAll to wake %d tasks, got %d", n, got)
	}
	waitOrTimeout(t, &wg, 2*time.Second)
}

func TestTimer_AfterResolvesCooperatively(t *testing.T) {
	k, drv := newTestKernel(t)
	done := make(chan struct{})
	_, err := k.CreateAsync(5, func() Future {
		return &doneWrapperFuture{inner: After(50), done: done}
	})
	if err != nil {
		t.Fatal(err)
	}
	startTestKernel(t, k)

	time.Sleep(20 * time.Millisecond) // let the first poll register the deadline
	drv.Advance(50)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cooperative Timer.After never resolved")
	}
}

func TestKernel_DeleteWhileWaitingOnTimerQueue(t *testing.T) {
	k, _ := newTestKernel(t)
	tcb, err := k.CreateSync(7, func(k *Kernel) {
		_ = k.DelayTick(100000) // long enough that the test deletes it first
	})
	if err != nil {
		t.Fatal(err)
	}
	startTestKernel(t, k)

	waitForState(t, tcb, TaskWaiting, time.Second)
	time.Sleep(5 * time.Millisecond) // let the dispatcher settle onto idle
	if !tcb.inTimerQueue {
		t.Fatalf("expected the task to be linked into the timer queue before delete")
	}

	if err := k.Delete(tcb); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if tcb.inTimerQueue {
		t.Fatalf("expected Delete to unlink the task from the timer queue")
	}
	if tcb.stat.Load() != TaskUnused {
		t.Fatalf("expected task state Unused after delete, got %v", tcb.stat.Load())
	}

	// The priority slot must be free for reuse.
	if _, err := k.CreateSync(7, func(*Kernel) {}); err != nil {
		t.Fatalf("expected priority 7 to be free after delete: %v", err)
	}
}
