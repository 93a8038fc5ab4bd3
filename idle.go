package preempt

import "time"

// spawnIdleTask allocates the lowest-priority always-ready task. Its body —
// a loop calling Port.IdleInstruction() — is simulated directly by
// dispatchOnce's idle branch rather than run through the ordinary
// cooperative/thread-mode dispatch path, since idle is never actually
// enqueued in the ready bitmap: scheduler.FindHighestReadyPrio's "group
// empty" fallback already returns the idle priority, so idle never needs to
// participate in bitmap bookkeeping at all.
func (k *Kernel) spawnIdleTask(delayIdle bool) *TCB {
	tcb := k.arena.Alloc()
	tcb.kernel = k
	tcb.priority = k.maxPriority
	tcb.row, tcb.col = rowCol(k.maxPriority)
	tcb.stat = newTaskStateCell()
	tcb.stat.TryTransition(TaskUnused, TaskSpawned)

	// Design note 9: when logging is on (or DELAY_IDLE was requested
	// explicitly), swap the low-power wait for a short busy-wait so
	// debug output stays observable in real time instead of batching up
	// behind a sleeping idle loop.
	if sp, ok := k.port.(*simPort); ok && (delayIdle || loggingEnabled() || k.log != nil) {
		sp.idleSleep = func() { time.Sleep(50 * time.Microsecond) }
	}

	k.logExecutor(nil, "idle task spawned")
	return tcb
}
