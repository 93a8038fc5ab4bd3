package preempt

// tickMax is the sentinel expiresAt value meaning "no timed wakeup".
const tickMax uint64 = ^uint64(0)

// timerQueue is the sorted doubly linked list of sleeping tasks: nodes are
// the TCBs themselves (timerPrev/timerNext), no auxiliary allocation. Every
// operation assumes the caller holds the kernel's critical section.
type timerQueue struct {
	head, tail *TCB
}

// Update splices tcb into the list ordered by tcb.expiresAt ascending,
// unlinking it first if already queued. A no-op when expiresAt == tickMax.
// Returns the new head's expiresAt (NextExpiration).
func (q *timerQueue) Update(tcb *TCB) uint64 {
	if tcb.expiresAt == tickMax {
		return q.NextExpiration()
	}
	q.unlink(tcb)

	if q.head == nil {
		tcb.timerPrev, tcb.timerNext = nil, nil
		q.head, q.tail = tcb, tcb
		tcb.inTimerQueue = true
		return q.NextExpiration()
	}

	cur := q.head
	for cur != nil && cur.expiresAt < tcb.expiresAt {
		cur = cur.timerNext
	}
	if cur == nil {
		tcb.timerPrev, tcb.timerNext = q.tail, nil
		q.tail.timerNext = tcb
		q.tail = tcb
	} else {
		tcb.timerNext = cur
		tcb.timerPrev = cur.timerPrev
		if cur.timerPrev != nil {
			cur.timerPrev.timerNext = tcb
		} else {
			q.head = tcb
		}
		cur.timerPrev = tcb
	}
	tcb.inTimerQueue = true
	return q.NextExpiration()
}

// Remove unlinks tcb from the queue, clearing its back pointers. No-op if
// tcb is not currently queued.
func (q *timerQueue) Remove(tcb *TCB) {
	q.unlink(tcb)
}

func (q *timerQueue) unlink(tcb *TCB) {
	if !tcb.inTimerQueue {
		return
	}
	if tcb.timerPrev != nil {
		tcb.timerPrev.timerNext = tcb.timerNext
	} else {
		q.head = tcb.timerNext
	}
	if tcb.timerNext != nil {
		tcb.timerNext.timerPrev = tcb.timerPrev
	} else {
		q.tail = tcb.timerPrev
	}
	tcb.timerPrev, tcb.timerNext = nil, nil
	tcb.inTimerQueue = false
}

// DequeueExpired pops every head entry whose expiresAt <= now, clearing its
// expiresAt to tickMax and invoking wake(tcb) for each — wake is the
// scheduler's ready-set enqueue, supplied by the executor.
func (q *timerQueue) DequeueExpired(now uint64, wake func(*TCB)) {
	for q.head != nil && q.head.expiresAt <= now {
		t := q.head
		q.unlink(t)
		t.expiresAt = tickMax
		wake(t)
	}
}

// NextExpiration returns the head's expiresAt, or tickMax if empty.
func (q *timerQueue) NextExpiration() uint64 {
	if q.head == nil {
		return tickMax
	}
	return q.head.expiresAt
}
