package world

import "container/heap"

type scheduledTick struct {
	pos Pos
	due uint64
	seq uint64 // FIFO among ticks due at the same time
}

type tickQueue struct {
	items   []scheduledTick
	pending map[Pos]uint64 // pos -> earliest due tick, for dedupe
	nextSeq uint64
}

func (q *tickQueue) Len() int { return len(q.items) }
func (q *tickQueue) Less(i, j int) bool {
	if q.items[i].due != q.items[j].due {
		return q.items[i].due < q.items[j].due
	}
	return q.items[i].seq < q.items[j].seq
}
func (q *tickQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *tickQueue) Push(x any)   { q.items = append(q.items, x.(scheduledTick)) }
func (q *tickQueue) Pop() any {
	n := len(q.items)
	it := q.items[n-1]
	q.items = q.items[:n-1]
	return it
}

// ScheduleTick asks for the block at p to be re-evaluated at tick due.
// A position already scheduled at or before due is not scheduled again.
func (s *State) ScheduleTick(p Pos, due uint64) {
	q := &s.ticks
	if q.pending == nil {
		q.pending = make(map[Pos]uint64)
	}
	if at, ok := q.pending[p]; ok && at <= due {
		return
	}
	q.pending[p] = due
	q.nextSeq++
	heap.Push(q, scheduledTick{pos: p, due: due, seq: q.nextSeq})
}

// PopDueTicks removes and returns every position due at or before now,
// in due order.
func (s *State) PopDueTicks(now uint64) []Pos {
	q := &s.ticks
	var out []Pos
	for q.Len() > 0 && q.items[0].due <= now {
		it := heap.Pop(q).(scheduledTick)
		if at, ok := q.pending[it.pos]; !ok || at != it.due {
			continue // superseded by an earlier schedule
		}
		delete(q.pending, it.pos)
		out = append(out, it.pos)
	}
	return out
}

// PendingTicks returns the number of scheduled positions.
func (s *State) PendingTicks() int {
	return len(s.ticks.pending)
}
