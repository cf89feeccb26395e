package simstate

import "container/heap"

// timelineEntry is one scheduled wake-up: a process parked at deadline
// picoseconds. kind breaks ties at equal deadlines — 0 for an ordinary
// clock/delay wake, 1 for a Settle wait, which §5 requires to run
// strictly after any same-instant trigger-driven or timed wake. seq
// breaks further ties between equally-kinded entries so insertion order
// (stable FIFO, per §5) survives the heap.
type timelineEntry struct {
	deadline int64
	kind     int
	seq      uint64
	proc     Runnable
}

type timelineHeap []*timelineEntry

func (h timelineHeap) Len() int { return len(h) }
func (h timelineHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	if h[i].kind != h[j].kind {
		return h[i].kind < h[j].kind
	}
	return h[i].seq < h[j].seq
}
func (h timelineHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timelineHeap) Push(x any) { *h = append(*h, x.(*timelineEntry)) }
func (h *timelineHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// timeline wraps timelineHeap behind container/heap, the standard
// library's priority queue — no ecosystem package improves on this for
// a plain min-heap of scheduled deadlines.
type timeline struct {
	h   timelineHeap
	seq uint64
}

func newTimeline() *timeline {
	t := &timeline{}
	heap.Init(&t.h)
	return t
}

func (t *timeline) push(deadline int64, kind int, proc Runnable) {
	t.seq++
	heap.Push(&t.h, &timelineEntry{deadline: deadline, kind: kind, seq: t.seq, proc: proc})
}

func (t *timeline) Len() int { return len(t.h) }

func (t *timeline) peekDeadline() int64 { return t.h[0].deadline }

func (t *timeline) pop() *timelineEntry {
	return heap.Pop(&t.h).(*timelineEntry)
}
