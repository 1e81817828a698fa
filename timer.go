package coroloop

import "time"

// timerEntry is a scheduled wakeup for a timed wait. Entries whose waitEntry
// has fired are tombstones, skipped on pop.
type timerEntry struct {
	when  time.Time
	seq   uint64
	entry *waitEntry
}

// timerHeap is a min-heap of timer entries, ordered by deadline with
// submission order (seq) as the tie-break so equal deadlines fire
// deterministically.
type timerHeap []timerEntry

// Implement heap.Interface for timerHeap
func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(timerEntry))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = timerEntry{}
	*h = old[:n-1]
	return x
}
