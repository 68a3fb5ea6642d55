package exec

import "container/heap"

// eventHeap is a min-heap of events ordered by the fire comparator.
type eventHeap []*Event

func (h eventHeap) Len() int           { return len(h) }
func (h eventHeap) Less(i, j int) bool { return h[i].before(h[j]) }
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(*Event))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ev
}

// futureSet is the ordered multiset of pending events. Not goroutine-safe;
// the owning executive guards it with its lock.
type futureSet struct {
	h         eventHeap
	nonDaemon int
}

func newFutureSet() *futureSet {
	return &futureSet{h: make(eventHeap, 0, 64)}
}

func (fs *futureSet) len() int { return len(fs.h) }

func (fs *futureSet) nonDaemonCount() int { return fs.nonDaemon }

func (fs *futureSet) push(ev *Event) {
	heap.Push(&fs.h, ev)
	if !ev.daemon {
		fs.nonDaemon++
	}
}

func (fs *futureSet) peek() *Event {
	if len(fs.h) == 0 {
		return nil
	}
	return fs.h[0]
}

func (fs *futureSet) pop() *Event {
	if len(fs.h) == 0 {
		return nil
	}
	ev := heap.Pop(&fs.h).(*Event)
	if !ev.daemon {
		fs.nonDaemon--
	}
	return ev
}

// removeIf removes every event matching pred and returns the removed
// records. O(n): the surviving slice is re-heapified.
func (fs *futureSet) removeIf(pred func(*Event) bool) []*Event {
	var removed []*Event
	kept := fs.h[:0]
	for _, ev := range fs.h {
		if pred(ev) {
			removed = append(removed, ev)
			if !ev.daemon {
				fs.nonDaemon--
			}
		} else {
			kept = append(kept, ev)
		}
	}
	for i := len(kept); i < len(fs.h); i++ {
		fs.h[i] = nil
	}
	fs.h = kept
	heap.Init(&fs.h)
	return removed
}

func (fs *futureSet) clear() []*Event {
	all := make([]*Event, len(fs.h))
	copy(all, fs.h)
	fs.h = fs.h[:0]
	fs.nonDaemon = 0
	return all
}
