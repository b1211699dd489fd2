package scheduler

import "container/heap"

// eventHeap implements container/heap.Interface for Event, earliest first.
type eventHeap []Event

func (h eventHeap) Len() int           { return len(h) }
func (h eventHeap) Less(i, j int) bool { return h[i].At.Before(h[j].At) }
func (h eventHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(Event))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func heapPush(h *eventHeap, e Event) {
	heap.Push(h, e)
}

// heapPop panics on an empty heap.
func heapPop(h *eventHeap) Event {
	return heap.Pop(h).(Event)
}

// heapRemove drops the event called name and reports whether it existed.
func heapRemove(h *eventHeap, name string) bool {
	for i, e := range *h {
		if e.Name == name {
			heap.Remove(h, i)
			return true
		}
	}
	return false
}
