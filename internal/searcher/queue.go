package searcher

// Item is a scored graph node. Higher scores are better.
type Item struct {
	Node  uint32
	Score float32
}

// PriorityQueue implements a binary heap of Items ordered by score.
//
// A best-first queue pops the highest score first (the beam-search
// frontier). A worst-first queue keeps the lowest score on top, which makes
// it a bounded top-k list when used with PushBounded.
// It does NOT implement container/heap to avoid interface overhead.
type PriorityQueue struct {
	bestFirst bool
	items     []Item
}

// NewPriorityQueue creates a new priority queue.
func NewPriorityQueue(bestFirst bool) *PriorityQueue {
	return &PriorityQueue{
		bestFirst: bestFirst,
		items:     make([]Item, 0, 16),
	}
}

// Reset clears the priority queue for reuse.
func (pq *PriorityQueue) Reset() {
	pq.items = pq.items[:0]
}

// Len returns the number of elements in the heap.
func (pq *PriorityQueue) Len() int {
	return len(pq.items)
}

// Top returns the top element of the heap.
func (pq *PriorityQueue) Top() (Item, bool) {
	if len(pq.items) == 0 {
		return Item{}, false
	}
	return pq.items[0], true
}

// Push inserts an item while maintaining the heap invariant.
func (pq *PriorityQueue) Push(item Item) {
	pq.items = append(pq.items, item)
	pq.siftUp(len(pq.items) - 1)
}

// PushBounded inserts an item into a worst-first heap holding at most
// capacity items. When full, the item replaces the current worst only if it
// scores strictly higher. It reports whether the item was kept.
func (pq *PriorityQueue) PushBounded(item Item, capacity int) bool {
	if len(pq.items) < capacity {
		pq.Push(item)
		return true
	}
	if capacity <= 0 || pq.bestFirst {
		return false
	}
	if item.Score > pq.items[0].Score {
		pq.items[0] = item
		pq.siftDown(0)
		return true
	}
	return false
}

// Pop removes and returns the top element from the heap.
func (pq *PriorityQueue) Pop() (Item, bool) {
	n := len(pq.items)
	if n == 0 {
		return Item{}, false
	}

	item := pq.items[0]
	pq.items[0] = pq.items[n-1]
	pq.items = pq.items[:n-1]

	if len(pq.items) > 0 {
		pq.siftDown(0)
	}

	return item, true
}

// Drain empties the heap into dst ordered by descending score, ties broken
// by ascending node index.
func (pq *PriorityQueue) Drain(dst []Item) []Item {
	start := len(dst)
	for pq.Len() > 0 {
		it, _ := pq.Pop()
		dst = append(dst, it)
	}
	out := dst[start:]
	// insertion sort keeps this allocation-free; ef is small.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && better(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return dst
}

func better(a, b Item) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Node < b.Node
}

func (pq *PriorityQueue) less(i, j int) bool {
	if pq.bestFirst {
		return better(pq.items[i], pq.items[j])
	}
	return better(pq.items[j], pq.items[i])
}

func (pq *PriorityQueue) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !pq.less(i, parent) {
			break
		}
		pq.items[i], pq.items[parent] = pq.items[parent], pq.items[i]
		i = parent
	}
}

func (pq *PriorityQueue) siftDown(i int) {
	n := len(pq.items)
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		child := left
		if right := left + 1; right < n && pq.less(right, left) {
			child = right
		}
		if !pq.less(child, i) {
			break
		}
		pq.items[i], pq.items[child] = pq.items[child], pq.items[i]
		i = child
	}
}
