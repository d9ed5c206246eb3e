package common

// HistoryLog is a fixed-capacity ring buffer. Once full, each push overwrites
// the oldest entry. Iteration always runs oldest to newest.
type HistoryLog[T any] struct {
	items []T
	head  int
	count int
}

// NewHistoryLog allocates a log holding at most capacity entries. A
// non-positive capacity is treated as one.
func NewHistoryLog[T any](capacity int) *HistoryLog[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &HistoryLog[T]{items: make([]T, capacity)}
}

// Push appends item, evicting the oldest entry when the log is full.
func (h *HistoryLog[T]) Push(item T) {
	capacity := len(h.items)
	if h.count < capacity {
		h.items[(h.head+h.count)%capacity] = item
		h.count++
		return
	}
	h.items[h.head] = item
	h.head = (h.head + 1) % capacity
}

// Len returns the number of retained entries.
func (h *HistoryLog[T]) Len() int {
	if h == nil {
		return 0
	}
	return h.count
}

// Cap returns the fixed capacity.
func (h *HistoryLog[T]) Cap() int {
	if h == nil {
		return 0
	}
	return len(h.items)
}

// Each calls fn for every retained entry from oldest to newest, stopping early
// when fn returns false.
func (h *HistoryLog[T]) Each(fn func(T) bool) {
	if h == nil {
		return
	}
	capacity := len(h.items)
	for i := 0; i < h.count; i++ {
		if !fn(h.items[(h.head+i)%capacity]) {
			return
		}
	}
}

// Items returns a copy of the retained entries from oldest to newest.
func (h *HistoryLog[T]) Items() []T {
	out := make([]T, 0, h.Len())
	h.Each(func(item T) bool {
		out = append(out, item)
		return true
	})
	return out
}

// Last returns the newest entry.
func (h *HistoryLog[T]) Last() (T, bool) {
	var zero T
	if h.Len() == 0 {
		return zero, false
	}
	capacity := len(h.items)
	return h.items[(h.head+h.count-1)%capacity], true
}

// Clone returns an independent copy of the log.
func (h *HistoryLog[T]) Clone() *HistoryLog[T] {
	if h == nil {
		return nil
	}
	clone := &HistoryLog[T]{items: make([]T, len(h.items)), head: h.head, count: h.count}
	copy(clone.items, h.items)
	return clone
}
