// Package steplog provides the append-and-trim step buffer used by the
// filtering engines. Entries are addressed by a logical index that keeps
// its meaning as entries are dropped from either end: DropFirst advances
// the logical base, DropLast shrinks the tail. Every operation except Each
// and Snapshot, which are linear in the number of live entries, is O(1)
// amortized. The log is not safe for concurrent use; it is owned by the
// control thread.
package steplog

// Log is an append-only random-access buffer with a sliding window.
type Log[T any] struct {
	entries []T
	base    int
}

// New returns an empty log whose first appended entry gets logical index 0.
func New[T any]() *Log[T] {
	return &Log[T]{}
}

// Append adds an entry at the tail and returns its logical index.
func (l *Log[T]) Append(v T) int {
	l.entries = append(l.entries, v)

	return l.base + len(l.entries) - 1
}

// Size returns the number of live entries.
func (l *Log[T]) Size() int {
	return len(l.entries)
}

// FirstIndex returns the logical index of the earliest live entry,
// or -1 if the log is empty.
func (l *Log[T]) FirstIndex() int {
	if len(l.entries) == 0 {
		return -1
	}

	return l.base
}

// LastIndex returns the logical index of the latest live entry,
// or -1 if the log is empty.
func (l *Log[T]) LastIndex() int {
	if len(l.entries) == 0 {
		return -1
	}

	return l.base + len(l.entries) - 1
}

// Get returns the entry at logical index s. It panics if s is out of range.
func (l *Log[T]) Get(s int) T {
	if s < l.base || s >= l.base+len(l.entries) {
		panic("steplog: index out of range")
	}

	return l.entries[s-l.base]
}

// GetFirst returns the earliest live entry. It panics on an empty log.
func (l *Log[T]) GetFirst() T {
	return l.Get(l.FirstIndex())
}

// GetLast returns the latest live entry. It panics on an empty log.
func (l *Log[T]) GetLast() T {
	return l.Get(l.LastIndex())
}

// DropFirst removes and returns the earliest entry, advancing the base.
func (l *Log[T]) DropFirst() T {
	v := l.GetFirst()

	var zero T
	l.entries[0] = zero
	l.entries = l.entries[1:]
	l.base++

	// Compact once the live entries fill less than a quarter of the slice's
	// remaining capacity; the fresh array also releases the consumed prefix.
	if cap(l.entries) > 64 && len(l.entries) < cap(l.entries)/4 {
		compact := make([]T, len(l.entries))
		copy(compact, l.entries)
		l.entries = compact
	}

	return v
}

// DropLast removes and returns the latest entry.
func (l *Log[T]) DropLast() T {
	v := l.GetLast()

	var zero T
	l.entries[len(l.entries)-1] = zero
	l.entries = l.entries[:len(l.entries)-1]

	return v
}

// Each calls fn for every live entry in logical-index order.
func (l *Log[T]) Each(fn func(s int, v T)) {
	for i, v := range l.entries {
		fn(l.base+i, v)
	}
}

// Snapshot returns the live entries in logical-index order. The slice is
// fresh; the entries are shared.
func (l *Log[T]) Snapshot() []T {
	out := make([]T, len(l.entries))
	copy(out, l.entries)

	return out
}
