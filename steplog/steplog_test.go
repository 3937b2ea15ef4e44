package steplog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmpty(t *testing.T) {
	l := New[int]()

	assert.Equal(t, 0, l.Size())
	assert.Equal(t, -1, l.FirstIndex())
	assert.Equal(t, -1, l.LastIndex())
}

func TestAppendAndGet(t *testing.T) {
	l := New[string]()

	assert.Equal(t, 0, l.Append("a"))
	assert.Equal(t, 1, l.Append("b"))
	assert.Equal(t, 2, l.Append("c"))

	assert.Equal(t, 3, l.Size())
	assert.Equal(t, 0, l.FirstIndex())
	assert.Equal(t, 2, l.LastIndex())
	assert.Equal(t, "a", l.GetFirst())
	assert.Equal(t, "c", l.GetLast())
	assert.Equal(t, "b", l.Get(1))
}

func TestDropFirstKeepsLogicalIndices(t *testing.T) {
	l := New[int]()
	for i := 0; i < 5; i++ {
		l.Append(i * 10)
	}

	assert.Equal(t, 0, l.DropFirst())
	assert.Equal(t, 10, l.DropFirst())

	assert.Equal(t, 2, l.FirstIndex())
	assert.Equal(t, 4, l.LastIndex())
	assert.Equal(t, 20, l.Get(2))
	assert.Equal(t, 40, l.Get(4))

	// New appends continue the logical numbering.
	assert.Equal(t, 5, l.Append(50))
	assert.Equal(t, 50, l.Get(5))
}

func TestDropLast(t *testing.T) {
	l := New[int]()
	for i := 0; i < 3; i++ {
		l.Append(i)
	}

	assert.Equal(t, 2, l.DropLast())
	assert.Equal(t, 1, l.LastIndex())

	l.Append(7)
	assert.Equal(t, 7, l.Get(2))
}

func TestWindowCycles(t *testing.T) {
	l := New[int]()

	for round := 0; round < 100; round++ {
		l.Append(round)
		if l.Size() > 1 {
			l.DropFirst()
		}
	}

	assert.Equal(t, 1, l.Size())
	assert.Equal(t, 99, l.FirstIndex())
	assert.Equal(t, 99, l.Get(99))
}

func TestOutOfRangePanics(t *testing.T) {
	l := New[int]()
	l.Append(1)
	l.DropFirst()

	assert.Panics(t, func() { l.Get(0) })
	assert.Panics(t, func() { l.GetFirst() })
	assert.Panics(t, func() { l.DropLast() })
}

func TestEachAndSnapshot(t *testing.T) {
	l := New[int]()
	l.Append(5)
	l.Append(6)
	l.DropFirst()
	l.Append(7)

	var indices []int
	var values []int
	l.Each(func(s, v int) {
		indices = append(indices, s)
		values = append(values, v)
	})
	assert.Equal(t, []int{1, 2}, indices)
	assert.Equal(t, []int{6, 7}, values)

	assert.Equal(t, []int{6, 7}, l.Snapshot())
}
