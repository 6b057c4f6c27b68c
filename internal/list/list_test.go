package list

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func values(l *List[int]) []int {
	var out []int
	l.Each(func(n *Node[int]) bool {
		out = append(out, n.Value)
		return false
	})
	return out
}

func TestPushRemoveOrder(t *testing.T) {
	var l List[int]
	nodes := make([]Node[int], 4)
	for i := range nodes {
		nodes[i].Value = i
		l.PushBack(&nodes[i])
	}
	assert.Equal(t, 4, l.Len())
	assert.Equal(t, []int{0, 1, 2, 3}, values(&l))

	require.True(t, l.Remove(&nodes[1]))
	assert.False(t, l.Remove(&nodes[1]))
	assert.False(t, nodes[1].Linked())
	assert.Equal(t, []int{0, 2, 3}, values(&l))

	assert.Equal(t, 0, l.PopFront().Value)
	assert.Equal(t, 2, l.Front().Value)
	assert.Equal(t, 3, l.Front().Next().Value)
	assert.Nil(t, l.Front().Next().Next())
}

func TestDoubleLinkPanics(t *testing.T) {
	var a, b List[int]
	var n Node[int]
	a.PushBack(&n)
	assert.Panics(t, func() { a.PushBack(&n) })
	assert.Panics(t, func() { b.PushBack(&n) })
	assert.False(t, b.Remove(&n), "node owned by another list")
	assert.Same(t, &a, n.Owner())
}

func TestMoveTo(t *testing.T) {
	var idle, active List[int]
	var n Node[int]
	n.Value = 7
	idle.PushBack(&n)

	MoveTo(&active, &n)
	assert.True(t, idle.Empty())
	assert.Equal(t, []int{7}, values(&active))

	MoveTo(&active, &n)
	assert.Equal(t, 1, active.Len())
}

func TestEachSnapshotAndEarlyStop(t *testing.T) {
	var l List[int]
	nodes := make([]Node[int], 3)
	for i := range nodes {
		nodes[i].Value = i
		l.PushBack(&nodes[i])
	}

	var seen []int
	extra := Node[int]{Value: 9}
	l.Each(func(n *Node[int]) bool {
		seen = append(seen, n.Value)
		if n.Value == 0 {
			l.Remove(&nodes[2])
			l.PushBack(&extra)
		}
		return false
	})
	assert.Equal(t, []int{0, 1, 2}, seen)
	assert.Equal(t, []int{0, 1, 9}, values(&l))

	count := 0
	stopped := l.Each(func(*Node[int]) bool {
		count++
		return count == 2
	})
	assert.True(t, stopped)
	assert.Equal(t, 2, count)
}
