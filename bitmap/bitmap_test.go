package bitmap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"scalefs/defs"
)

func TestAllocExhaustsThenRollbackRestores(t *testing.T) {
	v := NewVector(100, 4)
	require.Equal(t, 4, v.Free())

	p := NewPending()
	var got []uint32
	for i := 0; i < 4; i++ {
		bno, err := p.Alloc(v)
		require.Equal(t, defs.EOK, err)
		got = append(got, bno)
	}
	require.Equal(t, 0, v.Free())

	_, err := p.Alloc(v)
	require.Equal(t, defs.ENOSPC, err)

	v.Rollback(p)
	require.Equal(t, 4, v.Free())
}

func TestCommitKeepsAllocatedAndFreesStaged(t *testing.T) {
	v := NewVector(0, 4)
	p := NewPending()

	a, err := p.Alloc(v)
	require.Equal(t, defs.EOK, err)
	b, err := p.Alloc(v)
	require.Equal(t, defs.EOK, err)
	require.Equal(t, 2, v.Free())

	p.Free(a)
	v.Commit(p)

	require.Equal(t, 3, v.Free())

	p2 := NewPending()
	reused, err := p2.Alloc(v)
	require.Equal(t, defs.EOK, err)
	require.Equal(t, a, reused)
	require.NotEqual(t, b, reused)
}

func TestAllocNeverDoubleIssuesABlock(t *testing.T) {
	v := NewVector(0, 8)
	p1 := NewPending()
	p2 := NewPending()

	seen := map[uint32]bool{}
	for i := 0; i < 4; i++ {
		bno, err := p1.Alloc(v)
		require.Equal(t, defs.EOK, err)
		require.False(t, seen[bno])
		seen[bno] = true
	}
	for i := 0; i < 4; i++ {
		bno, err := p2.Alloc(v)
		require.Equal(t, defs.EOK, err)
		require.False(t, seen[bno])
		seen[bno] = true
	}
	require.Equal(t, 0, v.Free())
}

func TestMarkAllocatedRejectsOutOfRange(t *testing.T) {
	v := NewVector(10, 2)
	require.NoError(t, v.MarkAllocated(10))
	require.Error(t, v.MarkAllocated(999))
}
