package pageidx

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageStateFlags(t *testing.T) {
	var s PageState
	require.False(t, s.Valid())
	s.SetValid()
	require.True(t, s.Valid())

	require.False(t, s.Dirty())
	s.SetDirty()
	require.True(t, s.Dirty())
	s.ClearDirty()
	require.False(t, s.Dirty())

	require.True(t, s.TryLock())
	require.False(t, s.TryLock())
	s.Unlock()
	require.True(t, s.TryLock())
	s.Unlock()
}

func TestPageStateCopyConsistentIsolatesCaller(t *testing.T) {
	var s PageState
	pi := &PageInfo{Data: []byte{1, 2, 3}}
	s.Install(pi)

	cp := s.CopyConsistent()
	cp[0] = 0xFF
	require.Equal(t, byte(1), pi.Data[0])
}

func TestIndexGetPageFaultsThenResolves(t *testing.T) {
	ix := NewIndex()
	_, err := ix.GetPage(0)
	require.Error(t, err)
	var pf *PageFault
	require.True(t, errors.As(err, &pf))
	require.Equal(t, 0, pf.PageIdx)

	s := ix.Get(0)
	s.Install(&PageInfo{Data: make([]byte, 4096)})

	pi, err := ix.GetPage(0)
	require.NoError(t, err)
	require.NotNil(t, pi)
}

type constLoader struct{ data []byte }

func (l constLoader) LoadPage(pageIdx int) (*PageInfo, error) {
	cp := make([]byte, len(l.data))
	copy(cp, l.data)
	return &PageInfo{Data: cp}, nil
}

func TestIndexFaultInRaceInstallsExactlyOneWinner(t *testing.T) {
	ix := NewIndex()
	loader := constLoader{data: []byte("page-data")}

	const n = 16
	results := make([]*PageInfo, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pi, err := ix.FaultIn(5, loader)
			require.NoError(t, err)
			results[i] = pi
		}(i)
	}
	wg.Wait()

	first := results[0]
	for _, r := range results {
		require.Same(t, first, r)
	}
}

func TestIndexSparseAcrossFanoutBoundary(t *testing.T) {
	ix := NewIndex()
	s := ix.Get(level2Fanout + 3)
	s.Install(&PageInfo{Data: []byte{9}})

	pi, err := ix.GetPage(level2Fanout + 3)
	require.NoError(t, err)
	require.Equal(t, byte(9), pi.Data[0])

	_, err = ix.GetPage(3)
	require.Error(t, err)
}

func TestIndexForEachValidSkipsFaulted(t *testing.T) {
	ix := NewIndex()
	ix.Get(0).Install(&PageInfo{Data: []byte{1}})
	ix.Get(2).Install(&PageInfo{Data: []byte{2}})
	ix.Get(1) // materialize but never install

	var seen []int
	ix.ForEachValid(func(pageIdx int, s *PageState) bool {
		seen = append(seen, pageIdx)
		return true
	})
	require.Equal(t, []int{0, 2}, seen)
}
