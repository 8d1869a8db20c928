package blockdev

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreSyncRoundTrip(t *testing.T) {
	disk := NewMemDisk(4)
	s := New(disk)

	payload := make([]byte, BSIZE)
	payload[0] = 0xAB
	require.NoError(t, s.WriteBlock(1, payload))

	got, err := s.ReadBlock(1)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestStoreAsyncCompletionDrainsBeforeFlush(t *testing.T) {
	disk := NewMemDisk(8)
	s := New(disk)

	var completions []*Completion
	for i := uint32(0); i < 8; i++ {
		buf := make([]byte, BSIZE)
		buf[0] = byte(i)
		completions = append(completions, s.WriteBlockAsync(i, buf))
	}
	for _, c := range completions {
		require.NoError(t, c.Wait())
	}
	require.Equal(t, 0, s.Inflight())

	require.NoError(t, s.Flush())
	require.Equal(t, 1, disk.FlushCount())

	for i := uint32(0); i < 8; i++ {
		got, err := s.ReadBlock(i)
		require.NoError(t, err)
		require.Equal(t, byte(i), got[0])
	}
}

func TestStoreRejectsUnalignedPayload(t *testing.T) {
	disk := NewMemDisk(2)
	s := New(disk)
	err := s.WriteBlock(0, make([]byte, BSIZE-1))
	require.Error(t, err)
}

func TestFileDiskPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.img")

	fd, err := OpenFileDisk(path, 4)
	require.NoError(t, err)
	s := New(fd)

	payload := make([]byte, BSIZE)
	payload[10] = 0x42
	require.NoError(t, s.WriteBlock(2, payload))
	require.NoError(t, s.Flush())
	require.NoError(t, fd.Close())

	fd2, err := OpenFileDisk(path, 4)
	require.NoError(t, err)
	defer fd2.Close()
	s2 := New(fd2)

	got, err := s2.ReadBlock(2)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}
