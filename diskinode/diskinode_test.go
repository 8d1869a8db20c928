package diskinode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ino := &Inode{Type: 2, Nlink: 3, Size: 8192, Indirect: 77}
	ino.Direct[0] = 10
	ino.Direct[9] = 19

	buf := make([]byte, Size)
	require.NoError(t, Encode(ino, buf))

	got, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, ino, got)
}

func TestEncodeBlockPacksMultipleInodes(t *testing.T) {
	inodes := make([]*Inode, 3)
	for i := range inodes {
		inodes[i] = &Inode{Type: 2, Nlink: int16(i + 1), Size: uint32(i * 4096)}
	}
	buf, err := EncodeBlock(inodes)
	require.NoError(t, err)

	decoded, err := DecodeBlock(buf)
	require.NoError(t, err)
	require.Len(t, decoded, PerBlock)
	for i := range inodes {
		require.Equal(t, inodes[i].Nlink, decoded[i].Nlink)
	}
	require.Equal(t, uint8(0), decoded[len(inodes)].Type)
}

func TestSlotForSpansBlocks(t *testing.T) {
	blk, slot := SlotFor(5, 0)
	require.Equal(t, uint32(5), blk)
	require.Equal(t, 0, slot)

	blk2, slot2 := SlotFor(5, uint32(PerBlock))
	require.Equal(t, uint32(6), blk2)
	require.Equal(t, 0, slot2)
}
