// Package mnode implements C4: the in-memory mnode object graph
// (directories, files, devices, sockets), the refcache-style weak
// reference scheme that reclaims unreferenced mnodes, and the
// sv6-style mlinkref split between a strong cache pin and an nlink
// contribution. Grounded on original_source/include/mnode.hh, with the
// directory hash table and the interner generalized from the teacher's
// biscuit/src/hashtable/hashtable.go (see striped.go) and the fixed-
// length name type adapted from biscuit/src/ustr/ustr.go.
package mnode

import (
	"bytes"
	"hash/fnv"

	"scalefs/defs"
)

// Name is a directory entry name, fixed at defs.DIRSIZ bytes (NUL
// padded), matching the on-disk directory entry layout in spec.md §6
// and the teacher's Ustr/DIRSIZ convention.
type Name [defs.DIRSIZ]byte

// NewName truncates s to DIRSIZ bytes and NUL-pads it into a Name.
func NewName(s string) Name {
	var n Name
	copy(n[:], s)
	return n
}

// String returns the name with its NUL padding stripped.
func (n Name) String() string {
	i := bytes.IndexByte(n[:], 0)
	if i < 0 {
		i = len(n)
	}
	return string(n[:i])
}

// IsDot reports whether n is ".".
func (n Name) IsDot() bool { return n == NewName(".") }

// IsDotDot reports whether n is "..".
func (n Name) IsDotDot() bool { return n == NewName("..") }

func hashName(n Name) uint64 {
	h := fnv.New64a()
	h.Write(n[:])
	return h.Sum64()
}

func hashInum(i defs.Inum) uint64 {
	h := fnv.New64a()
	var b [8]byte
	for j := 0; j < 8; j++ {
		b[j] = byte(i >> (8 * j))
	}
	h.Write(b[:])
	return h.Sum64()
}
