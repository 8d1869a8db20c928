// Package util holds small generic helpers shared across the
// filesystem engine, adapted from biscuit/src/util/util.go. The
// original also carried Readn/Writen helpers that reinterpreted a byte
// slice as an integer via unsafe.Pointer; this module's on-disk
// records are encoded with encoding/binary instead (see
// journal.wire.go and diskinode), so those two are not carried
// forward — an unsafe reinterpret-cast assumes the host's native
// endianness, while the on-disk formats named in spec.md §6 are fixed
// little-endian.
package util

// Int is satisfied by all built-in integer types.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Min returns the smaller of a and b.
func Min[T Int](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Rounddown aligns v down to the nearest multiple of b.
func Rounddown[T Int](v, b T) T {
	return v - (v % b)
}

// Roundup aligns v up to the nearest multiple of b.
func Roundup[T Int](v, b T) T {
	return Rounddown(v+b-1, b)
}
