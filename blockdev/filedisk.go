package blockdev

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// FileDisk is a Disk backed by a regular file, using golang.org/x/sys/unix
// directly so Flush is a real fdatasync barrier rather than relying on
// the stdlib's coarser (*os.File).Sync, which on some platforms also
// flushes metadata this module does not need flushed. Grounded in the
// teacher's fs.Disk_i interface (biscuit/src/fs/blk.go), which this
// module's block device sits behind in the same way.
type FileDisk struct {
	f *os.File
}

// OpenFileDisk opens (creating if needed) a file-backed disk at path,
// truncating/extending it to hold nblocks blocks.
func OpenFileDisk(path string, nblocks int) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "filedisk: open")
	}
	size := int64(nblocks) * BSIZE
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "filedisk: truncate")
	}
	return &FileDisk{f: f}, nil
}

// ReadAt implements Disk.
func (d *FileDisk) ReadAt(off int64, p []byte) error {
	n, err := unix.Pread(int(d.f.Fd()), p, off)
	if err != nil {
		return errors.Wrap(err, "filedisk: pread")
	}
	if n != len(p) {
		return errors.Errorf("filedisk: short read at %d: got %d of %d bytes", off, n, len(p))
	}
	return nil
}

// WriteAt implements Disk.
func (d *FileDisk) WriteAt(off int64, p []byte) error {
	n, err := unix.Pwrite(int(d.f.Fd()), p, off)
	if err != nil {
		return errors.Wrap(err, "filedisk: pwrite")
	}
	if n != len(p) {
		return errors.Errorf("filedisk: short write at %d: wrote %d of %d bytes", off, n, len(p))
	}
	return nil
}

// Flush implements Disk as an fdatasync barrier: data and enough
// metadata to retrieve it are forced to durable storage, but mtime/atime
// updates are not, matching what a journal commit actually needs.
func (d *FileDisk) Flush() error {
	if err := unix.Fdatasync(int(d.f.Fd())); err != nil {
		return errors.Wrap(err, "filedisk: fdatasync")
	}
	return nil
}

// Close releases the underlying file descriptor.
func (d *FileDisk) Close() error {
	return d.f.Close()
}
