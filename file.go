package qflash

import (
	"errors"
	"io"
	"os"
)

var errSeekEnd = errors.New("qflash: seek from end is not supported")

// File is the single-client device handle: a seekable byte stream over the
// flash contents. Only one File may be open per Controller at a time;
// administrative callers can still use the Controller directly, and their
// calls serialize against the handle through the internal lock.
type File struct {
	c      *Controller
	pos    int64
	closed bool
}

// Open acquires the exclusive device handle, failing with ErrBusy when it
// is already held by another client.
func (c *Controller) Open() (*File, error) {
	if !c.opened.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	return &File{c: c}, nil
}

// Close releases the handle. Releasing always succeeds.
func (f *File) Close() error {
	if !f.closed {
		f.closed = true
		f.c.opened.Store(false)
	}
	return nil
}

// Read reads from the current position and advances it. Reading at or past
// the end of flash returns io.EOF.
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	n, err := f.c.ReadAt(p, f.pos)
	f.pos += int64(n)
	if n == 0 && err == nil && len(p) > 0 {
		return 0, io.EOF
	}
	return n, err
}

// Write writes at the current position and advances it. A write starting
// past the end of flash fails with ErrNoSpace; a clamped write reports
// io.ErrShortWrite alongside the bytes written.
func (f *File) Write(p []byte) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	n, err := f.c.WriteAt(p, f.pos)
	f.pos += int64(n)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return n, err
}

// Seek repositions the handle. Only io.SeekStart and io.SeekCurrent are
// supported; a negative resulting position is rejected.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = f.pos + offset
	case io.SeekEnd:
		return 0, errSeekEnd
	default:
		return 0, errors.New("qflash: invalid seek whence")
	}
	if pos < 0 {
		return 0, errors.New("qflash: negative seek position")
	}
	f.pos = pos
	return pos, nil
}
