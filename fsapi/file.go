package fsapi

import (
	"fmt"
	"sync"

	"github.com/soypat/dualfs/vfs"
)

// File is an open file table entry, shared by every fd Dup produces
// from it. Grounded on struct file (file.h): a ref count, the
// readable/writable bits sys_open derives from omode, an inode-backed
// offset or a pipe end, never both.
type File struct {
	mu sync.Mutex
	ref int

	readable, writable bool

	ino vfs.Inode
	off uint32

	pipe      *pipe
	pipeWrite bool
}

func (f *File) read(dst []byte) (int, error) {
	if !f.readable {
		return 0, fmt.Errorf("fsapi: file not open for reading")
	}
	if f.pipe != nil {
		return f.pipe.read(dst)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ino.Lock(); err != nil {
		return 0, err
	}
	defer f.ino.Unlock()
	n, err := f.ino.Read(dst, f.off)
	f.off += uint32(n)
	return n, err
}

func (f *File) write(src []byte) (int, error) {
	if !f.writable {
		return 0, fmt.Errorf("fsapi: file not open for writing")
	}
	if f.pipe != nil {
		return f.pipe.write(src)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ino.Lock(); err != nil {
		return 0, err
	}
	defer f.ino.Unlock()
	n, err := f.ino.Write(src, f.off)
	f.off += uint32(n)
	return n, err
}

// close is sys_close's filedup/fileclose dance collapsed to one ref
// count: the last ref on a pipe end shuts down that half of the pipe,
// the last ref on an inode-backed file drops the inode reference.
func (f *File) close() error {
	f.mu.Lock()
	f.ref--
	last := f.ref == 0
	f.mu.Unlock()
	if !last {
		return nil
	}
	if f.pipe != nil {
		f.pipe.closeEnd(f.pipeWrite)
		return nil
	}
	return f.ino.Put()
}
