package fsapi

import (
	"fmt"
	"sync"

	"github.com/soypat/dualfs/vfs"
)

// NOFILE is the per-process file descriptor table size, xv6's
// param.h constant (not present in this pack's filtered
// original_source, so carried from the well-known xv6 value rather
// than a discovered one).
const NOFILE = 16

// Process is one client's syscall context: its current directory and
// open file table. Grounded on struct proc's ofile[NOFILE]/cwd fields
// (proc.h) as driven by sysfile.c.
type Process struct {
	fs *FS

	mu    sync.Mutex
	cwd   vfs.Inode
	ofile [NOFILE]*File
}

// NewProcess starts a process rooted at cwd, which fs takes ownership
// of (its ref is released when the process's cwd changes or the
// process exits).
func (fs *FS) NewProcess(cwd vfs.Inode) *Process {
	return &Process{fs: fs, cwd: cwd}
}

// Exit releases the process's current directory and every open file,
// mirroring proc exit's close-all-files loop in sysfile.c's caller.
func (p *Process) Exit() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for fd := range p.ofile {
		if p.ofile[fd] == nil {
			continue
		}
		if err := p.ofile[fd].close(); err != nil && first == nil {
			first = err
		}
		p.ofile[fd] = nil
	}
	if p.cwd != nil {
		if err := p.cwd.Put(); err != nil && first == nil {
			first = err
		}
		p.cwd = nil
	}
	return first
}

// fdalloc installs f in the first free slot, argfd/fdalloc's fdalloc.
func (p *Process) fdalloc(f *File) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for fd := range p.ofile {
		if p.ofile[fd] == nil {
			p.ofile[fd] = f
			return fd, nil
		}
	}
	return -1, fmt.Errorf("fsapi: fdalloc: no free file descriptors")
}

func (p *Process) clearFD(fd int) {
	p.mu.Lock()
	p.ofile[fd] = nil
	p.mu.Unlock()
}

// getFile is argfd: validate fd and return its File.
func (p *Process) getFile(fd int) (*File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fd < 0 || fd >= NOFILE || p.ofile[fd] == nil {
		return nil, fmt.Errorf("fsapi: fd %d: bad file descriptor", fd)
	}
	return p.ofile[fd], nil
}

func (p *Process) getCwd() vfs.Inode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cwd
}
