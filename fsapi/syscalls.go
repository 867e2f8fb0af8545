package fsapi

import (
	"fmt"

	"github.com/soypat/dualfs/icache"
	"github.com/soypat/dualfs/vfs"
)

// Open is sys_open: O_CREATE goes through create(), anything else
// resolves the existing inode and calls its engine-specific Open for
// the directory-write-permission check (spec §4.3/§4.2's Open(flags)
// capability).
func (p *Process) Open(path string, flags int) (fd int, err error) {
	fd = -1
	err = p.guard("open", func() error {
		cwd := p.getCwd()
		var ino vfs.Inode
		if flags&vfs.OCREATE != 0 {
			p.fs.begin()
			child, err := p.fs.create(cwd, path, vfs.TypeFile, 0, 0)
			cerr := p.fs.commit()
			if err != nil {
				return err
			}
			if cerr != nil {
				child.UnlockPut()
				return cerr
			}
			ino = child
		} else {
			found, err := p.fs.mounts.Lookup(cwd, path)
			if err != nil {
				return err
			}
			if err := found.Lock(); err != nil {
				return err
			}
			if err := found.Open(flags); err != nil {
				found.UnlockPut()
				return err
			}
			ino = found
		}

		f := &File{
			ref:      1,
			readable: vfs.Readable(flags),
			writable: vfs.Writable(flags),
			ino:      ino,
		}
		ino.Unlock()
		allocated, err := p.fdalloc(f)
		if err != nil {
			ino.Put()
			return err
		}
		fd = allocated
		return nil
	})
	if err != nil {
		fd = -1
	}
	return fd, err
}

// Close is sys_close.
func (p *Process) Close(fd int) error {
	return p.guard("close", func() error {
		f, err := p.getFile(fd)
		if err != nil {
			return err
		}
		p.clearFD(fd)
		return f.close()
	})
}

// Read is sys_read.
func (p *Process) Read(fd int, dst []byte) (n int, err error) {
	err = p.guard("read", func() error {
		f, err := p.getFile(fd)
		if err != nil {
			return err
		}
		n, err = f.read(dst)
		return err
	})
	return n, err
}

// Write is sys_write.
func (p *Process) Write(fd int, src []byte) (n int, err error) {
	err = p.guard("write", func() error {
		f, err := p.getFile(fd)
		if err != nil {
			return err
		}
		n, err = f.write(src)
		return err
	})
	return n, err
}

// Dup is sys_dup: a second fd sharing the same File, its ref bumped.
func (p *Process) Dup(fd int) (nfd int, err error) {
	nfd = -1
	err = p.guard("dup", func() error {
		f, err := p.getFile(fd)
		if err != nil {
			return err
		}
		allocated, err := p.fdalloc(f)
		if err != nil {
			return err
		}
		f.mu.Lock()
		f.ref++
		f.mu.Unlock()
		nfd = allocated
		return nil
	})
	if err != nil {
		nfd = -1
	}
	return nfd, err
}

// Pipe is sys_pipe: two fds straddling one pipe, rolled back if the
// second fdalloc fails after the first succeeded.
func (p *Process) Pipe() (readFD, writeFD int, err error) {
	readFD, writeFD = -1, -1
	err = p.guard("pipe", func() error {
		pp := newPipe()
		rf := &File{ref: 1, readable: true, pipe: pp}
		wf := &File{ref: 1, writable: true, pipe: pp, pipeWrite: true}

		rfd, err := p.fdalloc(rf)
		if err != nil {
			return err
		}
		wfd, err := p.fdalloc(wf)
		if err != nil {
			p.clearFD(rfd)
			return err
		}
		readFD, writeFD = rfd, wfd
		return nil
	})
	if err != nil {
		readFD, writeFD = -1, -1
	}
	return readFD, writeFD, err
}

// Fstat is sys_fstat.
func (p *Process) Fstat(fd int) (st vfs.Stat, err error) {
	err = p.guard("fstat", func() error {
		f, err := p.getFile(fd)
		if err != nil {
			return err
		}
		if f.pipe != nil {
			return fmt.Errorf("fsapi: fstat: pipe fds have no stat: %w", vfs.ErrNotSupported)
		}
		if err := f.ino.Lock(); err != nil {
			return err
		}
		defer f.ino.Unlock()
		st = f.ino.Stat()
		return nil
	})
	return st, err
}

// Getcwd is sys_getcwd, available only on engines implementing GetPath
// (FAT, per spec §4.4); SFS reports ErrNotSupported through the same
// path GetPath itself does.
func (p *Process) Getcwd() (path string, err error) {
	err = p.guard("getcwd", func() error {
		var gerr error
		path, gerr = vfs.Getcwd(p.getCwd())
		return gerr
	})
	return path, err
}

// Chdir is sys_chdir.
func (p *Process) Chdir(path string) error {
	return p.guard("chdir", func() error {
		cwd := p.getCwd()
		ino, err := p.fs.mounts.Lookup(cwd, path)
		if err != nil {
			return err
		}
		if err := ino.Lock(); err != nil {
			return err
		}
		if ino.GetType() != vfs.TypeDir {
			ino.UnlockPut()
			return fmt.Errorf("fsapi: chdir %q: %w", path, vfs.ErrNotDir)
		}
		ino.Unlock()

		p.mu.Lock()
		old := p.cwd
		p.cwd = ino
		p.mu.Unlock()
		return old.Put()
	})
}

// Mkdir is sys_mkdir.
func (p *Process) Mkdir(path string) error {
	return p.guard("mkdir", func() error {
		cwd := p.getCwd()
		p.fs.begin()
		child, err := p.fs.create(cwd, path, vfs.TypeDir, 0, 0)
		if err == nil {
			err = child.UnlockPut()
		}
		if cerr := p.fs.commit(); err == nil {
			err = cerr
		}
		return err
	})
}

// Mknod is sys_mknod.
func (p *Process) Mknod(path string, major, minor int16) error {
	return p.guard("mknod", func() error {
		cwd := p.getCwd()
		p.fs.begin()
		child, err := p.fs.create(cwd, path, vfs.TypeDev, major, minor)
		if err == nil {
			err = child.UnlockPut()
		}
		if cerr := p.fs.commit(); err == nil {
			err = cerr
		}
		return err
	})
}

// Touch is the supplemented touch syscall (spec §10): create the file
// if absent, the way sys_touch's create(path, T_FILE, 0, 0) does, and
// always IUpdate it. On FAT that re-stamps the entry's CrtDate/CrtTime
// (the only timestamp fields the engine writes; WrtDate/WrtTime are
// left untouched), since create()'s existing-file branch would
// otherwise make touch a pure no-op there. On SFS it rewrites the
// unchanged dinode, which has no time field.
func (p *Process) Touch(path string) error {
	return p.guard("touch", func() error {
		cwd := p.getCwd()
		p.fs.begin()
		child, err := p.fs.create(cwd, path, vfs.TypeFile, 0, 0)
		if err != nil {
			p.fs.commit()
			return err
		}
		err = child.IUpdate()
		if uerr := child.UnlockPut(); err == nil {
			err = uerr
		}
		if cerr := p.fs.commit(); err == nil {
			err = cerr
		}
		return err
	})
}

// Link is sys_link, restricted to SFS per spec §4.5 ("link: SFS only,
// FAT returns failure"): FAT's directory entry IS its inode, so a
// second directory entry pointing at one FAT inode would need its own
// first-cluster/size shadow copy kept in sync, a feature FAT32 doesn't
// have. Grounded on sysfile.c's create/bad-label rollback shape.
func (p *Process) Link(oldPath, newPath string) error {
	return p.guard("link", func() error {
		cwd := p.getCwd()
		old, err := p.fs.mounts.Lookup(cwd, oldPath)
		if err != nil {
			return err
		}
		if err := old.Lock(); err != nil {
			return err
		}
		if old.GetType() == vfs.TypeDir {
			old.UnlockPut()
			return fmt.Errorf("fsapi: link %q: %w", oldPath, vfs.ErrIsDir)
		}
		if old.FSType() != icache.SFS {
			old.UnlockPut()
			return fmt.Errorf("fsapi: link %q: %w", oldPath, vfs.ErrNotSupported)
		}
		old.LinkInc()
		if err := old.IUpdate(); err != nil {
			old.LinkDec()
			old.UnlockPut()
			return err
		}
		old.Unlock()

		p.fs.begin()
		dp, name, err := p.fs.mounts.LookupParent(cwd, newPath)
		if err != nil {
			p.fs.commit()
			return p.linkBad(old, err)
		}
		if err := dp.Lock(); err != nil {
			p.fs.commit()
			return p.linkBad(old, err)
		}
		if dp.Dev() != old.Dev() {
			dp.UnlockPut()
			p.fs.commit()
			return p.linkBad(old, fmt.Errorf("fsapi: link %q -> %q: cross-device: %w", oldPath, newPath, vfs.ErrNotSupported))
		}
		if err := dp.DirLink(name, old); err != nil {
			dp.UnlockPut()
			p.fs.commit()
			return p.linkBad(old, err)
		}
		err = dp.UnlockPut()
		if cerr := p.fs.commit(); err == nil {
			err = cerr
		}
		old.Put()
		return err
	})
}

// linkBad is sys_link's "bad:" label: undo the premature LinkInc and
// release old's reference.
func (p *Process) linkBad(old vfs.Inode, cause error) error {
	if err := old.Lock(); err == nil {
		old.LinkDec()
		old.IUpdate()
		old.UnlockPut()
	} else {
		old.Put()
	}
	return cause
}

// Unlink is sys_unlink. dp.Unlink already locks and releases dp
// itself, so unlike every other directory-mutating operation here it
// is not wrapped in its own Lock/UnlockPut bracket (both engines'
// Unlink self-lock and self-release their directory).
func (p *Process) Unlink(path string) error {
	return p.guard("unlink", func() error {
		cwd := p.getCwd()
		dp, name, err := p.fs.mounts.LookupParent(cwd, path)
		if err != nil {
			return err
		}
		if name == "." || name == ".." {
			dp.Put()
			return fmt.Errorf("fsapi: unlink %q: %w", path, vfs.ErrPermission)
		}
		p.fs.begin()
		err = dp.Unlink(name)
		if cerr := p.fs.commit(); err == nil {
			err = cerr
		}
		return err
	})
}
