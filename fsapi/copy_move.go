package fsapi

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/soypat/dualfs/icache"
	"github.com/soypat/dualfs/sfs"
	"github.com/soypat/dualfs/vfs"
)

const copyChunk = 512

// expandDirDest implements sys_copy/sys_move's destination-is-a-
// directory special case: if dst already resolves to a directory,
// the real destination is dst/basename(src).
func (p *Process) expandDirDest(srcPath, dstPath string) (string, error) {
	cwd := p.getCwd()
	existing, err := p.fs.mounts.Lookup(cwd, dstPath)
	if err != nil {
		return dstPath, nil
	}
	if err := existing.Lock(); err != nil {
		return "", err
	}
	isDir := existing.GetType() == vfs.TypeDir
	if err := existing.UnlockPut(); err != nil {
		return "", err
	}
	if !isDir {
		return dstPath, nil
	}
	base := basename(srcPath)
	if strings.HasSuffix(dstPath, "/") {
		return dstPath + base, nil
	}
	return dstPath + "/" + base, nil
}

func basename(path string) string {
	path = strings.TrimRight(path, "/")
	i := strings.LastIndexByte(path, '/')
	return path[i+1:]
}

// copyChunkDepth is how many chunks streamCopy's reader is allowed to
// run ahead of the writer, the pipeline's double-buffering depth.
const copyChunkDepth = 2

type copyChunkData struct {
	buf []byte
	off uint32
}

// streamCopy copies src's full contents into dst in fixed strides,
// grounded on sys_copy's read/write loop over vop_read/vop_write but
// pipelined across two goroutines with errgroup (SPEC_FULL.md §8),
// the same pattern fat32.FS.mirrorFAT uses for its own independent
// writes: one goroutine reads ahead while the other drains the
// previous chunk to dst, so the copy isn't serialized behind every
// read-then-write round trip.
func streamCopy(src, dst vfs.Inode) error {
	if err := src.Lock(); err != nil {
		return err
	}
	defer src.Unlock()
	if err := dst.Lock(); err != nil {
		return err
	}
	defer dst.Unlock()

	chunks := make(chan copyChunkData, copyChunkDepth)
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		defer close(chunks)
		var off uint32
		for {
			buf := make([]byte, copyChunk)
			n, err := src.Read(buf, off)
			if err != nil {
				return err
			}
			if n == 0 {
				return nil
			}
			select {
			case chunks <- copyChunkData{buf[:n], off}:
			case <-ctx.Done():
				return ctx.Err()
			}
			off += uint32(n)
		}
	})
	g.Go(func() error {
		for {
			select {
			case c, ok := <-chunks:
				if !ok {
					return nil
				}
				if _, err := dst.Write(c.buf, c.off); err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
	return g.Wait()
}

// Copy is sys_copy: src must be a regular file; dst may name the new
// file directly or an existing directory to drop it into.
func (p *Process) Copy(srcPath, dstPath string) error {
	return p.guard("copy", func() error {
		cwd := p.getCwd()
		src, err := p.fs.mounts.Lookup(cwd, srcPath)
		if err != nil {
			return err
		}
		if err := src.Lock(); err != nil {
			return err
		}
		if src.GetType() != vfs.TypeFile {
			src.UnlockPut()
			return fmt.Errorf("fsapi: copy %q: %w", srcPath, vfs.ErrIsDir)
		}
		major, minor := src.GetMajor(), src.GetMinor()
		src.Unlock()

		dstPath, err = p.expandDirDest(srcPath, dstPath)
		if err != nil {
			src.Put()
			return err
		}

		p.fs.begin()
		dst, err := p.fs.create(cwd, dstPath, vfs.TypeFile, major, minor)
		if err != nil {
			p.fs.commit()
			src.Put()
			return err
		}
		dst.Unlock()

		err = streamCopy(src, dst)
		if cerr := p.fs.commit(); err == nil {
			err = cerr
		}
		src.Put()
		dst.Put()
		return err
	})
}

// Move is Copy followed by unlinking the source, in the same
// transaction bracket. Grounded on sysfile.c's sys_move, which
// duplicates sys_copy's body and then calls vop_unlink on the source's
// parent; unlike the original (which passes the full source path as
// the unlink name, a latent bug since vop_unlink expects a bare
// element name) this unlinks the correct basename, matching §4.5's
// authoritative contract over the source's discrepancy.
func (p *Process) Move(srcPath, dstPath string) error {
	return p.guard("move", func() error {
		cwd := p.getCwd()
		src, err := p.fs.mounts.Lookup(cwd, srcPath)
		if err != nil {
			return err
		}
		if err := src.Lock(); err != nil {
			return err
		}
		if src.GetType() != vfs.TypeFile {
			src.UnlockPut()
			return fmt.Errorf("fsapi: move %q: %w", srcPath, vfs.ErrIsDir)
		}
		major, minor := src.GetMajor(), src.GetMinor()
		src.Unlock()

		dstPath, err = p.expandDirDest(srcPath, dstPath)
		if err != nil {
			src.Put()
			return err
		}

		p.fs.begin()
		dst, err := p.fs.create(cwd, dstPath, vfs.TypeFile, major, minor)
		if err != nil {
			p.fs.commit()
			src.Put()
			return err
		}
		dst.Unlock()

		if err := streamCopy(src, dst); err != nil {
			p.fs.commit()
			src.Put()
			dst.Put()
			return err
		}
		dst.Put()

		dp, name, err := p.fs.mounts.LookupParent(cwd, srcPath)
		src.Put()
		if err != nil {
			p.fs.commit()
			return err
		}
		err = dp.Unlink(name)
		if cerr := p.fs.commit(); err == nil {
			err = cerr
		}
		return err
	})
}

// Remove is the supplemented recursive-delete syscall (spec §4.5):
// sys_remove's original body was a bare `return 0`, never actually
// removing anything. SFS directories can enumerate their own entries
// (sfs.Inode.ReadDirNames); FAT32 has no such capability wired through
// vfs, so remove on a FAT path fails explicitly rather than silently
// doing nothing.
func (p *Process) Remove(path string) error {
	return p.guard("remove", func() error {
		cwd := p.getCwd()
		target, err := p.fs.mounts.Lookup(cwd, path)
		if err != nil {
			return err
		}
		if target.FSType() != icache.SFS {
			target.Put()
			return fmt.Errorf("fsapi: remove %q: recursive delete unsupported on this engine: %w", path, vfs.ErrNotSupported)
		}
		target.Put()

		p.fs.begin()
		err = p.removeTree(path)
		if cerr := p.fs.commit(); err == nil {
			err = cerr
		}
		return err
	})
}

func (p *Process) removeTree(path string) error {
	cwd := p.getCwd()
	ino, err := p.fs.mounts.Lookup(cwd, path)
	if err != nil {
		return err
	}
	if err := ino.Lock(); err != nil {
		return err
	}
	if ino.GetType() != vfs.TypeDir {
		if err := ino.UnlockPut(); err != nil {
			return err
		}
		dp, name, err := p.fs.mounts.LookupParent(cwd, path)
		if err != nil {
			return err
		}
		return dp.Unlink(name)
	}

	sino, ok := ino.(*sfs.Inode)
	if !ok {
		ino.UnlockPut()
		return fmt.Errorf("fsapi: remove %q: %w", path, vfs.ErrNotSupported)
	}
	// names is read while ino stays locked across both GetType and
	// ReadDirNames, then released once: reacquiring a slot after
	// dropping its last ref risks the cache recycling it for another
	// key in between.
	names, readErr := sino.ReadDirNames()
	if err := ino.UnlockPut(); err != nil {
		return err
	}
	if readErr != nil {
		return readErr
	}

	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		if err := p.removeTree(joinPath(path, name)); err != nil {
			return err
		}
	}

	dp, name, err := p.fs.mounts.LookupParent(cwd, path)
	if err != nil {
		return err
	}
	return dp.Unlink(name)
}

// Rmdir is sys_rmdir completed: the original left the final unlink
// commented out (`//weiwan!!!`) after validating the target exists and
// is a directory. This checks emptiness first so a non-empty directory
// fails with ErrNotEmpty rather than being torn down.
func (p *Process) Rmdir(path string) error {
	return p.guard("rmdir", func() error {
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
			return fmt.Errorf("fsapi: rmdir %q: %w", path, vfs.ErrNotDir)
		}
		if !ino.IsDirEmpty() {
			ino.UnlockPut()
			return fmt.Errorf("fsapi: rmdir %q: %w", path, vfs.ErrNotEmpty)
		}
		if err := ino.UnlockPut(); err != nil {
			return err
		}

		dp, name, err := p.fs.mounts.LookupParent(cwd, path)
		if err != nil {
			return err
		}
		p.fs.begin()
		err = dp.Unlink(name)
		if cerr := p.fs.commit(); err == nil {
			err = cerr
		}
		return err
	})
}

func joinPath(dir, name string) string {
	dir = strings.TrimRight(dir, "/")
	return dir + "/" + name
}
