// Package vfs implements the polymorphic inode capability interface
// and pathname resolution shared by the sfs and fat32 engines (spec
// §4.4): a uniform lookup/lookup_parent/getcwd layer that drives either
// engine through the same small set of operations, plus the
// device-name table backing the optional `name:/…` path prefix.
package vfs

import (
	"errors"
	"fmt"

	"github.com/soypat/dualfs/icache"
)

// File type codes, shared wire values with stat (spec §6).
const (
	TypeDir  uint8 = 1
	TypeFile uint8 = 2
	TypeDev  uint8 = 3
)

// Non-fatal sentinel errors, checked with errors.Is. Each engine may
// additionally define its own sentinels for conditions the other
// engine cannot hit (e.g. sfs.ErrBadSuperblock, fat32.ErrNameTooLong).
var (
	ErrNotFound     = errors.New("vfs: no such file or directory")
	ErrNotDir       = errors.New("vfs: not a directory")
	ErrIsDir        = errors.New("vfs: is a directory")
	ErrExists       = errors.New("vfs: name already exists")
	ErrNotEmpty     = errors.New("vfs: directory not empty")
	ErrPermission   = errors.New("vfs: operation not permitted")
	ErrNotSupported = errors.New("vfs: capability not supported by this engine")
)

// FatalError re-exports icache.FatalError so callers only need to
// import vfs to recognize the fatal error class.
type FatalError = icache.FatalError

// Stat is the wire shape returned to user processes (spec §6); the
// fstype field lets the `ls` utility show which engine owns a path.
type Stat struct {
	Type   uint8
	Dev    uint32
	Ino    uint32
	NLink  int16
	Size   uint32
	FSType icache.FSType
}

// Inode is the capability set every engine's in-memory inode type must
// implement. Capabilities an engine does not support (Ialloc on FAT,
// GetPath on SFS) return ErrNotSupported rather than being absent —
// namei/nameiparent are not methods here: both engines' C
// implementations were identical trampolines onto one shared namex, so
// this package hoists path resolution into the free functions below
// instead of duplicating it per engine.
type Inode interface {
	FSType() icache.FSType
	Dev() uint32
	Inum() uint32

	// Lock, Unlock, UnlockPut, Dup and Put are ilock/iunlock/
	// iunlockput/ref_inc/ref_dec: thin wrappers the engine's Inode
	// keeps over its embedded *icache.Slot and the shared *icache.Cache.
	Lock() error
	Unlock()
	UnlockPut() error
	Dup() Inode
	Put() error

	Read(dst []byte, off uint32) (int, error)
	Write(src []byte, off uint32) (int, error)
	Stat() Stat
	IUpdate() error

	DirLookup(name string) (Inode, uint32, error)
	DirLink(name string, target Inode) error
	Unlink(name string) error
	IsDirEmpty() bool

	LinkInc()
	LinkDec()

	Ialloc(typ uint8) (Inode, error)

	// CreateInode allocates a new inode of typ under the directory ino,
	// links it into ino under name (and, for directories, populates its
	// own "." and ".." entries), and returns it LOCKED. Grounded on
	// fat_create_inode's one-step shape, which both engines now share:
	// FAT's inode identity is its first cluster, which does not exist
	// until the directory entry is written, so allocation and naming
	// cannot be split into two steps the way xv6's sfs_ialloc/dirlink
	// originally were.
	CreateInode(typ uint8, major, minor int16, name string) (Inode, error)

	Open(flags int) error

	GetType() uint8
	GetDev() uint32
	GetNLink() int16
	GetPath() (string, error)
	GetMajor() int16
	GetMinor() int16

	// DirSiz is this inode's engine's path-element buffer length
	// (DIRSIZ=14 for SFS, FAT_DIRSIZ=260 for FAT), consulted by
	// SkipElem while walking a path rooted at this inode.
	DirSiz() int
}

// Root is implemented by each engine's filesystem handle to hand back
// its cached root inode (spec §4.4 "Boot filesystem").
type Root interface {
	GetRoot() (Inode, error)
	// DirSiz is the per-engine path element buffer length used by
	// skipelem: DIRSIZ=14 for SFS, FAT_DIRSIZ=260 for FAT.
	DirSiz() int
}

func notSupported(op string) error {
	return fmt.Errorf("%s: %w", op, ErrNotSupported)
}

// NotSupported is a convenience constructor engines use for the
// methods of Inode they do not implement.
func NotSupported(op string) error { return notSupported(op) }
