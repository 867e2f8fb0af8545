package sfs

import (
	"fmt"
	"log/slog"

	"github.com/soypat/dualfs/blockdev"
	"github.com/soypat/dualfs/icache"
	"github.com/soypat/dualfs/vfs"
)

// FS is a mounted SFS volume: the superblock, the underlying buffer
// cache, and the shared inode cache this volume's inodes are keyed
// into. Grounded on sfs_fs.c's global `icache`/device pairing,
// generalized to a value the caller owns instead of a package-level
// global (spec's "Global inode cache" note already factors the cache
// itself out to icache.Cache; FS only needs to remember its own dev id
// and superblock).
type FS struct {
	dev   uint32
	bc    *blockdev.Cache
	sb    Superblock
	ic    *icache.Cache
	devsw *DeviceTable
	log   *slog.Logger
}

// Mount reads the superblock at sector 1 and returns a handle ready to
// serve iget/GetRoot. dev is the caller-chosen device id used as part
// of the shared inode cache's lookup key; devsw may be nil if this
// volume never hosts T_DEV inodes.
func Mount(bc *blockdev.Cache, dev uint32, ic *icache.Cache, devsw *DeviceTable, log *slog.Logger) (*FS, error) {
	buf, err := bc.Bread(superblockSector)
	if err != nil {
		return nil, fmt.Errorf("sfs: reading superblock: %w", err)
	}
	sb := decodeSuperblock(buf.Data)
	bc.Brelse(buf)
	if sb.NInodes == 0 || sb.Size == 0 {
		return nil, ErrBadSuperblock
	}
	return &FS{dev: dev, bc: bc, sb: sb, ic: ic, devsw: devsw, log: log}, nil
}

// Format writes a fresh superblock, zeroes the inode table and bitmap
// area of bc, and marks the blocks that layout occupies as allocated,
// sized for a volume of size blocks holding up to ninodes inodes. The
// root directory is NOT created by Format; callers create it by
// Ialloc'ing inum 1 and DirLink'ing its "." and ".." entries, the same
// way mkfs tooling built on top of this engine would.
func Format(bc *blockdev.Cache, size, ninodes uint32) error {
	sb := Superblock{Size: size, NBlocks: size, NInodes: ninodes, NLog: 0}
	buf, err := bc.Bread(superblockSector)
	if err != nil {
		return err
	}
	sb.encode(buf.Data)
	if err := bc.Bwrite(buf); err != nil {
		bc.Brelse(buf)
		return err
	}
	bc.Brelse(buf)

	ipb := sb.IPB()
	inodeBlocks := (ninodes + ipb - 1) / ipb
	for i := uint32(0); i < inodeBlocks; i++ {
		if err := bc.Zero(2 + i); err != nil {
			return err
		}
	}
	bbCount := (size + BPB - 1) / BPB
	bitmapStart := 2 + inodeBlocks
	for i := uint32(0); i < bbCount; i++ {
		if err := bc.Zero(bitmapStart + i); err != nil {
			return err
		}
	}
	// Mark the boot sector, superblock, inode table and bitmap blocks
	// themselves as in use so balloc never hands them out as data.
	for b := uint32(0); b < bitmapStart+bbCount; b++ {
		buf, err := bc.Bread(sb.BBlock(b))
		if err != nil {
			return err
		}
		bi := b % BPB
		buf.Data[bi/8] |= byte(1 << (bi % 8))
		err = bc.Bwrite(buf)
		bc.Brelse(buf)
		if err != nil {
			return err
		}
	}
	return nil
}

func (fs *FS) iget(inum uint32) *Inode {
	key := icache.Key{FSType: icache.SFS, Dev: fs.dev, Inum: inum}
	slot := fs.ic.Get(key, func() icache.Payload {
		return &Inode{fs: fs, dev: fs.dev, inum: inum}
	})
	ino := slot.Payload.(*Inode)
	ino.slot = slot
	return ino
}

// GetRoot returns the cached root directory inode (spec §4.4 "Boot
// filesystem"). The root is always inode ROOTINO.
func (fs *FS) GetRoot() (vfs.Inode, error) {
	return fs.iget(ROOTINO), nil
}

// DirSiz is DIRSIZ, SFS's path-element buffer length.
func (fs *FS) DirSiz() int { return DIRSIZ }
