package fat32

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/soypat/dualfs/blockdev"
	"github.com/soypat/dualfs/icache"
	"github.com/soypat/dualfs/vfs"
)

// fsinfoSector is the FSInfo sector's fixed conventional location.
const fsinfoSector = 1

// bpbSector is the BPB's fixed location, sector 0 of the volume.
const bpbSector = 0

// FS is a mounted FAT32 volume. Grounded on fat_inode.c's pattern of
// re-reading the BPB from disk on every operation (fat_readbpb); this
// port reads it once at Mount time and keeps the decoded copy, since
// the BPB never changes after format.
type FS struct {
	dev   uint32
	bc    *blockdev.Cache
	bpb   bpb
	ic    *icache.Cache
	devsw *DeviceTable
	clock Clock
	log   *slog.Logger
}

// Mount reads and validates the BPB at sector 0 and returns a handle
// ready to serve GetRoot. clock and log may both be nil (SystemClock
// and no tracing, respectively).
func Mount(bc *blockdev.Cache, dev uint32, ic *icache.Cache, devsw *DeviceTable, clock Clock, log *slog.Logger) (*FS, error) {
	buf, err := bc.Bread(bpbSector)
	if err != nil {
		return nil, fmt.Errorf("fat32: reading BPB: %w", err)
	}
	data := make([]byte, len(buf.Data))
	copy(data, buf.Data)
	bc.Brelse(buf)

	b := bpb{data: data}
	if err := b.validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &FS{dev: dev, bc: bc, bpb: b, ic: ic, devsw: devsw, clock: clock, log: log}, nil
}

// Format writes a minimal FAT32 BPB + FSInfo sector describing a volume
// of totSectors sectors with the given geometry, then marks the root
// directory's single cluster as an end-of-chain, zeroed cluster.
// mkfs-equivalent; callers of a real mkfs tool would compute
// secPerClus/numFATs/fatSz32 from the target volume size, so Format
// takes them as parameters rather than hardcoding a policy.
func Format(bc *blockdev.Cache, totSectors uint32, secPerClus uint8, numFATs uint8, rsvdSecCnt uint16, fatSz32 uint32) error {
	buf, err := bc.Bread(bpbSector)
	if err != nil {
		return err
	}
	data := buf.Data
	for i := range data {
		data[i] = 0
	}
	binary.LittleEndian.PutUint16(data[bpbBytsPerSec:], SectorSize)
	data[bpbSecPerClus] = secPerClus
	binary.LittleEndian.PutUint16(data[bpbRsvdSecCnt:], rsvdSecCnt)
	data[bpbNumFATs] = numFATs
	binary.LittleEndian.PutUint32(data[bpbTotSec32:], totSectors)
	binary.LittleEndian.PutUint32(data[bpbFATSz32:], fatSz32)
	binary.LittleEndian.PutUint32(data[bpbRootClus32:], clusterFirstNum)
	binary.LittleEndian.PutUint16(data[bpbFSInfo32:], fsinfoSector)
	b := bpb{data: append([]byte(nil), data...)}
	if err := bc.Bwrite(buf); err != nil {
		bc.Brelse(buf)
		return err
	}
	bc.Brelse(buf)

	fsiBuf, err := bc.Bread(fsinfoSector)
	if err != nil {
		return err
	}
	for i := range fsiBuf.Data {
		fsiBuf.Data[i] = 0
	}
	fi := fsinfo{data: fsiBuf.Data}
	totalClusters := (totSectors - b.firstDataSector()) / uint32(secPerClus)
	fi.setFreeCount(totalClusters - 1) // root's cluster is claimed below
	fi.setNextFree(clusterFirstNum + 1)
	if err := bc.Bwrite(fsiBuf); err != nil {
		bc.Brelse(fsiBuf)
		return err
	}
	bc.Brelse(fsiBuf)

	fsTmp := &FS{bc: bc, bpb: b}
	if err := fsTmp.writeFATEntry(clusterFirstNum, fatEOFMin); err != nil {
		return err
	}
	return fsTmp.cclear(clusterFirstNum)
}

func (fs *FS) iget(inum uint32, typ int16, dircluster uint32) *Inode {
	key := icache.Key{FSType: icache.FAT, Dev: fs.dev, Inum: inum}
	slot := fs.ic.Get(key, func() icache.Payload {
		ino := &Inode{fs: fs, dev: fs.dev, inum: inum, dircluster: dircluster}
		if typ != 0 {
			ino.typ = typ
		}
		return ino
	})
	ino := slot.Payload.(*Inode)
	ino.slot = slot
	return ino
}

// GetRoot returns the cached root directory inode, at the BPB's
// RootClus cluster (conventionally 2).
func (fs *FS) GetRoot() (vfs.Inode, error) {
	root := fs.bpb.rootClus()
	return fs.iget(root, int16(vfs.TypeDir), root), nil
}

// DirSiz is FAT_DIRSIZ, the long-name path-element buffer length.
func (fs *FS) DirSiz() int { return DIRSIZ }
