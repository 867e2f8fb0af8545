package fat32

import (
	"encoding/binary"

	"github.com/soypat/dualfs/icache"
	"golang.org/x/sync/errgroup"
)

// readFATEntry: fat_getFATEntry plus the dereference fat_inode.c always
// performs right after it (*(uint*)(fp->data + secOff)).
func (fs *FS) readFATEntry(cluster uint32) (uint32, error) {
	sector, off := fs.bpb.fatEntryLocation(cluster)
	buf, err := fs.bc.Bread(sector)
	if err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(buf.Data[off:]) & fatEntryMask
	fs.bc.Brelse(buf)
	return v, nil
}

// writeFATEntry updates cluster's FAT entry on the primary table and
// mirrors the write across every other FAT copy.
func (fs *FS) writeFATEntry(cluster, value uint32) error {
	sector, off := fs.bpb.fatEntryLocation(cluster)
	buf, err := fs.bc.Bread(sector)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf.Data[off:], value)
	mirror := append([]byte(nil), buf.Data...)
	if err := fs.bc.LogWrite(buf); err != nil {
		fs.bc.Brelse(buf)
		return err
	}
	fs.bc.Brelse(buf)
	return fs.mirrorFAT(sector, mirror)
}

// mirrorFAT copies a just-written primary-FAT sector onto every other
// FAT copy, concurrently (SPEC_FULL.md §4.3a). Grounded on
// fat_updateFATs, which performs the same copies serially; each mirror
// lives at a fixed sector offset (i*FATSz32) from the primary, so the
// writes are independent and safe to parallelize with errgroup.
func (fs *FS) mirrorFAT(primarySector uint32, data []byte) error {
	n := fs.bpb.numFATs()
	if n < 2 {
		return nil
	}
	fatSz := fs.bpb.fatSz32()
	var g errgroup.Group
	for i := uint8(1); i < n; i++ {
		mirrorSector := primarySector + uint32(i)*fatSz
		g.Go(func() error {
			buf, err := fs.bc.Bread(mirrorSector)
			if err != nil {
				return err
			}
			copy(buf.Data, data)
			err = fs.bc.LogWrite(buf)
			fs.bc.Brelse(buf)
			return err
		})
	}
	return g.Wait()
}

// cclear zeroes every sector of cluster. Grounded on fat_cclear.
func (fs *FS) cclear(cluster uint32) error {
	sec := fs.bpb.firstSectorOfCluster(cluster)
	n := fs.bpb.secPerClus()
	for i := uint8(0); i < n; i++ {
		if err := fs.bc.Zero(sec + uint32(i)); err != nil {
			return err
		}
	}
	return nil
}

// calloc finds a free cluster starting from FSInfo's cached hint,
// claims it as an end-of-chain entry, zeroes it, and returns its
// number. Grounded on fat_calloc's forward-scan-then-wraparound shape;
// unlike the original, which caches the currently-read FAT sector
// across loop iterations by hand, this port relies on blockdev.Cache's
// own buffer cache to absorb repeat reads of the same FAT sector.
// Fatal (spec §7 out-of-resources) on total exhaustion, matching
// fat_calloc's own "cannot find" panic path.
func (fs *FS) calloc() (uint32, error) {
	fsiBuf, err := fs.bc.Bread(fs.bpb.fsInfoSector())
	if err != nil {
		return 0, err
	}
	fi := fsinfo{data: fsiBuf.Data}
	totalClusters := fs.bpb.totSec() / uint32(fs.bpb.secPerClus())

	claim := func(c uint32) (bool, error) {
		v, err := fs.readFATEntry(c)
		if err != nil {
			return false, err
		}
		if v != fatFreeEntry {
			return false, nil
		}
		if err := fs.writeFATEntry(c, fatEOFMin); err != nil {
			return false, err
		}
		return true, nil
	}
	commit := func(c uint32) (uint32, error) {
		fi.setNextFree(c + 1)
		fi.setFreeCount(fi.freeCount() - 1)
		err := fs.bc.LogWrite(fsiBuf)
		fs.bc.Brelse(fsiBuf)
		if err != nil {
			return 0, err
		}
		if err := fs.cclear(c); err != nil {
			return 0, err
		}
		return c, nil
	}

	start := fi.nextFree()
	if start < clusterFirstNum {
		start = clusterFirstNum
	}
	for c := start; c < totalClusters; c++ {
		ok, err := claim(c)
		if err != nil {
			fs.bc.Brelse(fsiBuf)
			return 0, err
		}
		if ok {
			return commit(c)
		}
	}
	for c := uint32(clusterFirstNum); c < start; c++ {
		ok, err := claim(c)
		if err != nil {
			fs.bc.Brelse(fsiBuf)
			return 0, err
		}
		if ok {
			return commit(c)
		}
	}
	fs.bc.Brelse(fsiBuf)
	icache.Fatalf("fat32.FS.calloc", "out of clusters (total=%d)", totalClusters)
	panic("unreachable")
}

// freeChain walks the cluster chain starting at start to its end,
// clearing and freeing every cluster and crediting FSInfo's free
// count. Grounded on fat_itrunc's cluster-release loop.
func (fs *FS) freeChain(start uint32) error {
	if start == 0 || isEOF(start) {
		return nil
	}
	fsiBuf, err := fs.bc.Bread(fs.bpb.fsInfoSector())
	if err != nil {
		return err
	}
	fi := fsinfo{data: fsiBuf.Data}
	cno := start
	for !isEOF(cno) {
		next, err := fs.readFATEntry(cno)
		if err != nil {
			fs.bc.Brelse(fsiBuf)
			return err
		}
		if err := fs.cclear(cno); err != nil {
			fs.bc.Brelse(fsiBuf)
			return err
		}
		if err := fs.writeFATEntry(cno, fatFreeEntry); err != nil {
			fs.bc.Brelse(fsiBuf)
			return err
		}
		fi.setFreeCount(fi.freeCount() + 1)
		cno = next
	}
	err = fs.bc.LogWrite(fsiBuf)
	fs.bc.Brelse(fsiBuf)
	return err
}
