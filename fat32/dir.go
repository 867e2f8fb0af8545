package fat32

import (
	"strings"

	"github.com/soypat/dualfs/icache"
	"github.com/soypat/dualfs/vfs"
)

// direntInfo summarizes one resolved directory entry: the short entry's
// decoded fields plus the on-disk location of its whole entry run (the
// LDIR entries that precede it, if any, and the short entry itself),
// so callers can rewrite (IUpdate) or delete (Unlink) it without
// re-scanning.
type direntInfo struct {
	cluster      uint32
	attr         uint8
	size         uint32
	crtDate      uint16
	crtTime      uint16
	crtTimeTenth uint8

	dirCluster uint32 // cluster holding the run's first entry
	dirIdx     uint32 // local index of the run's first entry within dirCluster
	dirCount   uint32 // number of consecutive 32-byte entries in the run
}

// clusterEntryCount is the number of 32-byte directory entries a full
// cluster holds.
func (fs *FS) clusterEntryCount() uint32 {
	return uint32(fs.bpb.secPerClus()) * (SectorSize / dirEntrySize)
}

// locateEntry maps directory entry index idx (0-based, counted from the
// start of the cluster chain rooted at start) to the sector and
// in-sector byte offset holding it, following the FAT chain as needed.
// When grow is true and the chain ends before idx is reached, a fresh
// cluster is allocated and linked (fat_dirlink's implicit directory
// growth); otherwise running off the end reports vfs.ErrNotFound.
func (fs *FS) locateEntry(start uint32, idx uint32, grow bool) (sector, off, cluster uint32, err error) {
	epc := fs.clusterEntryCount()
	cluster = start
	for idx >= epc {
		next, err := fs.readFATEntry(cluster)
		if err != nil {
			return 0, 0, 0, err
		}
		if isEOF(next) {
			if !grow {
				return 0, 0, 0, vfs.ErrNotFound
			}
			newc, err := fs.calloc()
			if err != nil {
				return 0, 0, 0, err
			}
			if err := fs.writeFATEntry(cluster, newc); err != nil {
				return 0, 0, 0, err
			}
			next = newc
		}
		cluster = next
		idx -= epc
	}
	const entriesPerSec = SectorSize / dirEntrySize
	sector = fs.bpb.firstSectorOfCluster(cluster) + idx/entriesPerSec
	off = (idx % entriesPerSec) * dirEntrySize
	return sector, off, cluster, nil
}

func shortNameToString(name11 []byte) string {
	base := strings.TrimRight(string(name11[:8]), " ")
	ext := strings.TrimRight(string(name11[8:11]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// reverseUTF16Fragments flips the order of 26-byte (13-UTF16-unit)
// chunks in pending, without touching byte order within a chunk.
// decodeLongNameFragment accumulates chunks in on-disk encounter
// order, which runs from the tail of the name to its head (the highest
// LDIR sequence number is written first, immediately before the short
// entry); this restores left-to-right order.
func reverseUTF16Fragments(pending []byte) []byte {
	const chunk = 26
	n := len(pending) / chunk
	out := make([]byte, len(pending))
	for i := 0; i < n; i++ {
		copy(out[i*chunk:], pending[(n-1-i)*chunk:(n-i)*chunk])
	}
	return out
}

// scanDir walks the directory entries rooted at startCluster, calling
// match for every non-deleted short entry (long-name entries are
// consumed silently to reconstruct the candidate name passed to
// match). Stops and returns the matching entry's info as soon as match
// reports true, or (zero value, false, nil) once a free (never-used)
// entry is reached, which fat_dirlookup treats as "no further entries
// exist".
//
// A long-name chain's Ord must count down by one per fragment from the
// 0x40-flagged entry, and every fragment's ChkSum must agree with the
// one recorded at the chain's start and with the short entry that ends
// it; fat_dirlookup panics ("dirlookup long filename wrong") the
// instant either breaks, and so does this, via icache.Fatalf.
func (fs *FS) scanDir(startCluster uint32, match func(name string, info direntInfo) bool) (direntInfo, bool, error) {
	epc := fs.clusterEntryCount()
	var pending []byte
	var pendingChksum uint8
	var ord int
	var haveChksum bool
	var runCluster, runIdx, runStart uint32
	var haveRunStart bool

	for idx := uint32(0); ; idx++ {
		sector, off, cluster, err := fs.locateEntry(startCluster, idx, false)
		if err != nil {
			return direntInfo{}, false, err
		}
		buf, err := fs.bc.Bread(sector)
		if err != nil {
			return direntInfo{}, false, err
		}
		raw := append([]byte(nil), buf.Data[off:off+dirEntrySize]...)
		fs.bc.Brelse(buf)

		e := shortDirEntry{data: raw}
		if e.isFree() {
			return direntInfo{}, false, nil
		}
		if !haveRunStart {
			runCluster, runIdx, runStart = cluster, idx%epc, idx
			haveRunStart = true
		}
		if e.isDeleted() {
			pending, haveChksum, haveRunStart = pending[:0], false, false
			continue
		}
		if e.isLongName() {
			le := longDirEntry{data: raw}
			if le.isLastLogical() {
				pending = pending[:0]
				pendingChksum = le.checksum()
				ord = int(le.sequence())
				haveChksum = true
			} else {
				ord--
				if !haveChksum || le.checksum() != pendingChksum || ord != int(le.sequence()) {
					icache.Fatalf("fat32.FS.scanDir", "long name chain wrong ChkSum or Ord at cluster %d idx %d", cluster, idx)
				}
			}
			pending = decodeLongNameFragment(le, pending)
			continue
		}
		if e.isVolumeLabel() {
			pending, haveChksum, haveRunStart = pending[:0], false, false
			continue
		}

		var candidate string
		if haveChksum && len(pending) > 0 {
			if shortNameChecksum(e.name()) != pendingChksum {
				icache.Fatalf("fat32.FS.scanDir", "long name chain ChkSum mismatch against short entry at cluster %d idx %d", cluster, idx)
			}
			candidate = utf16BytesToString(reverseUTF16Fragments(pending))
		} else {
			candidate = shortNameToString(e.name())
		}
		info := direntInfo{
			cluster:      e.cluster(),
			attr:         e.attr(),
			size:         e.fileSize(),
			crtDate:      e.crtDate(),
			crtTime:      e.crtTime(),
			crtTimeTenth: e.crtTimeTenth(),
			dirCluster:   runCluster,
			dirIdx:       runIdx,
			dirCount:     idx - runStart + 1,
		}
		if match(candidate, info) {
			return info, true, nil
		}
		pending, haveChksum, haveRunStart = pending[:0], false, false
	}
}

func (fs *FS) dirLookup(startCluster uint32, name string) (direntInfo, error) {
	info, ok, err := fs.scanDir(startCluster, func(n string, _ direntInfo) bool {
		return strings.EqualFold(n, name)
	})
	if err != nil {
		return direntInfo{}, err
	}
	if !ok {
		return direntInfo{}, vfs.ErrNotFound
	}
	return info, nil
}

// findEntryByCluster locates the entry within startCluster's directory
// whose first cluster is target, grounded on fat_ilock's on-disk scan
// for the DIR entry matching an inode's identity.
func (fs *FS) findEntryByCluster(startCluster, target uint32) (direntInfo, error) {
	info, ok, err := fs.scanDir(startCluster, func(_ string, info direntInfo) bool {
		return info.cluster == target
	})
	if err != nil {
		return direntInfo{}, err
	}
	if !ok {
		return direntInfo{}, vfs.ErrNotFound
	}
	return info, nil
}

func (fs *FS) nameOfCluster(parentCluster, target uint32) (string, error) {
	var found string
	_, ok, err := fs.scanDir(parentCluster, func(n string, info direntInfo) bool {
		if info.cluster == target {
			found = n
			return true
		}
		return false
	})
	if err != nil {
		return "", err
	}
	if !ok {
		return "", vfs.ErrNotFound
	}
	return found, nil
}

// clusterAt walks idx steps down the FAT chain from start, without
// growing it.
func (fs *FS) clusterAt(start, idx uint32) (uint32, error) {
	c := start
	for i := uint32(0); i < idx; i++ {
		next, err := fs.readFATEntry(c)
		if err != nil {
			return 0, err
		}
		if isEOF(next) {
			return 0, vfs.ErrNotFound
		}
		c = next
	}
	return c, nil
}

// clusterAtGrow is clusterAt, but extends the chain with fresh clusters
// on demand, mirroring fat_writei's inline fat_calloc when a write
// walks off the end of an existing chain.
func (fs *FS) clusterAtGrow(start, idx uint32) (uint32, error) {
	c := start
	for i := uint32(0); i < idx; i++ {
		next, err := fs.readFATEntry(c)
		if err != nil {
			return 0, err
		}
		if isEOF(next) {
			newc, err := fs.calloc()
			if err != nil {
				return 0, err
			}
			if err := fs.writeFATEntry(c, newc); err != nil {
				return 0, err
			}
			next = newc
		}
		c = next
	}
	return c, nil
}

// allocateDirRun finds (growing the chain if necessary) need
// consecutive free-or-deleted entries starting anywhere in the chain
// rooted at startCluster, and returns the local position of the run's
// first slot in the cluster that holds it.
func (fs *FS) allocateDirRun(startCluster uint32, need uint32) (cluster, idx uint32, err error) {
	epc := fs.clusterEntryCount()
	var runCluster, runIdx, count uint32
	haveStart := false
	for i := uint32(0); ; i++ {
		sector, off, cl, err := fs.locateEntry(startCluster, i, true)
		if err != nil {
			return 0, 0, err
		}
		buf, err := fs.bc.Bread(sector)
		if err != nil {
			return 0, 0, err
		}
		free := buf.Data[off] == direntFree || buf.Data[off] == direntDeleted
		fs.bc.Brelse(buf)
		if free {
			if !haveStart {
				runCluster, runIdx = cl, i%epc
				haveStart = true
			}
			count++
			if count >= need {
				return runCluster, runIdx, nil
			}
		} else {
			haveStart = false
			count = 0
		}
	}
}

// writeDirEntry synthesizes a short name (retrying on collision) and,
// if the supplied name does not already fit cleanly into 8.3 form,
// a matching run of long-name entries, then writes the whole run into
// parentCluster's directory. Shared by CreateInode and DirLink.
func (fs *FS) writeDirEntry(parentCluster uint32, name string, typ int16, major, minor int16, cluster uint32, size uint32) (dirCluster, dirIdx, dirCount uint32, err error) {
	shortName, canonical := isCanonicalShortName(name)
	var numLong int
	if !canonical {
		shortName = makeShortName(name)
		for tries := 0; ; tries++ {
			if tries > 999 {
				return 0, 0, 0, ErrShortNameGen
			}
			collides, err := fs.shortNameExists(parentCluster, shortName)
			if err != nil {
				return 0, 0, 0, err
			}
			if !collides {
				break
			}
			bumpShortName(&shortName)
		}
		numLong = longNameEntryCount(name)
		if numLong > maxLongNameEntries {
			return 0, 0, 0, ErrNameTooLong
		}
	}

	need := uint32(numLong + 1)
	runCluster, runIdx, err := fs.allocateDirRun(parentCluster, need)
	if err != nil {
		return 0, 0, 0, err
	}

	if numLong > 0 {
		bufs := make([][]byte, numLong)
		for i := range bufs {
			bufs[i] = make([]byte, dirEntrySize)
		}
		encodeLongName(name, shortNameChecksum(shortName[:]), bufs)
		for i, b := range bufs {
			if _, err := fs.writeEntrySlot(runCluster, runIdx+uint32(i), b); err != nil {
				return 0, 0, 0, err
			}
		}
	}

	shortBuf := make([]byte, dirEntrySize)
	se := shortDirEntry{data: shortBuf}
	copy(se.name(), shortName[:])
	attr := uint8(AttrArchive)
	switch uint8(typ) {
	case vfs.TypeDir:
		attr = AttrDir
	case vfs.TypeDev:
		attr = AttrSystem
	}
	se.setAttr(attr)
	se.setCluster(cluster)
	if uint8(typ) == vfs.TypeDev {
		se.setCrtDate(uint16(major))
		se.setCrtTime(uint16(minor))
	} else {
		date, clk, tenth := packDatetime(fs.clock.Now())
		se.setCrtDate(date)
		se.setCrtTime(clk)
		if uint8(typ) == vfs.TypeFile && size == 0 {
			se.setFileSize(sentinelFileSize)
			se.setCrtTimeTenth(sentinelCrtTimeTenth)
		} else {
			se.setFileSize(size)
			se.setCrtTimeTenth(tenth)
		}
	}
	if _, err := fs.writeEntrySlot(runCluster, runIdx+uint32(numLong), shortBuf); err != nil {
		return 0, 0, 0, err
	}
	return runCluster, runIdx, need, nil
}

func (fs *FS) writeEntrySlot(cluster, idx uint32, data []byte) (uint32, error) {
	sector, off, actual, err := fs.locateEntry(cluster, idx, true)
	if err != nil {
		return 0, err
	}
	buf, err := fs.bc.Bread(sector)
	if err != nil {
		return 0, err
	}
	copy(buf.Data[off:off+dirEntrySize], data)
	err = fs.bc.LogWrite(buf)
	fs.bc.Brelse(buf)
	return actual, err
}

// shortNameExists scans parentCluster's raw short entries for name,
// bypassing long-name decoding since a collision is a byte-exact match
// on the synthesized 8.3 form.
func (fs *FS) shortNameExists(parentCluster uint32, name [11]byte) (bool, error) {
	for idx := uint32(0); ; idx++ {
		sector, off, _, err := fs.locateEntry(parentCluster, idx, false)
		if err != nil {
			return false, err
		}
		buf, err := fs.bc.Bread(sector)
		if err != nil {
			return false, err
		}
		raw := append([]byte(nil), buf.Data[off:off+dirEntrySize]...)
		fs.bc.Brelse(buf)
		e := shortDirEntry{data: raw}
		if e.isFree() {
			return false, nil
		}
		if !e.isDeleted() && !e.isLongName() && !e.isVolumeLabel() && string(e.name()) == string(name[:]) {
			return true, nil
		}
	}
}
