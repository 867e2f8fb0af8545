package fat32

import (
	"errors"
	"fmt"
	"strings"

	"github.com/soypat/dualfs/icache"
	"github.com/soypat/dualfs/vfs"
)

// Inode is FAT32's in-memory inode payload. Its identity (inum) is its
// first cluster number, not an index into a table the way SFS's is
// (struct sfs_inode); there is consequently no on-disk inode to
// allocate separately from the directory entry naming it. Grounded on
// fat_inode.c's whole-file vtable (fat_node_dirops/fat_node_fileops).
type Inode struct {
	fs   *FS
	slot *icache.Slot

	dev  uint32
	inum uint32 // first cluster number; identity

	dircluster uint32 // parent directory's head cluster, fixed at iget time

	// Location of this inode's own directory-entry run (the LDIR
	// entries, if any, and the short entry), discovered by Load via
	// fs.findEntryByCluster. Unused (zero) for the root inode, which
	// owns no entry of its own (fat_ilock's inum==2 special case).
	direntCluster uint32
	direntIdx     uint32
	direntCount   uint32

	typ          int16
	major, minor int16
	nlink        int16
	size         uint32
}

// --- icache.Payload ---

// Load populates ino's metadata from disk, mirroring fat_ilock: for
// every inode but the root, scan the parent directory for the entry
// whose first cluster equals this inode's identity.
func (ino *Inode) Load() error {
	root := ino.fs.bpb.rootClus()
	if ino.inum == root {
		ino.typ = int16(vfs.TypeDir)
		ino.nlink = 1
		ino.size = 0
		return nil
	}
	info, err := ino.fs.findEntryByCluster(ino.dircluster, ino.inum)
	if err != nil {
		return err
	}
	switch {
	case info.attr&AttrDir != 0:
		ino.typ = int16(vfs.TypeDir)
		ino.size = 0
	case info.attr&AttrSystem != 0:
		ino.typ = int16(vfs.TypeDev)
		ino.major = int16(info.crtDate)
		ino.minor = int16(info.crtTime)
	default:
		ino.typ = int16(vfs.TypeFile)
		ino.size = decodeFileSize(info.size, info.crtTimeTenth)
	}
	ino.nlink = 1
	ino.direntCluster, ino.direntIdx, ino.direntCount = info.dirCluster, info.dirIdx, info.dirCount
	return nil
}

func decodeFileSize(raw uint32, tenth uint8) uint32 {
	if raw == sentinelFileSize && tenth == sentinelCrtTimeTenth {
		return 0
	}
	return raw
}

func (ino *Inode) NLink() int16 { return ino.nlink }

// Truncate releases ino's cluster chain and deletes its directory
// entry run, grounded on fat_itrunc's two-phase release (chain first,
// then the DIR/LDIR entries by checksum match — here, by the run
// location Load already resolved).
func (ino *Inode) Truncate() error {
	if err := ino.fs.freeChain(ino.inum); err != nil {
		return err
	}
	return ino.deleteDirEntry()
}

func (ino *Inode) deleteDirEntry() error {
	if ino.inum == ino.fs.bpb.rootClus() || ino.direntCount == 0 {
		return nil
	}
	return ino.fs.deleteDirRun(ino.direntCluster, ino.direntIdx, ino.direntCount)
}

// deleteDirRun marks count consecutive entries, starting at idx within
// cluster, deleted (0xE5).
func (fs *FS) deleteDirRun(cluster, idx, count uint32) error {
	for i := uint32(0); i < count; i++ {
		sector, off, _, err := fs.locateEntry(cluster, idx+i, false)
		if err != nil {
			return err
		}
		buf, err := fs.bc.Bread(sector)
		if err != nil {
			return err
		}
		buf.Data[off] = direntDeleted
		err = fs.bc.LogWrite(buf)
		fs.bc.Brelse(buf)
		if err != nil {
			return err
		}
	}
	return nil
}

// --- identity & lock delegation ---

func (ino *Inode) FSType() icache.FSType { return icache.FAT }
func (ino *Inode) Dev() uint32           { return ino.dev }
func (ino *Inode) Inum() uint32          { return ino.inum }
func (ino *Inode) DirSiz() int           { return DIRSIZ }

func (ino *Inode) Lock() error      { return ino.fs.ic.Lock(ino.slot) }
func (ino *Inode) Unlock()          { ino.fs.ic.Unlock(ino.slot) }
func (ino *Inode) UnlockPut() error { return ino.fs.ic.UnlockPut(ino.slot) }
func (ino *Inode) Put() error       { return ino.fs.ic.Put(ino.slot) }
func (ino *Inode) Dup() vfs.Inode {
	ino.fs.ic.Dup(ino.slot)
	return ino
}

// --- stat / metadata ---

func (ino *Inode) Stat() vfs.Stat {
	return vfs.Stat{
		Type:   uint8(ino.typ),
		Dev:    ino.dev,
		Ino:    ino.inum,
		NLink:  ino.nlink,
		Size:   ino.size,
		FSType: icache.FAT,
	}
}

// IUpdate rewrites ino's own short entry in place, grounded on
// fat_iupdate. The root inode has no entry of its own and is a no-op,
// matching fat_iupdate's "if (dp->inum != 2)" guard.
func (ino *Inode) IUpdate() error {
	if ino.inum == ino.fs.bpb.rootClus() {
		return nil
	}
	sector, off, _, err := ino.fs.locateEntry(ino.direntCluster, ino.direntIdx+ino.direntCount-1, false)
	if err != nil {
		return err
	}
	buf, err := ino.fs.bc.Bread(sector)
	if err != nil {
		return err
	}
	se := shortDirEntry{data: buf.Data[off : off+dirEntrySize]}

	attr := uint8(AttrArchive)
	switch uint8(ino.typ) {
	case vfs.TypeDir:
		attr = AttrDir
	case vfs.TypeDev:
		attr = AttrSystem
	}
	se.setAttr(attr)
	se.setCluster(ino.inum)

	if uint8(ino.typ) == vfs.TypeDev {
		se.setCrtDate(uint16(ino.major))
		se.setCrtTime(uint16(ino.minor))
	} else {
		date, clk, tenth := packDatetime(ino.fs.clock.Now())
		se.setCrtDate(date)
		se.setCrtTime(clk)
		if uint8(ino.typ) == vfs.TypeFile && ino.size == 0 {
			se.setFileSize(sentinelFileSize)
			se.setCrtTimeTenth(sentinelCrtTimeTenth)
		} else {
			se.setFileSize(ino.size)
			se.setCrtTimeTenth(tenth)
		}
	}
	if uint8(ino.typ) == vfs.TypeDir {
		se.setFileSize(0)
	}
	err = ino.fs.bc.LogWrite(buf)
	ino.fs.bc.Brelse(buf)
	return err
}

func (ino *Inode) GetType() uint8  { return uint8(ino.typ) }
func (ino *Inode) GetDev() uint32  { return ino.dev }
func (ino *Inode) GetNLink() int16 { return ino.nlink }
func (ino *Inode) GetMajor() int16 { return ino.major }
func (ino *Inode) GetMinor() int16 { return ino.minor }

// GetPath walks the ".." chain up to the root, collecting the name
// each level was found under in its parent (fat_getpath's reverse
// build, minus the raw pointer arithmetic: Go has strings.Builder).
func (ino *Inode) GetPath() (string, error) {
	root := ino.fs.bpb.rootClus()
	var segs []string
	cur := ino.inum
	dirCluster := ino.dircluster
	for cur != root {
		name, err := ino.fs.nameOfCluster(dirCluster, cur)
		if err != nil {
			return "", err
		}
		segs = append(segs, name)
		if dirCluster == root {
			cur = root
			break
		}
		parent, err := ino.fs.dirLookup(dirCluster, "..")
		if err != nil {
			return "", err
		}
		cur = dirCluster
		dirCluster = parent.cluster
	}
	var sb strings.Builder
	sb.WriteString("fat:/")
	for i := len(segs) - 1; i >= 0; i-- {
		sb.WriteString(segs[i])
		if i > 0 {
			sb.WriteByte('/')
		}
	}
	return sb.String(), nil
}

func (ino *Inode) LinkInc() { ino.nlink++ }
func (ino *Inode) LinkDec() { ino.nlink-- }

// Open adopts the FAT convention system-wide (spec §9 Open Question 3):
// directories may be opened read-only only.
func (ino *Inode) Open(flags int) error {
	if ino.typ == int16(vfs.TypeDir) && flags != vfs.ORDONLY {
		return fmt.Errorf("fat32: open directory with flags %#x: %w", flags, vfs.ErrPermission)
	}
	return nil
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// --- content ---

// Read implements fat_readi: device files forward to the device
// switch, everything else walks the cluster chain sector by sector.
func (ino *Inode) Read(dst []byte, off uint32) (int, error) {
	if ino.typ == int16(vfs.TypeDev) {
		return ino.fs.devsw.Read(ino.major, ino, dst)
	}
	n := uint32(len(dst))
	if off > ino.size || off+n < off {
		return 0, fmt.Errorf("fat32: read offset %d beyond size %d", off, ino.size)
	}
	if off+n > ino.size {
		n = ino.size - off
	}
	clusterSize := uint32(ino.fs.bpb.secPerClus()) * SectorSize
	var tot uint32
	for tot < n {
		cluster, err := ino.fs.clusterAt(ino.inum, off/clusterSize)
		if err != nil {
			return int(tot), err
		}
		within := off % clusterSize
		sector := ino.fs.bpb.firstSectorOfCluster(cluster) + within/SectorSize
		buf, err := ino.fs.bc.Bread(sector)
		if err != nil {
			return int(tot), err
		}
		secOff := within % SectorSize
		m := min32(n-tot, SectorSize-secOff)
		copy(dst[tot:tot+m], buf.Data[secOff:])
		ino.fs.bc.Brelse(buf)
		tot += m
		off += m
	}
	return int(tot), nil
}

// Write implements fat_writei, growing the chain with fat_calloc
// inline when an offset runs past the currently allocated clusters.
func (ino *Inode) Write(src []byte, off uint32) (int, error) {
	if ino.typ == int16(vfs.TypeDev) {
		return ino.fs.devsw.Write(ino.major, ino, src)
	}
	n := uint32(len(src))
	if off > ino.size || off+n < off {
		return 0, fmt.Errorf("fat32: write offset %d beyond size %d", off, ino.size)
	}
	clusterSize := uint32(ino.fs.bpb.secPerClus()) * SectorSize
	var tot uint32
	for tot < n {
		cluster, err := ino.fs.clusterAtGrow(ino.inum, off/clusterSize)
		if err != nil {
			return int(tot), err
		}
		within := off % clusterSize
		sector := ino.fs.bpb.firstSectorOfCluster(cluster) + within/SectorSize
		buf, err := ino.fs.bc.Bread(sector)
		if err != nil {
			return int(tot), err
		}
		secOff := within % SectorSize
		m := min32(n-tot, SectorSize-secOff)
		copy(buf.Data[secOff:], src[tot:tot+m])
		if err := ino.fs.bc.LogWrite(buf); err != nil {
			ino.fs.bc.Brelse(buf)
			return int(tot), err
		}
		ino.fs.bc.Brelse(buf)
		tot += m
		off += m
	}
	if n > 0 && off > ino.size {
		ino.size = off
		if err := ino.IUpdate(); err != nil {
			return int(tot), err
		}
	}
	return int(tot), nil
}

// --- allocation ---

// Ialloc is not supported standalone: fat_create_inode's inode
// identity is its first cluster, which does not exist until the
// directory entry naming it is written, so FAT has no equivalent of
// SFS's allocate-then-name split.
func (ino *Inode) Ialloc(typ uint8) (vfs.Inode, error) {
	return nil, vfs.NotSupported("fat32.Inode.Ialloc")
}

// CreateInode allocates a first cluster, writes name's directory entry
// (and "."/".." for directories) pointing at it, and returns the new
// inode locked. Grounded on fat_create_inode.
func (ino *Inode) CreateInode(typ uint8, major, minor int16, name string) (vfs.Inode, error) {
	if ino.typ != int16(vfs.TypeDir) {
		icache.Fatalf("fat32.Inode.CreateInode", "not a directory (inum=%d)", ino.inum)
	}
	if _, err := ino.fs.dirLookup(ino.inum, name); err == nil {
		return nil, fmt.Errorf("fat32: create %q: %w", name, vfs.ErrExists)
	} else if !errors.Is(err, vfs.ErrNotFound) {
		return nil, err
	}

	cluster, err := ino.fs.calloc()
	if err != nil {
		return nil, err
	}
	if _, _, _, err := ino.fs.writeDirEntry(ino.inum, name, int16(typ), major, minor, cluster, 0); err != nil {
		return nil, err
	}

	child := ino.fs.iget(cluster, int16(typ), ino.inum)
	if err := child.Lock(); err != nil {
		return nil, err
	}

	if typ == vfs.TypeDir {
		if _, _, _, err := ino.fs.writeDirEntry(cluster, ".", int16(vfs.TypeDir), 0, 0, cluster, 0); err != nil {
			child.UnlockPut()
			return nil, err
		}
		if _, _, _, err := ino.fs.writeDirEntry(cluster, "..", int16(vfs.TypeDir), 0, 0, ino.inum, 0); err != nil {
			child.UnlockPut()
			return nil, err
		}
	}
	return child, nil
}

// --- directories ---

// DirLookup resolves name within ino. The root's ".." resolves to
// itself (fat_dirlookup's "fdp->inum==2" special case): root has no
// real ".." entry, since it is never linked under anything.
func (ino *Inode) DirLookup(name string) (vfs.Inode, uint32, error) {
	if ino.typ != int16(vfs.TypeDir) {
		icache.Fatalf("fat32.Inode.DirLookup", "not a directory (inum=%d)", ino.inum)
	}
	root := ino.fs.bpb.rootClus()
	if name == ".." && ino.inum == root {
		return ino.fs.iget(root, int16(vfs.TypeDir), root), 0, nil
	}
	info, err := ino.fs.dirLookup(ino.inum, name)
	if err != nil {
		return nil, 0, err
	}
	childTyp := int16(vfs.TypeFile)
	switch {
	case info.attr&AttrDir != 0:
		childTyp = int16(vfs.TypeDir)
	case info.attr&AttrSystem != 0:
		childTyp = int16(vfs.TypeDev)
	}
	child := ino.fs.iget(info.cluster, childTyp, ino.inum)
	return child, info.dirIdx, nil
}

// DirLink writes a fresh directory entry under ino pointing at an
// already-allocated target. FAT has no real hard-link backing store
// (no per-cluster link count), so this just gives target's cluster an
// additional name; LinkInc/LinkDec track the count in memory only, the
// same simplification fat_link_inc/fat_link_dec make.
func (ino *Inode) DirLink(name string, target vfs.Inode) error {
	if ino.typ != int16(vfs.TypeDir) {
		icache.Fatalf("fat32.Inode.DirLink", "not a directory (inum=%d)", ino.inum)
	}
	t, ok := target.(*Inode)
	if !ok {
		return fmt.Errorf("fat32: dirlink target is not a fat32 inode: %w", vfs.ErrNotSupported)
	}
	if _, err := ino.fs.dirLookup(ino.inum, name); err == nil {
		return fmt.Errorf("fat32: dirlink %q: %w", name, vfs.ErrExists)
	} else if !errors.Is(err, vfs.ErrNotFound) {
		return err
	}
	_, _, _, err := ino.fs.writeDirEntry(ino.inum, name, t.typ, t.major, t.minor, t.inum, t.size)
	return err
}

// IsDirEmpty reports whether ino has any entries beyond "." and "..".
func (ino *Inode) IsDirEmpty() bool {
	_, found, err := ino.fs.scanDir(ino.inum, func(name string, _ direntInfo) bool {
		return name != "." && name != ".."
	})
	if err != nil {
		icache.Fatalf("fat32.Inode.IsDirEmpty", "scan error: %v", err)
	}
	return !found
}

// Unlink removes name from ino, locking both ino and the target.
// Grounded on fat_unlink.
func (ino *Inode) Unlink(name string) error {
	if name == "." || name == ".." {
		return fmt.Errorf("fat32: unlink %q: %w", name, vfs.ErrPermission)
	}
	if err := ino.Lock(); err != nil {
		return err
	}
	info, err := ino.fs.dirLookup(ino.inum, name)
	if err != nil {
		ino.UnlockPut()
		return err
	}
	childTyp := int16(vfs.TypeFile)
	switch {
	case info.attr&AttrDir != 0:
		childTyp = int16(vfs.TypeDir)
	case info.attr&AttrSystem != 0:
		childTyp = int16(vfs.TypeDev)
	}
	child := ino.fs.iget(info.cluster, childTyp, ino.inum)
	if err := child.Lock(); err != nil {
		ino.UnlockPut()
		return err
	}
	if child.typ == int16(vfs.TypeDir) && !child.IsDirEmpty() {
		child.UnlockPut()
		ino.UnlockPut()
		return fmt.Errorf("fat32: unlink %q: %w", name, vfs.ErrNotEmpty)
	}
	// Delete the specific entry this lookup found, by name, rather than
	// child's own direntCluster/Idx/Count: if target's cluster is named
	// more than once (DirLink gave it a second name), Load's by-cluster
	// rescan may have resolved a different one of those entries.
	if err := ino.fs.deleteDirRun(info.dirCluster, info.dirIdx, info.dirCount); err != nil {
		child.UnlockPut()
		ino.UnlockPut()
		return err
	}
	child.direntCount = 0
	ino.UnlockPut()

	child.nlink--
	return child.UnlockPut()
}
