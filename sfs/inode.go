package sfs

import (
	"encoding/binary"
	"fmt"

	"github.com/soypat/dualfs/icache"
	"github.com/soypat/dualfs/vfs"
)

// Inode is SFS's in-memory inode payload. It implements both
// icache.Payload (Load/NLink/Truncate, so the shared cache can manage
// its lifecycle) and vfs.Inode (the engine-specific capability subset).
// Grounded on struct sfs_inode + sfs_inode.c's whole-file vtable.
type Inode struct {
	fs   *FS
	slot *icache.Slot

	dev  uint32
	inum uint32

	typ          int16
	major, minor int16
	nlink        int16
	size         uint32
	addrs        [NDIRECT + 1]uint32
}

// --- icache.Payload ---

func (ino *Inode) Load() error {
	buf, err := ino.fs.bc.Bread(ino.fs.sb.IBlock(ino.inum))
	if err != nil {
		return err
	}
	off := dinodeOffset(ino.fs.sb, ino.inum)
	d := decodeDinode(buf.Data[off : off+dinodeSize])
	ino.fs.bc.Brelse(buf)
	if d.Type == 0 {
		icache.Fatalf("sfs.Inode.Load", "ilock: no type for inum %d", ino.inum)
	}
	ino.typ, ino.major, ino.minor, ino.nlink, ino.size, ino.addrs =
		d.Type, d.Major, d.Minor, d.NLink, d.Size, d.Addrs
	return nil
}

func (ino *Inode) NLink() int16 { return ino.nlink }

func (ino *Inode) Truncate() error {
	if err := ino.itrunc(); err != nil {
		return err
	}
	ino.typ = 0
	return ino.writeDinode()
}

// --- identity & lock delegation to the shared cache ---

func (ino *Inode) FSType() icache.FSType { return icache.SFS }
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
		FSType: icache.SFS,
	}
}

func (ino *Inode) IUpdate() error { return ino.writeDinode() }

func (ino *Inode) writeDinode() error {
	buf, err := ino.fs.bc.Bread(ino.fs.sb.IBlock(ino.inum))
	if err != nil {
		return err
	}
	off := dinodeOffset(ino.fs.sb, ino.inum)
	d := dinode{Type: ino.typ, Major: ino.major, Minor: ino.minor, NLink: ino.nlink, Size: ino.size, Addrs: ino.addrs}
	d.encode(buf.Data[off : off+dinodeSize])
	err = ino.fs.bc.LogWrite(buf)
	ino.fs.bc.Brelse(buf)
	return err
}

func (ino *Inode) GetType() uint8  { return uint8(ino.typ) }
func (ino *Inode) GetDev() uint32  { return ino.dev }
func (ino *Inode) GetNLink() int16 { return ino.nlink }
func (ino *Inode) GetMajor() int16 { return ino.major }
func (ino *Inode) GetMinor() int16 { return ino.minor }
func (ino *Inode) GetPath() (string, error) {
	return "", vfs.NotSupported("sfs.Inode.GetPath")
}

func (ino *Inode) LinkInc() { ino.nlink++ }
func (ino *Inode) LinkDec() { ino.nlink-- }

// Open adopts the FAT convention system-wide (spec §9 Open Question 3):
// directories may be opened read-only only.
func (ino *Inode) Open(flags int) error {
	if ino.typ == int16(vfs.TypeDir) && flags != vfs.ORDONLY {
		return fmt.Errorf("sfs: open directory with flags %#x: %w", flags, vfs.ErrPermission)
	}
	return nil
}

// --- block-level content ---

// bmap resolves the disk block address of the bn'th logical block of
// ino, allocating it if it does not yet exist. Grounded on
// sfs_inode.c's static bmap.
func (ino *Inode) bmap(bn uint32) (uint32, error) {
	if bn < NDIRECT {
		if ino.addrs[bn] == 0 {
			a, err := ino.fs.balloc()
			if err != nil {
				return 0, err
			}
			ino.addrs[bn] = a
		}
		return ino.addrs[bn], nil
	}
	bn -= NDIRECT
	if bn >= NINDIRECT {
		icache.Fatalf("sfs.Inode.bmap", "out of range bn=%d", bn)
	}
	if ino.addrs[NDIRECT] == 0 {
		a, err := ino.fs.balloc()
		if err != nil {
			return 0, err
		}
		ino.addrs[NDIRECT] = a
	}
	buf, err := ino.fs.bc.Bread(ino.addrs[NDIRECT])
	if err != nil {
		return 0, err
	}
	addr := binary.LittleEndian.Uint32(buf.Data[bn*4:])
	if addr == 0 {
		a, err := ino.fs.balloc()
		if err != nil {
			ino.fs.bc.Brelse(buf)
			return 0, err
		}
		addr = a
		binary.LittleEndian.PutUint32(buf.Data[bn*4:], addr)
		if err := ino.fs.bc.LogWrite(buf); err != nil {
			ino.fs.bc.Brelse(buf)
			return 0, err
		}
	}
	ino.fs.bc.Brelse(buf)
	return addr, nil
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// Read implements readi: device files forward to the device switch,
// everything else walks bmap block by block.
func (ino *Inode) Read(dst []byte, off uint32) (int, error) {
	if ino.typ == int16(vfs.TypeDev) {
		return ino.fs.devsw.Read(ino.major, ino, dst)
	}
	n := uint32(len(dst))
	if off > ino.size || off+n < off {
		return 0, fmt.Errorf("sfs: read offset %d beyond size %d", off, ino.size)
	}
	if off+n > ino.size {
		n = ino.size - off
	}
	var tot uint32
	for tot < n {
		blk, err := ino.bmap(off / BSIZE)
		if err != nil {
			return int(tot), err
		}
		buf, err := ino.fs.bc.Bread(blk)
		if err != nil {
			return int(tot), err
		}
		m := min32(n-tot, BSIZE-off%BSIZE)
		copy(dst[tot:tot+m], buf.Data[off%BSIZE:])
		ino.fs.bc.Brelse(buf)
		tot += m
		off += m
	}
	return int(tot), nil
}

// Write implements writei.
func (ino *Inode) Write(src []byte, off uint32) (int, error) {
	if ino.typ == int16(vfs.TypeDev) {
		return ino.fs.devsw.Write(ino.major, ino, src)
	}
	n := uint32(len(src))
	if off > ino.size || off+n < off {
		return 0, fmt.Errorf("sfs: write offset %d beyond size %d", off, ino.size)
	}
	if off+n > MAXFILE*BSIZE {
		return 0, fmt.Errorf("sfs: file would exceed MAXFILE (%d) blocks", MAXFILE)
	}
	var tot uint32
	for tot < n {
		blk, err := ino.bmap(off / BSIZE)
		if err != nil {
			return int(tot), err
		}
		buf, err := ino.fs.bc.Bread(blk)
		if err != nil {
			return int(tot), err
		}
		m := min32(n-tot, BSIZE-off%BSIZE)
		copy(buf.Data[off%BSIZE:], src[tot:tot+m])
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
		if err := ino.writeDinode(); err != nil {
			return int(tot), err
		}
	}
	return int(tot), nil
}

// itrunc frees every block this inode owns and resets size to 0.
// Grounded on sfs_inode.c's static sfs_itrunc.
func (ino *Inode) itrunc() error {
	for i := 0; i < NDIRECT; i++ {
		if ino.addrs[i] != 0 {
			if err := ino.fs.bfree(ino.addrs[i]); err != nil {
				return err
			}
			ino.addrs[i] = 0
		}
	}
	if ino.addrs[NDIRECT] != 0 {
		buf, err := ino.fs.bc.Bread(ino.addrs[NDIRECT])
		if err != nil {
			return err
		}
		for j := 0; j < NINDIRECT; j++ {
			a := binary.LittleEndian.Uint32(buf.Data[j*4:])
			if a != 0 {
				if err := ino.fs.bfree(a); err != nil {
					ino.fs.bc.Brelse(buf)
					return err
				}
			}
		}
		ino.fs.bc.Brelse(buf)
		if err := ino.fs.bfree(ino.addrs[NDIRECT]); err != nil {
			return err
		}
		ino.addrs[NDIRECT] = 0
	}
	ino.size = 0
	return ino.writeDinode()
}

// --- allocation ---

// Ialloc scans the inode table for a free slot (type==0), claims it on
// disk, and returns a fresh, unlocked cache reference to it. SFS-only
// capability.
func (ino *Inode) Ialloc(typ uint8) (vfs.Inode, error) {
	fs := ino.fs
	sb := fs.sb
	for inum := uint32(1); inum < sb.NInodes; inum++ {
		buf, err := fs.bc.Bread(sb.IBlock(inum))
		if err != nil {
			return nil, err
		}
		off := dinodeOffset(sb, inum)
		d := decodeDinode(buf.Data[off : off+dinodeSize])
		if d.Type == 0 {
			var fresh dinode
			fresh.Type = int16(typ)
			fresh.encode(buf.Data[off : off+dinodeSize])
			err := fs.bc.LogWrite(buf)
			fs.bc.Brelse(buf)
			if err != nil {
				return nil, err
			}
			return fs.iget(inum), nil
		}
		fs.bc.Brelse(buf)
	}
	icache.Fatalf("sfs.Inode.Ialloc", "no free inodes (ninodes=%d)", sb.NInodes)
	panic("unreachable")
}

// CreateInode allocates a new inode, links it into ino under name, and
// (for directories) populates "." and "..". It returns the new inode
// still LOCKED, mirroring fat_create_inode's single-step allocate+link
// shape (see vfs.Inode.CreateInode) adapted onto SFS's separate
// Ialloc/DirLink primitives. ino itself is left unlocked by this call:
// callers that need ino locked across the operation must lock it
// themselves first, as sysfile.c's sys_open/sys_mkdir do.
func (ino *Inode) CreateInode(typ uint8, major, minor int16, name string) (vfs.Inode, error) {
	child, err := ino.Ialloc(typ)
	if err != nil {
		return nil, err
	}
	c := child.(*Inode)
	if err := c.Lock(); err != nil {
		return nil, err
	}
	c.major = major
	c.minor = minor
	c.nlink = 1
	if err := c.writeDinode(); err != nil {
		c.Unlock()
		return nil, err
	}
	if typ == vfs.TypeDir {
		if err := c.DirLink(".", c); err != nil {
			c.UnlockPut()
			return nil, err
		}
		if err := c.DirLink("..", ino); err != nil {
			c.UnlockPut()
			return nil, err
		}
	}
	if err := ino.DirLink(name, c); err != nil {
		c.UnlockPut()
		return nil, err
	}
	return c, nil
}

// --- directories ---

func (ino *Inode) readDirent(off uint32, buf []byte) (dirent, error) {
	n, err := ino.Read(buf, off)
	if err != nil {
		return dirent{}, err
	}
	if n != direntSize {
		icache.Fatalf("sfs.Inode", "short dirent read at offset %d (got %d want %d)", off, n, direntSize)
	}
	return decodeDirent(buf), nil
}

// DirLookup linearly scans ino's directory entries for name, skipping
// inum==0 holes.
func (ino *Inode) DirLookup(name string) (vfs.Inode, uint32, error) {
	if ino.typ != int16(vfs.TypeDir) {
		icache.Fatalf("sfs.Inode.DirLookup", "not a directory (inum=%d)", ino.inum)
	}
	buf := make([]byte, direntSize)
	for off := uint32(0); off < ino.size; off += direntSize {
		de, err := ino.readDirent(off, buf)
		if err != nil {
			return nil, 0, err
		}
		if de.Inum == 0 {
			continue
		}
		if direntName(de) == name {
			return ino.fs.iget(uint32(de.Inum)), off, nil
		}
	}
	return nil, 0, vfs.ErrNotFound
}

// DirLink writes a new (name, target.Inum()) entry into the first
// inum==0 hole, or extends the directory. Rejects duplicate names.
func (ino *Inode) DirLink(name string, target vfs.Inode) error {
	if ino.typ != int16(vfs.TypeDir) {
		icache.Fatalf("sfs.Inode.DirLink", "not a directory (inum=%d)", ino.inum)
	}
	if existing, _, err := ino.DirLookup(name); err == nil {
		existing.Put()
		return fmt.Errorf("sfs: dirlink %q: %w", name, vfs.ErrExists)
	}
	t, ok := target.(*Inode)
	if !ok {
		return fmt.Errorf("sfs: dirlink target is not an sfs inode: %w", vfs.ErrNotSupported)
	}

	buf := make([]byte, direntSize)
	var off uint32
	for off = 0; off < ino.size; off += direntSize {
		de, err := ino.readDirent(off, buf)
		if err != nil {
			return err
		}
		if de.Inum == 0 {
			break
		}
	}
	de := dirent{Inum: uint16(t.inum), Name: makeDirentName(name)}
	de.encode(buf)
	n, err := ino.Write(buf, off)
	if err != nil {
		return err
	}
	if n != direntSize {
		icache.Fatalf("sfs.Inode.DirLink", "short dirent write")
	}
	return nil
}

// IsDirEmpty reports whether ino has any entries beyond "." and "..".
func (ino *Inode) IsDirEmpty() bool {
	buf := make([]byte, direntSize)
	for off := uint32(2 * direntSize); off < ino.size; off += direntSize {
		de, err := ino.readDirent(off, buf)
		if err != nil {
			icache.Fatalf("sfs.Inode.IsDirEmpty", "read error: %v", err)
		}
		if de.Inum != 0 {
			return false
		}
	}
	return true
}

// ReadDirNames returns the names of every non-hole entry in ino,
// including "." and "..". It is not part of vfs.Inode: recursive
// directory removal is SFS-only (spec's remove contract), so the one
// caller that needs to enumerate a directory's children type-asserts
// down to *Inode rather than this being a capability every engine must
// provide. ino must already be locked by the caller, same as
// DirLookup.
func (ino *Inode) ReadDirNames() ([]string, error) {
	if ino.typ != int16(vfs.TypeDir) {
		icache.Fatalf("sfs.Inode.ReadDirNames", "not a directory (inum=%d)", ino.inum)
	}
	var names []string
	buf := make([]byte, direntSize)
	for off := uint32(0); off < ino.size; off += direntSize {
		de, err := ino.readDirent(off, buf)
		if err != nil {
			return nil, err
		}
		if de.Inum == 0 {
			continue
		}
		names = append(names, direntName(de))
	}
	return names, nil
}

// Unlink removes name from the directory ino, locking both ino and the
// target itself (neither is expected to already be locked, mirroring
// sfs_unlink's internal vop_ilock(dp) / vop_ilock(ip)).
func (ino *Inode) Unlink(name string) error {
	if name == "." || name == ".." {
		return fmt.Errorf("sfs: unlink %q: %w", name, vfs.ErrPermission)
	}
	if err := ino.Lock(); err != nil {
		return err
	}
	child, off, err := ino.DirLookup(name)
	if err != nil {
		ino.UnlockPut()
		return err
	}
	c := child.(*Inode)
	if err := c.Lock(); err != nil {
		ino.UnlockPut()
		return err
	}
	if c.nlink < 1 {
		icache.Fatalf("sfs.Inode.Unlink", "nlink < 1 for inum %d", c.inum)
	}
	if c.typ == int16(vfs.TypeDir) && !c.IsDirEmpty() {
		c.UnlockPut()
		ino.UnlockPut()
		return fmt.Errorf("sfs: unlink %q: %w", name, vfs.ErrNotEmpty)
	}

	empty := make([]byte, direntSize)
	n, err := ino.Write(empty, off)
	if err != nil {
		c.UnlockPut()
		ino.UnlockPut()
		return err
	}
	if n != direntSize {
		c.UnlockPut()
		ino.UnlockPut()
		icache.Fatalf("sfs.Inode.Unlink", "short dirent write")
	}
	if c.typ == int16(vfs.TypeDir) {
		ino.nlink--
		if err := ino.writeDinode(); err != nil {
			c.UnlockPut()
			ino.UnlockPut()
			return err
		}
	}
	ino.UnlockPut()

	c.nlink--
	if err := c.writeDinode(); err != nil {
		c.UnlockPut()
		return err
	}
	c.UnlockPut()
	return nil
}
