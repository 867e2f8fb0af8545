// Package sfs implements the SFS engine (spec §4.2): a simple
// UNIX-style inode file system with a superblock, bitmap block
// allocator, direct+single-indirect block addressing, and fixed
// 16-byte directory entries. Grounded on
// original_source/xv6/fs/sfs/sfs_inode.c and sfs_fs.c.
package sfs

import (
	"encoding/binary"
	"errors"

	"github.com/soypat/dualfs/vfs"
)

// On-disk layout constants (spec §3/§6).
const (
	BSIZE     = 512
	NDIRECT   = 12
	NINDIRECT = BSIZE / 4
	MAXFILE   = NDIRECT + NINDIRECT
	BPB       = BSIZE * 8 // bits of block-allocator bitmap per bitmap block
	DIRSIZ    = 14

	dinodeSize = 2 + 2 + 2 + 2 + 4 + 4*(NDIRECT+1) // type,major,minor,nlink,size,addrs
	direntSize = 2 + DIRSIZ

	ROOTINO = 1
	superblockSector = 1
)

// Sentinel errors for SFS-specific non-fatal conditions not already
// covered by the shared vfs sentinels.
var (
	ErrBadSuperblock = errors.New("sfs: bad superblock")
)

// Superblock mirrors sfs_super: {size, nblocks, ninodes, nlog}. nlog is
// carried for on-disk compatibility with the source layout but is
// unused: transaction grouping is handled by blockdev.Cache's
// Begin/Commit bracket rather than a dedicated log area.
type Superblock struct {
	Size    uint32
	NBlocks uint32
	NInodes uint32
	NLog    uint32
}

func decodeSuperblock(sector []byte) Superblock {
	return Superblock{
		Size:    binary.LittleEndian.Uint32(sector[0:]),
		NBlocks: binary.LittleEndian.Uint32(sector[4:]),
		NInodes: binary.LittleEndian.Uint32(sector[8:]),
		NLog:    binary.LittleEndian.Uint32(sector[12:]),
	}
}

func (sb Superblock) encode(sector []byte) {
	binary.LittleEndian.PutUint32(sector[0:], sb.Size)
	binary.LittleEndian.PutUint32(sector[4:], sb.NBlocks)
	binary.LittleEndian.PutUint32(sector[8:], sb.NInodes)
	binary.LittleEndian.PutUint32(sector[12:], sb.NLog)
}

// IPB is inodes per block for this superblock's fixed dinode size.
func (sb Superblock) IPB() uint32 { return BSIZE / dinodeSize }

// IBlock is the sector holding the inode table slot for inum.
func (sb Superblock) IBlock(inum uint32) uint32 {
	return 2 + inum/sb.IPB()
}

// BBlock is the bitmap sector covering block b, per BBLOCK(b, ninodes):
// the bitmap immediately follows the inode table.
func (sb Superblock) BBlock(b uint32) uint32 {
	inodeBlocks := (sb.NInodes + sb.IPB() - 1) / sb.IPB()
	return 2 + inodeBlocks + b/BPB
}

// dinode is the 64-byte-budget on-disk inode slot: {type, major, minor,
// nlink int16; size uint32; addrs[NDIRECT+1] uint32}. type==0 is free.
type dinode struct {
	Type   int16
	Major  int16
	Minor  int16
	NLink  int16
	Size   uint32
	Addrs  [NDIRECT + 1]uint32
}

func decodeDinode(b []byte) dinode {
	var d dinode
	d.Type = int16(binary.LittleEndian.Uint16(b[0:]))
	d.Major = int16(binary.LittleEndian.Uint16(b[2:]))
	d.Minor = int16(binary.LittleEndian.Uint16(b[4:]))
	d.NLink = int16(binary.LittleEndian.Uint16(b[6:]))
	d.Size = binary.LittleEndian.Uint32(b[8:])
	off := 12
	for i := range d.Addrs {
		d.Addrs[i] = binary.LittleEndian.Uint32(b[off:])
		off += 4
	}
	return d
}

func (d dinode) encode(b []byte) {
	binary.LittleEndian.PutUint16(b[0:], uint16(d.Type))
	binary.LittleEndian.PutUint16(b[2:], uint16(d.Major))
	binary.LittleEndian.PutUint16(b[4:], uint16(d.Minor))
	binary.LittleEndian.PutUint16(b[6:], uint16(d.NLink))
	binary.LittleEndian.PutUint32(b[8:], d.Size)
	off := 12
	for _, a := range d.Addrs {
		binary.LittleEndian.PutUint32(b[off:], a)
		off += 4
	}
}

func dinodeOffset(sb Superblock, inum uint32) int {
	return int(inum%sb.IPB()) * dinodeSize
}

// dirent is the fixed 16-byte SFS directory entry: {inum uint16; name
// [14]byte}. inum==0 marks a hole.
type dirent struct {
	Inum uint16
	Name [DIRSIZ]byte
}

func decodeDirent(b []byte) dirent {
	var de dirent
	de.Inum = binary.LittleEndian.Uint16(b[0:])
	copy(de.Name[:], b[2:2+DIRSIZ])
	return de
}

func (de dirent) encode(b []byte) {
	binary.LittleEndian.PutUint16(b[0:], de.Inum)
	copy(b[2:2+DIRSIZ], de.Name[:])
}

func direntName(de dirent) string {
	n := 0
	for n < DIRSIZ && de.Name[n] != 0 {
		n++
	}
	return string(de.Name[:n])
}

func makeDirentName(name string) (out [DIRSIZ]byte) {
	copy(out[:], name)
	return out
}

// fileType/constants mirror vfs's, kept local so sfs.go reads
// standalone against the source's T_DIR/T_FILE/T_DEV names.
const (
	TypeDir  = vfs.TypeDir
	TypeFile = vfs.TypeFile
	TypeDev  = vfs.TypeDev
)
