package fat32

import "encoding/binary"

// BPB offsets, grounded on the teacher's tables.go naming convention
// (bpbBytsPerSec, bpbRootClus32, ...), restricted to the FAT32-relevant
// subset this engine needs.
const (
	bpbBytsPerSec = 11
	bpbSecPerClus = 13
	bpbRsvdSecCnt = 14
	bpbNumFATs    = 16
	bpbTotSec16   = 19
	bpbTotSec32   = 32
	bpbFATSz32    = 36
	bpbRootClus32 = 44
	bpbFSInfo32   = 48
)

// FSInfo offsets (tables.go's fsiFree_Count/fsiNxt_Free).
const (
	fsiFreeCount = 488
	fsiNxtFree   = 492
)

// bpb is a byte-accessor over a BIOS Parameter Block sector, grounded
// on the teacher's biosParamBlock pattern (struct wrapping []byte,
// binary.LittleEndian accessors at named offsets).
type bpb struct {
	data []byte
}

func (b bpb) bytesPerSec() uint16  { return binary.LittleEndian.Uint16(b.data[bpbBytsPerSec:]) }
func (b bpb) secPerClus() uint8    { return b.data[bpbSecPerClus] }
func (b bpb) rsvdSecCnt() uint16   { return binary.LittleEndian.Uint16(b.data[bpbRsvdSecCnt:]) }
func (b bpb) numFATs() uint8       { return b.data[bpbNumFATs] }
func (b bpb) fatSz32() uint32      { return binary.LittleEndian.Uint32(b.data[bpbFATSz32:]) }
func (b bpb) rootClus() uint32     { return binary.LittleEndian.Uint32(b.data[bpbRootClus32:]) }
func (b bpb) fsInfoSector() uint16 { return binary.LittleEndian.Uint16(b.data[bpbFSInfo32:]) }

func (b bpb) totSec() uint32 {
	if v := binary.LittleEndian.Uint32(b.data[bpbTotSec32:]); v != 0 {
		return v
	}
	return uint32(binary.LittleEndian.Uint16(b.data[bpbTotSec16:]))
}

// validate reports whether this looks like a mounted FAT32 BPB (spec
// §4.3: FATSz32 must be nonzero — FAT12/16 volumes use FATSz16 instead
// and are out of scope).
func (b bpb) validate() error {
	if len(b.data) < SectorSize {
		return ErrBadBPB
	}
	if b.bytesPerSec() == 0 || b.secPerClus() == 0 || b.numFATs() == 0 {
		return ErrBadBPB
	}
	if b.fatSz32() == 0 {
		return ErrNotFAT32
	}
	return nil
}

// firstDataSector is the first sector covered by the data region,
// immediately following the reserved area and every FAT copy.
func (b bpb) firstDataSector() uint32 {
	return uint32(b.rsvdSecCnt()) + uint32(b.numFATs())*b.fatSz32()
}

// firstSectorOfCluster: fat_getFirstSectorofCluster.
func (b bpb) firstSectorOfCluster(n uint32) uint32 {
	return (n-clusterFirstNum)*uint32(b.secPerClus()) + b.firstDataSector()
}

// fatEntryLocation: fat_getFATEntry, returning the sector holding the
// FAT entry for cluster n and n's byte offset within that sector.
func (b bpb) fatEntryLocation(n uint32) (sector uint32, offset uint32) {
	byteOff := n * 4
	sector = uint32(b.rsvdSecCnt()) + byteOff/uint32(b.bytesPerSec())
	offset = byteOff % uint32(b.bytesPerSec())
	return sector, offset
}

// fsinfo is a byte-accessor over the FSInfo sector.
type fsinfo struct {
	data []byte
}

func (f fsinfo) freeCount() uint32    { return binary.LittleEndian.Uint32(f.data[fsiFreeCount:]) }
func (f fsinfo) nextFree() uint32     { return binary.LittleEndian.Uint32(f.data[fsiNxtFree:]) }
func (f fsinfo) setFreeCount(v uint32) {
	binary.LittleEndian.PutUint32(f.data[fsiFreeCount:], v)
}
func (f fsinfo) setNextFree(v uint32) {
	binary.LittleEndian.PutUint32(f.data[fsiNxtFree:], v)
}
