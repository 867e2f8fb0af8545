// Package fat32 implements the FAT32 filesystem engine (spec §4.3): BPB
// and FSInfo sector handling, FAT chain allocation with mirrored writes
// across every FAT copy, and 8.3/long-name directory entries. It
// satisfies the same icache.Payload and vfs.Inode capability
// interfaces as sfs, so both engines are driven by one shared cache,
// lock manager, and path resolver.
//
// Grounded on original_source/xv6/fs/fat32/fat_inode.c and
// fat_inode.h, with the on-disk layout's byte-accessor idiom carried
// from the teacher's sectors.go/tables.go (struct wrapping a []byte,
// binary.LittleEndian at named offsets). The teacher's own offset
// constants (dirNameOff and siblings) are referenced throughout its
// fat.go/sectors.go but never declared anywhere in that repo; this
// package defines its own, derived from the standard FAT32 on-disk
// format rather than the teacher's broken declarations.
package fat32

import "errors"

// SectorSize is the sector size this engine assumes (spec §6), matching
// blockdev.SectorSize.
const SectorSize = 512

// FAT32 entry classification (spec §4.3, fat_inode.c's isEOF/entry masks).
const (
	fatEntryMask    = 0x0FFF_FFFF // top 4 bits are reserved
	fatEOFMin       = 0x0FFF_FFF8 // entries >= this (masked) mark end-of-chain
	fatBadCluster   = 0x0FFF_FFF7
	fatFreeEntry    = 0x0000_0000
	clusterFirstNum = 2 // the lowest valid, allocatable cluster number
)

func isEOF(entry uint32) bool {
	return entry&fatEntryMask >= fatEOFMin
}

// Directory entry attribute bits (DIR.Attr / tables.go's convention).
const (
	AttrReadOnly = 0x01
	AttrHidden   = 0x02
	AttrSystem   = 0x04
	AttrVolumeID = 0x08
	AttrDir      = 0x10
	AttrArchive  = 0x20
	AttrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID // 0x0F
)

// Short-name directory entry layout (DIR, spec §3/§6), sizeDirEntry=32.
const (
	dirEntrySize       = 32
	dirNameOff         = 0
	dirAttrOff         = 11
	dirNTResOff        = 12
	dirCrtTimeTenthOff = 13
	dirCrtTimeOff      = 14
	dirCrtDateOff      = 16
	dirLstAccDateOff   = 18
	dirFstClusHIOff    = 20
	dirWrtTimeOff      = 22
	dirWrtDateOff      = 24
	dirFstClusLOOff    = 26
	dirFileSizeOff     = 28
)

// Long-name directory entry layout (LDIR, spec §3/§6).
const (
	ldirOrdOff       = 0
	ldirName1Off     = 1  // 5 UTF-16 code units
	ldirAttrOff      = 11 // always AttrLongName
	ldirTypeOff      = 12
	ldirChksumOff    = 13
	ldirName2Off     = 14 // 6 UTF-16 code units
	ldirFstClusLOOff = 26 // always 0
	ldirName3Off     = 28 // 2 UTF-16 code units

	ldirLastLongEntryMask = 0x40
	maxLongNameEntries    = 20 // 20*13 = 260, FAT_DIRSIZ
)

// Deletion/empty markers (tables.go's mskDDEM convention).
const (
	direntFree    = 0x00
	direntDeleted = 0xE5
	direntDot     = '.'
)

// FAT_DIRSIZ: the maximum path element length this engine supports,
// long enough for a full chain of long-name entries.
const DIRSIZ = 13 * maxLongNameEntries

// sentinelFileSize/sentinelCrtTimeTenth mark a freshly allocated file
// that has never been written: cluster allocation happens eagerly at
// CreateInode time (fat_create_inode calls fat_calloc before any data
// exists), so a real zero can't be told apart from "never written" by
// FileSize alone. A file whose on-disk FileSize/CrtTimeTenth match this
// pair is reported as size 0; any real write clears it.
const (
	sentinelFileSize     = 1
	sentinelCrtTimeTenth = 0x5A
)

// A long-name chain with a wrong ChkSum or non-decreasing Ord is an
// on-disk inconsistency, not a recoverable condition (spec §7) — it
// surfaces as icache.FatalError out of scanDir, not a sentinel here.
var (
	ErrBadBPB       = errors.New("fat32: invalid BIOS parameter block")
	ErrNotFAT32     = errors.New("fat32: not a FAT32 volume (expected FATSz32 != 0)")
	ErrOutOfSpace   = errors.New("fat32: volume full, no free clusters")
	ErrNameTooLong  = errors.New("fat32: path element exceeds DIRSIZ")
	ErrShortNameGen = errors.New("fat32: could not synthesize a unique short name")
)
