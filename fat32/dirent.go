package fat32

import (
	"encoding/binary"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/soypat/dualfs/internal/utf16x"
)

// shortDirEntry is a byte-accessor over one 32-byte DIR entry, grounded
// on the teacher's sectors.go dirSector pattern (struct wrapping
// []byte, binary.LittleEndian methods at named offsets) but keyed to
// this package's own dirNameOff-family constants (fat32.go).
type shortDirEntry struct {
	data []byte // len == dirEntrySize
}

func (e shortDirEntry) name() []byte { return e.data[dirNameOff : dirNameOff+11] }
func (e shortDirEntry) attr() uint8  { return e.data[dirAttrOff] }
func (e shortDirEntry) setAttr(v uint8) { e.data[dirAttrOff] = v }

func (e shortDirEntry) isFree() bool    { return e.data[dirNameOff] == direntFree }
func (e shortDirEntry) isDeleted() bool { return e.data[dirNameOff] == direntDeleted }
func (e shortDirEntry) isEmptySlot() bool { return e.isFree() || e.isDeleted() }
func (e shortDirEntry) isLongName() bool  { return e.attr() == AttrLongName }
func (e shortDirEntry) isVolumeLabel() bool {
	return e.attr()&AttrVolumeID != 0 && e.attr() != AttrLongName
}
func (e shortDirEntry) isDot() bool { return e.data[dirNameOff] == direntDot }

func (e shortDirEntry) markDeleted() { e.data[dirNameOff] = direntDeleted }

func (e shortDirEntry) cluster() uint32 {
	hi := binary.LittleEndian.Uint16(e.data[dirFstClusHIOff:])
	lo := binary.LittleEndian.Uint16(e.data[dirFstClusLOOff:])
	return uint32(hi)<<16 | uint32(lo)
}

func (e shortDirEntry) setCluster(c uint32) {
	binary.LittleEndian.PutUint16(e.data[dirFstClusHIOff:], uint16(c>>16))
	binary.LittleEndian.PutUint16(e.data[dirFstClusLOOff:], uint16(c))
}

func (e shortDirEntry) fileSize() uint32     { return binary.LittleEndian.Uint32(e.data[dirFileSizeOff:]) }
func (e shortDirEntry) setFileSize(v uint32) { binary.LittleEndian.PutUint32(e.data[dirFileSizeOff:], v) }

func (e shortDirEntry) crtTimeTenth() uint8     { return e.data[dirCrtTimeTenthOff] }
func (e shortDirEntry) setCrtTimeTenth(v uint8) { e.data[dirCrtTimeTenthOff] = v }

// crtDate/crtTime double as the major/minor device numbers for T_DEV
// inodes (fat_inode.c's fat_iupdate: "de->CrtDate = sin->major;
// de->CrtTime = sin->minor;"), since FAT has no dedicated device-number
// field. For regular files and directories they hold the real BIOS
// creation date/time instead.
func (e shortDirEntry) crtDate() uint16     { return binary.LittleEndian.Uint16(e.data[dirCrtDateOff:]) }
func (e shortDirEntry) setCrtDate(v uint16) { binary.LittleEndian.PutUint16(e.data[dirCrtDateOff:], v) }
func (e shortDirEntry) crtTime() uint16     { return binary.LittleEndian.Uint16(e.data[dirCrtTimeOff:]) }
func (e shortDirEntry) setCrtTime(v uint16) { binary.LittleEndian.PutUint16(e.data[dirCrtTimeOff:], v) }

func (e shortDirEntry) zero() {
	for i := range e.data {
		e.data[i] = 0
	}
}

// longDirEntry is a byte-accessor over one 32-byte LDIR entry.
type longDirEntry struct {
	data []byte
}

func (e longDirEntry) ord() uint8      { return e.data[ldirOrdOff] }
func (e longDirEntry) setOrd(v uint8)  { e.data[ldirOrdOff] = v }
func (e longDirEntry) isLastLogical() bool { return e.ord()&ldirLastLongEntryMask != 0 }
func (e longDirEntry) sequence() uint8 { return e.ord() &^ ldirLastLongEntryMask }

func (e longDirEntry) checksum() uint8     { return e.data[ldirChksumOff] }
func (e longDirEntry) setChecksum(v uint8) { e.data[ldirChksumOff] = v }

func (e longDirEntry) setAttr() { e.data[ldirAttrOff] = AttrLongName }
func (e longDirEntry) setType() { e.data[ldirTypeOff] = 0 }
func (e longDirEntry) setFstClusLO() {
	binary.LittleEndian.PutUint16(e.data[ldirFstClusLOOff:], 0)
}

func (e longDirEntry) name1() []byte { return e.data[ldirName1Off : ldirName1Off+10] }
func (e longDirEntry) name2() []byte { return e.data[ldirName2Off : ldirName2Off+12] }
func (e longDirEntry) name3() []byte { return e.data[ldirName3Off : ldirName3Off+4] }

// shortNameChecksum implements fat_getChkSum's rotate-right-1
// accumulation over the 11-byte 8.3 name. The spec's glossary calls
// this "ror8"; the actual per-byte operation is a rotate of the
// running sum, not a rotate of each byte.
func shortNameChecksum(name11 []byte) uint8 {
	var sum uint8
	for _, c := range name11 {
		var carry uint8
		if sum&1 != 0 {
			carry = 0x80
		}
		sum = carry + (sum >> 1) + c
	}
	return sum
}

// isValidShortNameChar: fat_isvalid.
func isValidShortNameChar(c byte) bool {
	switch {
	case c <= 32 || c == 127:
		return false
	}
	switch c {
	case '"', '*', '+', ',', '.', '/', ':', ';', '<', '=', '>', '?', '[', '\\', ']', '|':
		return false
	}
	return true
}

func upperASCII(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 32
	}
	return c
}

// cp437Encoder transliterates a long name's characters into the 8.3
// name's single-byte charset (SPEC_FULL.md §4.3b). Runes outside
// CP437's repertoire fall back to '_', matching fat_isvalid's own
// fallback for characters the legacy 8.3 charset cannot represent.
var cp437Encoder = charmap.CodePage437.NewEncoder()

func toShortNameByte(r rune) byte {
	encoded, err := cp437Encoder.Bytes([]byte(string(r)))
	if err != nil || len(encoded) != 1 {
		return '_'
	}
	c := encoded[0]
	if !isValidShortNameChar(c) {
		return '_'
	}
	return upperASCII(c)
}

// makeShortName synthesizes an 11-byte 8.3 name from a long name,
// grounded on fat_getshortname: first 6 valid chars of the base,
// "~1", then up to 3 chars of the extension.
func makeShortName(long string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	dot := len(long)
	for i := 0; i < len(long); i++ {
		if long[i] == '.' {
			dot = i
		}
	}
	n := 0
	for _, r := range long[:dot] {
		if n == 6 {
			break
		}
		if r < utf8.RuneSelf && !isValidShortNameChar(byte(r)) {
			continue
		}
		out[n] = toShortNameByte(r)
		n++
	}
	out[n] = '~'
	out[n+1] = '1'
	if dot < len(long) {
		n = 8
		for _, r := range long[dot+1:] {
			if n == 11 {
				break
			}
			if r < utf8.RuneSelf && !isValidShortNameChar(byte(r)) {
				continue
			}
			out[n] = toShortNameByte(r)
			n++
		}
	}
	return out
}

// isCanonicalShortName reports whether name is already a valid 8.3 name
// on its own (single dot, uppercase-or-caseless, no characters outside
// the legacy charset), in which case no long-name entries are needed
// to represent it.
func isCanonicalShortName(name string) ([11]byte, bool) {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	if name == "" || name == "." || name == ".." {
		return out, false
	}
	dot := -1
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			if dot != -1 {
				return out, false
			}
			dot = i
		}
	}
	base, ext := name, ""
	if dot >= 0 {
		base, ext = name[:dot], name[dot+1:]
	}
	if len(base) == 0 || len(base) > 8 || len(ext) > 3 {
		return out, false
	}
	for i := 0; i < len(base); i++ {
		c := base[i]
		if !isValidShortNameChar(c) || (c >= 'a' && c <= 'z') {
			return out, false
		}
		out[i] = c
	}
	for i := 0; i < len(ext); i++ {
		c := ext[i]
		if !isValidShortNameChar(c) || (c >= 'a' && c <= 'z') {
			return out, false
		}
		out[8+i] = c
	}
	return out, true
}

// bumpShortName increments the numeric suffix of an 11-byte short name
// in place (fat_updatename): "F~9" -> "F~10" is approximated the same
// way the original does, by carrying into the tilde position.
func bumpShortName(name *[11]byte) {
	i := 7
	for name[i] == ' ' {
		i--
	}
	for {
		if name[i] == '~' {
			name[i] = '1'
			name[i-1] = '~'
			return
		}
		if name[i] == '9' {
			name[i] = '0'
			i--
			continue
		}
		name[i]++
		return
	}
}

// longNameEntryCount: ceil(len/13).
func longNameEntryCount(name string) int {
	u := len(utf16.Encode([]rune(name)))
	return (u-1)/13 + 1
}

// encodeLongName writes the LDIR sequence for name (UTF-8) into bufs,
// one [dirEntrySize]byte slot per entry, in on-disk order (highest
// sequence number first, matching fat_dirlink's ldbuf layout).
// checksum is the matching short name's shortNameChecksum.
func encodeLongName(name string, checksum uint8, bufs [][]byte) {
	units := utf16.Encode([]rune(name))
	// Pad with a NUL terminator then 0xFFFF filler, matching fat_dirlink's
	// namebuf convention, so unused name slots are unambiguous filler.
	padded := make([]uint16, len(bufs)*13)
	for i := range padded {
		padded[i] = 0xFFFF
	}
	copy(padded, units)
	if len(units) < len(padded) {
		padded[len(units)] = 0
	}

	n := len(bufs)
	for i := 0; i < n; i++ {
		e := longDirEntry{data: bufs[i]}
		seq := n - i // highest sequence number goes in bufs[0]
		chunk := padded[13*(seq-1) : 13*seq]
		putUTF16LE(e.name1(), chunk[0:5])
		putUTF16LE(e.name2(), chunk[5:11])
		putUTF16LE(e.name3(), chunk[11:13])
		e.setOrd(uint8(seq))
		e.setAttr()
		e.setType()
		e.setChecksum(checksum)
		e.setFstClusLO()
	}
	longDirEntry{data: bufs[0]}.setOrd(uint8(n) | ldirLastLongEntryMask)
}

func putUTF16LE(dst []byte, units []uint16) {
	for i, u := range units {
		binary.LittleEndian.PutUint16(dst[i*2:], u)
	}
}

// decodeLongNameFragment appends a single LDIR entry's 13 UTF-16 code
// units (as raw little-endian bytes) to buf, in on-disk field order.
// It does no Ord/ChkSum validation itself: the caller (scanDir) is the
// one holding the running chain state (expected Ord, recorded ChkSum)
// across successive fragments, so that's where the chain is verified
// before a fragment is ever handed here.
func decodeLongNameFragment(e longDirEntry, buf []byte) []byte {
	buf = append(buf, e.name1()...)
	buf = append(buf, e.name2()...)
	buf = append(buf, e.name3()...)
	return buf
}

// utf16BytesToString decodes a little-endian UTF-16 byte run (as
// accumulated by decodeLongNameFragment, in on-disk logical order) into
// a Go string, trimming at the first NUL/0xFFFF filler unit.
func utf16BytesToString(raw []byte) string {
	trimmed := raw
	for i := 0; i+1 < len(raw); i += 2 {
		u := binary.LittleEndian.Uint16(raw[i:])
		if u == 0 || u == 0xFFFF {
			trimmed = raw[:i]
			break
		}
	}
	dst := make([]byte, len(trimmed)*2)
	n, err := utf16x.ToUTF8(dst, trimmed, binary.LittleEndian)
	if err != nil {
		return strings.TrimRight(string(dst[:n]), "\x00")
	}
	return string(dst[:n])
}
