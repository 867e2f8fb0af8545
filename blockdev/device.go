// Package blockdev provides the block device contract consumed by the
// sfs and fat32 engines: fixed-size sector reads/writes, a pinned
// buffer cache, and a transaction bracket for grouping writes.
package blockdev

import (
	"errors"
	"fmt"
)

// SectorSize is the sector size both engines assume, per spec.
const SectorSize = 512

// Device is a fixed-size-sector block device. Implementations need not
// be safe for concurrent use; callers serialize access through a Cache.
type Device interface {
	// ReadSector reads exactly len(dst) bytes starting at sector.
	// len(dst) must be a multiple of the device's sector size.
	ReadSector(sector uint32, dst []byte) error
	// WriteSector writes exactly len(src) bytes starting at sector.
	WriteSector(sector uint32, src []byte) error
	// NumSectors returns the total addressable sector count.
	NumSectors() uint32
}

var (
	// ErrOutOfRange is returned by a Device when a sector access falls
	// outside [0, NumSectors).
	ErrOutOfRange = errors.New("blockdev: sector out of range")
)

// MemDevice is an in-memory Device backed by a single contiguous byte
// slice, grounded on the teacher's BlockByteSlice test double.
type MemDevice struct {
	buf  []byte
	sz   int
}

// NewMemDevice allocates a MemDevice of nsectors sectors of SectorSize bytes.
func NewMemDevice(nsectors int) *MemDevice {
	return &MemDevice{buf: make([]byte, nsectors*SectorSize), sz: SectorSize}
}

func (m *MemDevice) NumSectors() uint32 { return uint32(len(m.buf) / m.sz) }

func (m *MemDevice) ReadSector(sector uint32, dst []byte) error {
	off, end, err := m.span(sector, len(dst))
	if err != nil {
		return err
	}
	copy(dst, m.buf[off:end])
	return nil
}

func (m *MemDevice) WriteSector(sector uint32, src []byte) error {
	off, end, err := m.span(sector, len(src))
	if err != nil {
		return err
	}
	copy(m.buf[off:end], src)
	return nil
}

func (m *MemDevice) span(sector uint32, n int) (off, end int, err error) {
	if n%m.sz != 0 {
		return 0, 0, fmt.Errorf("blockdev: length %d not a multiple of sector size %d", n, m.sz)
	}
	off = int(sector) * m.sz
	end = off + n
	if off < 0 || end > len(m.buf) {
		return 0, 0, ErrOutOfRange
	}
	return off, end, nil
}
