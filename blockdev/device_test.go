package blockdev_test

import (
	"testing"

	"github.com/soypat/dualfs/blockdev"
	"github.com/stretchr/testify/require"
)

func TestMemDeviceRoundTrip(t *testing.T) {
	dev := blockdev.NewMemDevice(16)
	require.EqualValues(t, 16, dev.NumSectors())

	buf := make([]byte, blockdev.SectorSize)
	for i := range buf {
		buf[i] = byte(i)
	}
	require.NoError(t, dev.WriteSector(3, buf))

	got := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.ReadSector(3, got))
	require.Equal(t, buf, got)
}

func TestMemDeviceOutOfRange(t *testing.T) {
	dev := blockdev.NewMemDevice(4)
	buf := make([]byte, blockdev.SectorSize)
	require.ErrorIs(t, dev.ReadSector(4, buf), blockdev.ErrOutOfRange)
	require.ErrorIs(t, dev.WriteSector(100, buf), blockdev.ErrOutOfRange)
}

func TestMemDeviceUnalignedLength(t *testing.T) {
	dev := blockdev.NewMemDevice(4)
	require.Error(t, dev.ReadSector(0, make([]byte, 10)))
}
