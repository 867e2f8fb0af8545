package blockdev_test

import (
	"testing"

	"github.com/soypat/dualfs/blockdev"
	"github.com/stretchr/testify/require"
)

func TestCacheBreadBrelse(t *testing.T) {
	dev := blockdev.NewMemDevice(8)
	c := blockdev.NewCache(dev, nil)

	b, err := c.Bread(2)
	require.NoError(t, err)
	b.Data[0] = 0xAB
	require.NoError(t, c.Bwrite(b))
	c.Brelse(b)

	b2, err := c.Bread(2)
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), b2.Data[0])
	c.Brelse(b2)
}

func TestCacheTransactionBracket(t *testing.T) {
	dev := blockdev.NewMemDevice(8)
	c := blockdev.NewCache(dev, nil)

	c.Begin()
	b, err := c.Bread(1)
	require.NoError(t, err)
	b.Data[0] = 0x42
	require.NoError(t, c.LogWrite(b))
	c.Brelse(b)

	// Not yet flushed to the device directly underneath the cache.
	raw := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.ReadSector(1, raw))
	require.NotEqual(t, byte(0x42), raw[0])

	require.NoError(t, c.Commit())
	require.NoError(t, dev.ReadSector(1, raw))
	require.Equal(t, byte(0x42), raw[0])
}

func TestCacheZero(t *testing.T) {
	dev := blockdev.NewMemDevice(4)
	c := blockdev.NewCache(dev, nil)
	b, err := c.Bread(0)
	require.NoError(t, err)
	for i := range b.Data {
		b.Data[i] = 0xFF
	}
	require.NoError(t, c.Bwrite(b))
	c.Brelse(b)

	require.NoError(t, c.Zero(0))

	b2, err := c.Bread(0)
	require.NoError(t, err)
	defer c.Brelse(b2)
	for _, v := range b2.Data {
		require.Zero(t, v)
	}
}
