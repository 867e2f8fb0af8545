package fat32_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/soypat/dualfs/blockdev"
	"github.com/soypat/dualfs/fat32"
	"github.com/soypat/dualfs/icache"
	"github.com/soypat/dualfs/vfs"
)

// newTestFS formats and mounts a small volume. Unlike sfs, FAT's root
// directory needs no bootstrap step: Format already leaves cluster 2
// zeroed and marked end-of-chain, and the root inode is never linked
// under "." or ".." the way every other directory is.
func newTestFS(t *testing.T) (*fat32.FS, *blockdev.Cache) {
	t.Helper()
	const (
		totSectors = 2048
		secPerClus = 1
		numFATs    = 2
		rsvdSecCnt = 32
		fatSz32    = 32
	)
	dev := blockdev.NewMemDevice(totSectors)
	bc := blockdev.NewCache(dev, nil)
	err := fat32.Format(bc, totSectors, secPerClus, numFATs, rsvdSecCnt, fatSz32)
	require.NoError(t, err)

	ic := icache.New(nil, nil)
	fs, err := fat32.Mount(bc, 0, ic, fat32.NewDeviceTable(), nil, nil)
	require.NoError(t, err)
	return fs, bc
}

func TestFormatAndMount(t *testing.T) {
	fs, _ := newTestFS(t)
	root, err := fs.GetRoot()
	require.NoError(t, err)
	require.NoError(t, root.Lock())
	st := root.Stat()
	require.Equal(t, vfs.TypeDir, st.Type)
	require.NoError(t, root.UnlockPut())
}

func TestMountRejectsNonFAT32BPB(t *testing.T) {
	dev := blockdev.NewMemDevice(64)
	bc := blockdev.NewCache(dev, nil)
	ic := icache.New(nil, nil)
	_, err := fat32.Mount(bc, 0, ic, nil, nil, nil)
	require.ErrorIs(t, err, fat32.ErrBadBPB)
}

func TestCreateFileLinkLookupUnlink(t *testing.T) {
	fs, _ := newTestFS(t)
	root, err := fs.GetRoot()
	require.NoError(t, err)
	require.NoError(t, root.Lock())
	rd := root.(*fat32.Inode)

	file, err := rd.CreateInode(vfs.TypeFile, 0, 0, "hello.txt")
	require.NoError(t, err)
	fi := file.(*fat32.Inode)
	fi.Unlock()
	require.NoError(t, root.UnlockPut())

	root2, err := fs.GetRoot()
	require.NoError(t, err)
	require.NoError(t, root2.Lock())
	found, _, err := root2.DirLookup("hello.txt")
	require.NoError(t, err)
	require.Equal(t, fi.Inum(), found.Inum())
	require.NoError(t, found.Put())
	root2.Unlock()

	// Unlink locks and releases root2 itself (it is not expected to
	// already be held), mirroring sfs's fat_unlink/sfs_unlink convention.
	require.NoError(t, root2.Unlink("hello.txt"))

	root3, err := fs.GetRoot()
	require.NoError(t, err)
	require.NoError(t, root3.Lock())
	_, _, err = root3.DirLookup("hello.txt")
	require.ErrorIs(t, err, vfs.ErrNotFound)
	require.NoError(t, root3.UnlockPut())
}

func TestReadWriteRoundTripAcrossClusters(t *testing.T) {
	fs, _ := newTestFS(t)
	root, err := fs.GetRoot()
	require.NoError(t, err)
	require.NoError(t, root.Lock())
	rd := root.(*fat32.Inode)

	file, err := rd.CreateInode(vfs.TypeFile, 0, 0, "big.bin")
	require.NoError(t, err)
	fi := file.(*fat32.Inode)
	require.NoError(t, root.UnlockPut())

	// One cluster is 512 bytes (secPerClus=1); span several clusters.
	data := make([]byte, 3*fat32.SectorSize+100)
	for i := range data {
		data[i] = byte(i)
	}
	n, err := fi.Write(data, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	fi.Unlock()
	require.NoError(t, fi.Put())

	root2, err := fs.GetRoot()
	require.NoError(t, err)
	require.NoError(t, root2.Lock())
	found, _, err := root2.DirLookup("big.bin")
	require.NoError(t, err)
	require.NoError(t, root2.UnlockPut())

	fi2 := found.(*fat32.Inode)
	require.NoError(t, fi2.Lock())
	require.Equal(t, uint32(len(data)), fi2.Stat().Size)
	got := make([]byte, len(data))
	n, err = fi2.Read(got, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, data, got)
	require.NoError(t, fi2.UnlockPut())
}

func TestLongNameRoundTrip(t *testing.T) {
	fs, _ := newTestFS(t)
	root, err := fs.GetRoot()
	require.NoError(t, err)
	require.NoError(t, root.Lock())
	rd := root.(*fat32.Inode)

	const long = "a rather long filename with spaces.txt"
	file, err := rd.CreateInode(vfs.TypeFile, 0, 0, long)
	require.NoError(t, err)
	fi := file.(*fat32.Inode)
	fi.Unlock()
	require.NoError(t, root.UnlockPut())

	root2, err := fs.GetRoot()
	require.NoError(t, err)
	require.NoError(t, root2.Lock())
	found, _, err := root2.DirLookup(long)
	require.NoError(t, err)
	require.Equal(t, fi.Inum(), found.Inum())
	require.NoError(t, found.Put())
	require.NoError(t, root2.UnlockPut())
}

func TestShortNameCollisionRetry(t *testing.T) {
	fs, _ := newTestFS(t)
	root, err := fs.GetRoot()
	require.NoError(t, err)
	require.NoError(t, root.Lock())
	rd := root.(*fat32.Inode)

	a, err := rd.CreateInode(vfs.TypeFile, 0, 0, "longfilename-one.txt")
	require.NoError(t, err)
	a.Unlock()
	b, err := rd.CreateInode(vfs.TypeFile, 0, 0, "longfilename-two.txt")
	require.NoError(t, err)
	b.Unlock()
	require.NotEqual(t, a.Inum(), b.Inum())
	require.NoError(t, root.UnlockPut())

	root2, err := fs.GetRoot()
	require.NoError(t, err)
	require.NoError(t, root2.Lock())
	fa, _, err := root2.DirLookup("longfilename-one.txt")
	require.NoError(t, err)
	require.Equal(t, a.Inum(), fa.Inum())
	require.NoError(t, fa.Put())
	fb, _, err := root2.DirLookup("longfilename-two.txt")
	require.NoError(t, err)
	require.Equal(t, b.Inum(), fb.Inum())
	require.NoError(t, fb.Put())
	require.NoError(t, root2.UnlockPut())
}

func TestIsDirEmpty(t *testing.T) {
	fs, _ := newTestFS(t)
	root, err := fs.GetRoot()
	require.NoError(t, err)
	require.NoError(t, root.Lock())
	rd := root.(*fat32.Inode)
	require.True(t, rd.IsDirEmpty())

	sub, err := rd.CreateInode(vfs.TypeDir, 0, 0, "sub")
	require.NoError(t, err)
	si := sub.(*fat32.Inode)
	require.True(t, si.IsDirEmpty())
	si.Unlock()
	require.NoError(t, root.UnlockPut())
}

func TestUnlinkNonEmptyDirFails(t *testing.T) {
	fs, _ := newTestFS(t)
	root, err := fs.GetRoot()
	require.NoError(t, err)
	require.NoError(t, root.Lock())
	rd := root.(*fat32.Inode)

	sub, err := rd.CreateInode(vfs.TypeDir, 0, 0, "sub")
	require.NoError(t, err)
	si := sub.(*fat32.Inode)

	leaf, err := si.CreateInode(vfs.TypeFile, 0, 0, "leaf.txt")
	require.NoError(t, err)
	leaf.Unlock()
	si.Unlock()
	require.NoError(t, root.UnlockPut())

	root2, err := fs.GetRoot()
	require.NoError(t, err)
	err = root2.Unlink("sub")
	require.ErrorIs(t, err, vfs.ErrNotEmpty)
}

func TestCreateInodeRejectsDuplicateName(t *testing.T) {
	fs, _ := newTestFS(t)
	root, err := fs.GetRoot()
	require.NoError(t, err)
	require.NoError(t, root.Lock())
	rd := root.(*fat32.Inode)

	a, err := rd.CreateInode(vfs.TypeFile, 0, 0, "dup")
	require.NoError(t, err)
	a.Unlock()

	_, err = rd.CreateInode(vfs.TypeFile, 0, 0, "dup")
	require.ErrorIs(t, err, vfs.ErrExists)
	require.NoError(t, root.UnlockPut())
}

func TestOpenDirectoryRejectsWrite(t *testing.T) {
	fs, _ := newTestFS(t)
	root, err := fs.GetRoot()
	require.NoError(t, err)
	require.NoError(t, root.Lock())
	err = root.Open(vfs.OWRONLY)
	require.ErrorIs(t, err, vfs.ErrPermission)
	require.NoError(t, root.Open(vfs.ORDONLY))
	require.NoError(t, root.UnlockPut())
}

func TestUnlinkReclaimsClusters(t *testing.T) {
	fs, bc := newTestFS(t)
	// FSInfo (sector 1) keeps the free-cluster count at byte 488.
	freeCount := func() uint32 {
		buf, err := bc.Bread(1)
		require.NoError(t, err)
		defer bc.Brelse(buf)
		return binary.LittleEndian.Uint32(buf.Data[488:])
	}
	before := freeCount()

	root, err := fs.GetRoot()
	require.NoError(t, err)
	require.NoError(t, root.Lock())
	rd := root.(*fat32.Inode)

	file, err := rd.CreateInode(vfs.TypeFile, 0, 0, "tmp.bin")
	require.NoError(t, err)
	fi := file.(*fat32.Inode)
	data := make([]byte, 5*fat32.SectorSize)
	_, err = fi.Write(data, 0)
	require.NoError(t, err)
	fi.Unlock()
	require.NoError(t, fi.Put())
	require.NoError(t, root.UnlockPut())

	root2, err := fs.GetRoot()
	require.NoError(t, err)
	require.NoError(t, root2.Unlink("tmp.bin"))
	require.Equal(t, before, freeCount())

	root2b, err := fs.GetRoot()
	require.NoError(t, err)
	require.NoError(t, root2b.Lock())
	_, _, err = root2b.DirLookup("tmp.bin")
	require.ErrorIs(t, err, vfs.ErrNotFound)
	require.NoError(t, root2b.UnlockPut())

	// The reclaimed clusters must be available for reuse.
	root3, err := fs.GetRoot()
	require.NoError(t, err)
	require.NoError(t, root3.Lock())
	file2, err := root3.(*fat32.Inode).CreateInode(vfs.TypeFile, 0, 0, "tmp2.bin")
	require.NoError(t, err)
	file2.Unlock()
	require.NoError(t, root3.UnlockPut())
}
