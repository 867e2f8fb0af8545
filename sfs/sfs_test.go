package sfs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/soypat/dualfs/blockdev"
	"github.com/soypat/dualfs/icache"
	"github.com/soypat/dualfs/sfs"
	"github.com/soypat/dualfs/vfs"
)

// newTestFS formats and mounts a small volume, then bootstraps a root
// directory (inode 1) with "." and ".." entries, the way a mkfs tool
// built on this engine would.
func newTestFS(t *testing.T) (*sfs.FS, *blockdev.Cache) {
	t.Helper()
	dev := blockdev.NewMemDevice(2048)
	bc := blockdev.NewCache(dev, nil)
	err := sfs.Format(bc, 2048, 200)
	require.NoError(t, err)

	ic := icache.New(nil, nil)
	fs, err := sfs.Mount(bc, 0, ic, sfs.NewDeviceTable(), nil)
	require.NoError(t, err)

	root, err := fs.GetRoot()
	require.NoError(t, err)
	ri := root.(*sfs.Inode)
	// Root has no parent to be linked under by name, so it is bootstrapped
	// via the lower-level Ialloc primitive rather than CreateInode.
	created, err := ri.Ialloc(vfs.TypeDir)
	require.NoError(t, err)
	require.Equal(t, uint32(sfs.ROOTINO), created.Inum())
	c := created.(*sfs.Inode)
	require.NoError(t, c.Lock())

	require.NoError(t, c.DirLink(".", c))
	require.NoError(t, c.DirLink("..", c))
	c.Unlock()
	require.NoError(t, c.Put())

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

func TestMountRejectsBadSuperblock(t *testing.T) {
	dev := blockdev.NewMemDevice(8)
	bc := blockdev.NewCache(dev, nil)
	ic := icache.New(nil, nil)
	_, err := sfs.Mount(bc, 0, ic, nil, nil)
	require.ErrorIs(t, err, sfs.ErrBadSuperblock)
}

func TestCreateFileLinkLookupUnlink(t *testing.T) {
	fs, _ := newTestFS(t)
	root, err := fs.GetRoot()
	require.NoError(t, err)
	require.NoError(t, root.Lock())
	rd := root.(*sfs.Inode)

	file, err := rd.CreateInode(vfs.TypeFile, 0, 0, "hello.txt")
	require.NoError(t, err)
	fi := file.(*sfs.Inode)
	fi.Unlock()

	require.NoError(t, root.UnlockPut())

	root2, err := fs.GetRoot()
	require.NoError(t, err)
	require.NoError(t, root2.Lock())
	found, _, err := root2.DirLookup("hello.txt")
	require.NoError(t, err)
	require.Equal(t, fi.Inum(), found.Inum())
	found.Put()
	root2.Unlock()

	// Unlink locks root2 itself and drops the reference it holds.
	err = root2.Unlink("hello.txt")
	require.NoError(t, err)

	root2, err = fs.GetRoot()
	require.NoError(t, err)
	require.NoError(t, root2.Lock())
	_, _, err = root2.DirLookup("hello.txt")
	require.ErrorIs(t, err, vfs.ErrNotFound)
	require.NoError(t, root2.UnlockPut())
}

func TestReadWriteRoundTripAcrossIndirectBlocks(t *testing.T) {
	fs, _ := newTestFS(t)
	root, err := fs.GetRoot()
	require.NoError(t, err)
	require.NoError(t, root.Lock())
	rd := root.(*sfs.Inode)

	file, err := rd.CreateInode(vfs.TypeFile, 0, 0, "big.bin")
	require.NoError(t, err)
	fi := file.(*sfs.Inode)
	root.UnlockPut()

	// Span NDIRECT(12)*512 so writes reach into the single-indirect block.
	data := make([]byte, (sfs.NDIRECT+3)*sfs.BSIZE)
	for i := range data {
		data[i] = byte(i)
	}
	n, err := fi.Write(data, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	fi.Unlock()
	require.NoError(t, fi.Put())

	root2, _ := fs.GetRoot()
	root2.Lock()
	found, _, err := root2.(*sfs.Inode).DirLookup("big.bin")
	require.NoError(t, err)
	root2.UnlockPut()

	fi2 := found.(*sfs.Inode)
	fi2.Lock()
	got := make([]byte, len(data))
	n, err = fi2.Read(got, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, data, got)
	fi2.UnlockPut()
}

func TestIsDirEmpty(t *testing.T) {
	fs, _ := newTestFS(t)
	root, _ := fs.GetRoot()
	root.Lock()
	rd := root.(*sfs.Inode)
	require.True(t, rd.IsDirEmpty())

	sub, err := rd.CreateInode(vfs.TypeDir, 0, 0, "sub")
	require.NoError(t, err)
	si := sub.(*sfs.Inode)
	require.True(t, si.IsDirEmpty())
	si.Unlock()
	root.UnlockPut()
}

func TestUnlinkNonEmptyDirFails(t *testing.T) {
	fs, _ := newTestFS(t)
	root, _ := fs.GetRoot()
	root.Lock()
	rd := root.(*sfs.Inode)

	sub, err := rd.CreateInode(vfs.TypeDir, 0, 0, "sub")
	require.NoError(t, err)
	si := sub.(*sfs.Inode)
	si.Unlock()

	leaf, err := si.CreateInode(vfs.TypeFile, 0, 0, "leaf.txt")
	require.NoError(t, err)
	leaf.Unlock()
	root.UnlockPut()

	// Unlink locks root2 itself and drops the reference it holds.
	root2, _ := fs.GetRoot()
	err = root2.Unlink("sub")
	require.ErrorIs(t, err, vfs.ErrNotEmpty)
}

func TestDirLinkRejectsDuplicateName(t *testing.T) {
	fs, _ := newTestFS(t)
	root, _ := fs.GetRoot()
	root.Lock()
	rd := root.(*sfs.Inode)

	a, err := rd.CreateInode(vfs.TypeFile, 0, 0, "dup")
	require.NoError(t, err)
	a.Unlock()

	_, err = rd.CreateInode(vfs.TypeFile, 0, 0, "dup")
	require.ErrorIs(t, err, vfs.ErrExists)
	root.UnlockPut()
}

func TestOpenDirectoryRejectsWrite(t *testing.T) {
	fs, _ := newTestFS(t)
	root, _ := fs.GetRoot()
	require.NoError(t, root.Lock())
	err := root.Open(vfs.OWRONLY)
	require.ErrorIs(t, err, vfs.ErrPermission)
	err = root.Open(vfs.ORDONLY)
	require.NoError(t, err)
	root.UnlockPut()
}
