package fsapi_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/soypat/dualfs/blockdev"
	"github.com/soypat/dualfs/fsapi"
	"github.com/soypat/dualfs/icache"
	"github.com/soypat/dualfs/sfs"
	"github.com/soypat/dualfs/vfs"
)

// newTestSFS formats, mounts, and bootstraps an SFS volume the way
// sfs_test.go's newTestFS does, then wraps it in an fsapi.FS with one
// process rooted at its freshly-bootstrapped root.
func newTestSFS(t *testing.T) (*fsapi.FS, *fsapi.Process) {
	t.Helper()
	dev := blockdev.NewMemDevice(2048)
	bc := blockdev.NewCache(dev, nil)
	require.NoError(t, sfs.Format(bc, 2048, 200))

	ic := icache.New(nil, nil)
	sf, err := sfs.Mount(bc, 0, ic, sfs.NewDeviceTable(), nil)
	require.NoError(t, err)

	root, err := sf.GetRoot()
	require.NoError(t, err)
	ri := root.(*sfs.Inode)
	created, err := ri.Ialloc(vfs.TypeDir)
	require.NoError(t, err)
	c := created.(*sfs.Inode)
	require.NoError(t, c.Lock())
	require.NoError(t, c.DirLink(".", c))
	require.NoError(t, c.DirLink("..", c))
	c.Unlock()
	require.NoError(t, c.Put())

	fs := fsapi.New(fsapi.Mount{Root: sf, BC: bc}, nil)
	cwd, err := sf.GetRoot()
	require.NoError(t, err)
	return fs, fs.NewProcess(cwd)
}

func TestOpenCreateWriteReadClose(t *testing.T) {
	_, proc := newTestSFS(t)

	fd, err := proc.Open("hello.txt", vfs.OCREATE|vfs.ORDWR)
	require.NoError(t, err)

	n, err := proc.Write(fd, []byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.NoError(t, proc.Close(fd))

	fd2, err := proc.Open("hello.txt", vfs.ORDONLY)
	require.NoError(t, err)
	got := make([]byte, 11)
	n, err = proc.Read(fd2, got)
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.Equal(t, "hello world", string(got))
	require.NoError(t, proc.Close(fd2))
}

func TestOpenExistingFileTwiceReturnsSameInode(t *testing.T) {
	_, proc := newTestSFS(t)
	fd, err := proc.Open("f.txt", vfs.OCREATE|vfs.OWRONLY)
	require.NoError(t, err)
	st1, err := proc.Fstat(fd)
	require.NoError(t, err)
	require.NoError(t, proc.Close(fd))

	fd2, err := proc.Open("f.txt", vfs.OCREATE|vfs.OWRONLY)
	require.NoError(t, err)
	st2, err := proc.Fstat(fd2)
	require.NoError(t, err)
	require.Equal(t, st1.Ino, st2.Ino)
	require.NoError(t, proc.Close(fd2))
}

func TestMkdirChdirGetcwd(t *testing.T) {
	_, proc := newTestSFS(t)
	require.NoError(t, proc.Mkdir("sub"))
	require.NoError(t, proc.Chdir("sub"))

	// sfs has no GetPath support, so Getcwd must surface ErrNotSupported
	// rather than a path.
	_, err := proc.Getcwd()
	require.ErrorIs(t, err, vfs.ErrNotSupported)
}

func TestMkdirThenCreateFileInside(t *testing.T) {
	_, proc := newTestSFS(t)
	require.NoError(t, proc.Mkdir("sub"))
	fd, err := proc.Open("sub/leaf.txt", vfs.OCREATE|vfs.OWRONLY)
	require.NoError(t, err)
	_, err = proc.Write(fd, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, proc.Close(fd))
}

func TestLinkAndUnlink(t *testing.T) {
	_, proc := newTestSFS(t)
	fd, err := proc.Open("a.txt", vfs.OCREATE|vfs.OWRONLY)
	require.NoError(t, err)
	_, err = proc.Write(fd, []byte("data"))
	require.NoError(t, err)
	require.NoError(t, proc.Close(fd))

	require.NoError(t, proc.Link("a.txt", "b.txt"))

	fdb, err := proc.Open("b.txt", vfs.ORDONLY)
	require.NoError(t, err)
	got := make([]byte, 4)
	n, err := proc.Read(fdb, got)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "data", string(got))
	require.NoError(t, proc.Close(fdb))

	require.NoError(t, proc.Unlink("a.txt"))
	_, err = proc.Open("a.txt", vfs.ORDONLY)
	require.ErrorIs(t, err, vfs.ErrNotFound)

	// b.txt still resolves: unlinking a.txt only removed that name.
	fdb2, err := proc.Open("b.txt", vfs.ORDONLY)
	require.NoError(t, err)
	require.NoError(t, proc.Close(fdb2))
}

func TestUnlinkDotDotFails(t *testing.T) {
	_, proc := newTestSFS(t)
	err := proc.Unlink(".")
	require.ErrorIs(t, err, vfs.ErrPermission)
	err = proc.Unlink("..")
	require.ErrorIs(t, err, vfs.ErrPermission)
}

func TestCopyIntoExistingDirectory(t *testing.T) {
	_, proc := newTestSFS(t)
	require.NoError(t, proc.Mkdir("dst"))

	fd, err := proc.Open("src.txt", vfs.OCREATE|vfs.OWRONLY)
	require.NoError(t, err)
	_, err = proc.Write(fd, []byte("copied bytes"))
	require.NoError(t, err)
	require.NoError(t, proc.Close(fd))

	require.NoError(t, proc.Copy("src.txt", "dst"))

	fd2, err := proc.Open("dst/src.txt", vfs.ORDONLY)
	require.NoError(t, err)
	got := make([]byte, len("copied bytes"))
	_, err = proc.Read(fd2, got)
	require.NoError(t, err)
	require.Equal(t, "copied bytes", string(got))
	require.NoError(t, proc.Close(fd2))

	// source is untouched by copy.
	fd3, err := proc.Open("src.txt", vfs.ORDONLY)
	require.NoError(t, err)
	require.NoError(t, proc.Close(fd3))
}

func TestMoveRemovesSource(t *testing.T) {
	_, proc := newTestSFS(t)
	fd, err := proc.Open("m.txt", vfs.OCREATE|vfs.OWRONLY)
	require.NoError(t, err)
	_, err = proc.Write(fd, []byte("moved"))
	require.NoError(t, err)
	require.NoError(t, proc.Close(fd))

	require.NoError(t, proc.Move("m.txt", "m2.txt"))

	_, err = proc.Open("m.txt", vfs.ORDONLY)
	require.ErrorIs(t, err, vfs.ErrNotFound)

	fd2, err := proc.Open("m2.txt", vfs.ORDONLY)
	require.NoError(t, err)
	got := make([]byte, 5)
	_, err = proc.Read(fd2, got)
	require.NoError(t, err)
	require.Equal(t, "moved", string(got))
	require.NoError(t, proc.Close(fd2))
}

func TestRmdirRejectsNonEmpty(t *testing.T) {
	_, proc := newTestSFS(t)
	require.NoError(t, proc.Mkdir("sub"))
	fd, err := proc.Open("sub/leaf.txt", vfs.OCREATE|vfs.OWRONLY)
	require.NoError(t, err)
	require.NoError(t, proc.Close(fd))

	err = proc.Rmdir("sub")
	require.ErrorIs(t, err, vfs.ErrNotEmpty)
}

func TestRmdirRemovesEmptyDir(t *testing.T) {
	_, proc := newTestSFS(t)
	require.NoError(t, proc.Mkdir("sub"))
	require.NoError(t, proc.Rmdir("sub"))

	_, err := proc.Open("sub", vfs.ORDONLY)
	require.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestRemoveRecursivelyDeletesTree(t *testing.T) {
	_, proc := newTestSFS(t)
	require.NoError(t, proc.Mkdir("tree"))
	require.NoError(t, proc.Mkdir("tree/branch"))
	fd, err := proc.Open("tree/branch/leaf.txt", vfs.OCREATE|vfs.OWRONLY)
	require.NoError(t, err)
	require.NoError(t, proc.Close(fd))

	require.NoError(t, proc.Remove("tree"))

	_, err = proc.Open("tree", vfs.ORDONLY)
	require.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestTouchCreatesThenRestamps(t *testing.T) {
	_, proc := newTestSFS(t)
	require.NoError(t, proc.Touch("t.txt"))
	require.NoError(t, proc.Touch("t.txt"))

	fd, err := proc.Open("t.txt", vfs.ORDONLY)
	require.NoError(t, err)
	require.NoError(t, proc.Close(fd))
}

func TestPipeReadWrite(t *testing.T) {
	_, proc := newTestSFS(t)
	rfd, wfd, err := proc.Pipe()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := proc.Write(wfd, []byte("ping"))
		done <- err
	}()

	got := make([]byte, 4)
	n, err := proc.Read(rfd, got)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "ping", string(got))
	require.NoError(t, <-done)

	require.NoError(t, proc.Close(rfd))
	require.NoError(t, proc.Close(wfd))
}

func TestDupSharesOffset(t *testing.T) {
	_, proc := newTestSFS(t)
	fd, err := proc.Open("d.txt", vfs.OCREATE|vfs.ORDWR)
	require.NoError(t, err)
	_, err = proc.Write(fd, []byte("abcdef"))
	require.NoError(t, err)

	dfd, err := proc.Dup(fd)
	require.NoError(t, err)
	require.NoError(t, proc.Close(fd))

	// The duplicate fd keeps the file (and its seek position) alive
	// after the original fd is closed.
	_, err = proc.Write(dfd, []byte("ghi"))
	require.NoError(t, err)
	require.NoError(t, proc.Close(dfd))

	fd2, err := proc.Open("d.txt", vfs.ORDONLY)
	require.NoError(t, err)
	got := make([]byte, 9)
	n, err := proc.Read(fd2, got)
	require.NoError(t, err)
	require.Equal(t, 9, n)
	require.Equal(t, "abcdefghi", string(got))
	require.NoError(t, proc.Close(fd2))
}

func TestFstatReportsType(t *testing.T) {
	_, proc := newTestSFS(t)
	fd, err := proc.Open("s.txt", vfs.OCREATE|vfs.OWRONLY)
	require.NoError(t, err)
	st, err := proc.Fstat(fd)
	require.NoError(t, err)
	require.Equal(t, vfs.TypeFile, st.Type)
	require.NoError(t, proc.Close(fd))
}
