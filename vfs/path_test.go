package vfs_test

import (
	"testing"

	"github.com/soypat/dualfs/icache"
	"github.com/soypat/dualfs/vfs"
	"github.com/stretchr/testify/require"
)

// fakeInode is a minimal in-memory tree used to exercise path
// resolution without depending on either concrete engine.
type fakeInode struct {
	name     string
	typ      uint8
	children map[string]*fakeInode
	parent   *fakeInode
}

func newFakeDir(name string) *fakeInode {
	return &fakeInode{name: name, typ: vfs.TypeDir, children: map[string]*fakeInode{}}
}

func (f *fakeInode) FSType() icache.FSType { return icache.SFS }
func (f *fakeInode) Dev() uint32           { return 0 }
func (f *fakeInode) Inum() uint32          { return 0 }
func (f *fakeInode) Lock() error           { return nil }
func (f *fakeInode) Unlock()               {}
func (f *fakeInode) UnlockPut() error      { return nil }
func (f *fakeInode) Dup() vfs.Inode        { return f }
func (f *fakeInode) Put() error            { return nil }

func (f *fakeInode) Read(dst []byte, off uint32) (int, error)  { return 0, vfs.NotSupported("Read") }
func (f *fakeInode) Write(src []byte, off uint32) (int, error) { return 0, vfs.NotSupported("Write") }
func (f *fakeInode) Stat() vfs.Stat                             { return vfs.Stat{Type: f.typ} }
func (f *fakeInode) IUpdate() error                             { return nil }

func (f *fakeInode) DirLookup(name string) (vfs.Inode, uint32, error) {
	if name == "." {
		return f, 0, nil
	}
	if name == ".." {
		if f.parent != nil {
			return f.parent, 0, nil
		}
		return f, 0, nil
	}
	child, ok := f.children[name]
	if !ok {
		return nil, 0, vfs.ErrNotFound
	}
	return child, 0, nil
}

func (f *fakeInode) DirLink(name string, target vfs.Inode) error {
	ft := target.(*fakeInode)
	f.children[name] = ft
	ft.parent = f
	return nil
}
func (f *fakeInode) Unlink(name string) error { delete(f.children, name); return nil }
func (f *fakeInode) IsDirEmpty() bool         { return len(f.children) == 0 }

func (f *fakeInode) LinkInc() {}
func (f *fakeInode) LinkDec() {}

func (f *fakeInode) Ialloc(typ uint8) (vfs.Inode, error) {
	return nil, vfs.NotSupported("Ialloc")
}
func (f *fakeInode) CreateInode(typ uint8, major, minor int16, name string) (vfs.Inode, error) {
	child := &fakeInode{name: "", typ: typ, children: map[string]*fakeInode{}}
	return child, nil
}

func (f *fakeInode) Open(flags int) error { return nil }

func (f *fakeInode) GetType() uint8    { return f.typ }
func (f *fakeInode) GetDev() uint32    { return 0 }
func (f *fakeInode) GetNLink() int16   { return 1 }
func (f *fakeInode) GetPath() (string, error) {
	return "", vfs.NotSupported("GetPath")
}
func (f *fakeInode) GetMajor() int16 { return 0 }
func (f *fakeInode) GetMinor() int16 { return 0 }
func (f *fakeInode) DirSiz() int     { return 14 }

type fakeRoot struct{ root *fakeInode }

func (r *fakeRoot) GetRoot() (vfs.Inode, error) { return r.root, nil }
func (r *fakeRoot) DirSiz() int                 { return 14 }

func buildTree() *fakeInode {
	root := newFakeDir("/")
	a := newFakeDir("a")
	root.children["a"] = a
	a.parent = root
	f := &fakeInode{name: "f", typ: vfs.TypeFile, children: map[string]*fakeInode{}}
	a.children["f"] = f
	f.parent = a
	return root
}

func TestSkipElem(t *testing.T) {
	elem, rest, ok := vfs.SkipElem("a/bb/c", 14)
	require.True(t, ok)
	require.Equal(t, "a", elem)
	require.Equal(t, "bb/c", rest)

	elem, rest, ok = vfs.SkipElem("///a//bb", 14)
	require.True(t, ok)
	require.Equal(t, "a", elem)
	require.Equal(t, "bb", rest)

	elem, rest, ok = vfs.SkipElem("a", 14)
	require.True(t, ok)
	require.Equal(t, "a", elem)
	require.Equal(t, "", rest)

	_, _, ok = vfs.SkipElem("", 14)
	require.False(t, ok)
	_, _, ok = vfs.SkipElem("////", 14)
	require.False(t, ok)
}

func TestSkipElemTruncates(t *testing.T) {
	elem, _, ok := vfs.SkipElem("areallylongnamethatoverflows/x", 14)
	require.True(t, ok)
	require.Len(t, elem, 14)
}

func TestNameiResolvesNestedPath(t *testing.T) {
	root := buildTree()
	got, err := vfs.Namei(root, "a/f")
	require.NoError(t, err)
	require.Same(t, root.children["a"].children["f"], got)
}

func TestNameiParentStopsOneLevelEarly(t *testing.T) {
	root := buildTree()
	parent, name, err := vfs.NameiParent(root, "a/f")
	require.NoError(t, err)
	require.Equal(t, "f", name)
	require.Same(t, root.children["a"], parent)
}

func TestNameiNotFound(t *testing.T) {
	root := buildTree()
	_, err := vfs.Namei(root, "a/nope")
	require.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestMountsLookupAbsoluteAndRelative(t *testing.T) {
	root := buildTree()
	m := vfs.NewMounts(&fakeRoot{root: root})

	got, err := m.Lookup(nil, "/a/f")
	require.NoError(t, err)
	require.Same(t, root.children["a"].children["f"], got)

	cwd := root.children["a"]
	got, err = m.Lookup(cwd, "f")
	require.NoError(t, err)
	require.Same(t, cwd.children["f"], got)
}

func TestMountsDevicePrefix(t *testing.T) {
	root := buildTree()
	other := newFakeDir("/")
	other.children["g"] = &fakeInode{name: "g", typ: vfs.TypeFile, children: map[string]*fakeInode{}}
	m := vfs.NewMounts(&fakeRoot{root: root})
	m.Mount("fat", &fakeRoot{root: other})

	got, err := m.Lookup(nil, "fat:/g")
	require.NoError(t, err)
	require.Same(t, other.children["g"], got)

	_, err = m.Lookup(nil, "nope:/g")
	require.ErrorIs(t, err, vfs.ErrNotFound)
}
