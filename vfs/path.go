package vfs

import (
	"fmt"
	"strings"
)

// Mounts is the device-name table and boot-filesystem choice behind
// the optional `name:/sub/path` prefix (spec §4.4 "Device prefix").
type Mounts struct {
	Boot   Root
	ByName map[string]Root
}

// NewMounts builds a mount table rooted at boot, with no named devices
// registered yet.
func NewMounts(boot Root) *Mounts {
	return &Mounts{Boot: boot, ByName: make(map[string]Root)}
}

// Mount registers root under name, reachable as "name:/sub/path".
func (m *Mounts) Mount(name string, root Root) {
	m.ByName[name] = root
}

// splitDevice implements Open Question 1's binding decision: scan for
// ':' before the first '/'. A colon that appears at or after the first
// slash (or not at all) means there is no device prefix.
func splitDevice(path string) (dev, rest string, hasDevice bool) {
	slash := strings.IndexByte(path, '/')
	colon := strings.IndexByte(path, ':')
	if colon < 0 {
		return "", path, false
	}
	if slash >= 0 && colon > slash {
		return "", path, false
	}
	return path[:colon], path[colon+1:], true
}

// resolveStart is get_device: picks the inode path resolution should
// start from, and the remaining sub-path to walk from there.
func (m *Mounts) resolveStart(cwd Inode, path string) (Inode, string, error) {
	if dev, rest, ok := splitDevice(path); ok {
		root, found := m.ByName[dev]
		if !found {
			return nil, "", fmt.Errorf("vfs: unknown device %q: %w", dev, ErrNotFound)
		}
		start, err := root.GetRoot()
		return start, rest, err
	}
	if strings.HasPrefix(path, "/") {
		start, err := m.Boot.GetRoot()
		return start, path, err
	}
	if cwd == nil {
		return nil, "", fmt.Errorf("vfs: relative path with no current directory: %w", ErrNotFound)
	}
	return cwd.Dup(), path, nil
}

// SkipElem copies the next '/'-separated path element into elem and
// returns the remainder of path after it, with leading and trailing
// slashes skipped. Elements longer than dirsiz are truncated to dirsiz
// bytes, matching skipelem's DIRSIZ/FAT_DIRSIZ truncation. ok is false
// when path has no more elements.
func SkipElem(path string, dirsiz int) (elem, rest string, ok bool) {
	i := 0
	for i < len(path) && path[i] == '/' {
		i++
	}
	if i >= len(path) {
		return "", "", false
	}
	start := i
	for i < len(path) && path[i] != '/' {
		i++
	}
	elem = path[start:i]
	if len(elem) > dirsiz {
		elem = elem[:dirsiz]
	}
	for i < len(path) && path[i] == '/' {
		i++
	}
	return elem, path[i:], true
}

// namex is the shared body behind Namei and NameiParent: both engines'
// C namei/nameiparent were identical trampolines onto one static
// namex, so this package implements it once against the Inode
// capability interface instead of once per engine.
func namex(start Inode, path string, wantParent bool) (Inode, string, error) {
	ip := start
	var name string
	for {
		elem, rest, ok := SkipElem(path, ip.DirSiz())
		if !ok {
			break
		}
		name = elem
		path = rest

		if err := ip.Lock(); err != nil {
			ip.Put()
			return nil, "", err
		}
		if ip.GetType() != TypeDir {
			ip.UnlockPut()
			return nil, "", ErrNotDir
		}
		if wantParent && path == "" {
			ip.Unlock()
			return ip, name, nil
		}
		next, _, err := ip.DirLookup(name)
		if err != nil {
			ip.UnlockPut()
			return nil, "", err
		}
		ip.UnlockPut()
		ip = next
	}
	if wantParent {
		ip.Put()
		return nil, "", ErrNotFound
	}
	return ip, name, nil
}

// Namei resolves path to its leaf inode, starting from start.
func Namei(start Inode, path string) (Inode, error) {
	ip, _, err := namex(start, path, false)
	return ip, err
}

// NameiParent resolves path to its parent directory, stopping one
// component early; the final component is returned in name.
func NameiParent(start Inode, path string) (ip Inode, name string, err error) {
	return namex(start, path, true)
}

// Lookup resolves path to its leaf inode, honoring an optional
// `device:/…` prefix and falling back to cwd for relative paths.
func (m *Mounts) Lookup(cwd Inode, path string) (Inode, error) {
	start, sub, err := m.resolveStart(cwd, path)
	if err != nil {
		return nil, err
	}
	if sub == "" {
		return start, nil
	}
	return Namei(start, sub)
}

// LookupParent resolves path to its parent directory and final
// component name, honoring the same device/cwd rules as Lookup.
func (m *Mounts) LookupParent(cwd Inode, path string) (Inode, string, error) {
	start, sub, err := m.resolveStart(cwd, path)
	if err != nil {
		return nil, "", err
	}
	return NameiParent(start, sub)
}

// Getcwd reports the absolute, device-tagged path of cwd. Only engines
// implementing GetPath (FAT, per spec §4.4) support this; SFS returns
// ErrNotSupported.
func Getcwd(cwd Inode) (string, error) {
	return cwd.GetPath()
}
