// Package container is the stand-in for the external hierarchical array
// library (hdf5-like) that spec.md treats as an out-of-scope
// collaborator. It implements exactly the operations the storage adapter
// needs: open/create/close, group and dataset creation, path lookup,
// slicing, broadcast assignment, attribute maps, and node deletion.
// Renaming a database file is done by internal/store with os.Rename.
//
// A Container is not itself safe for concurrent use; callers (internal/store)
// serialize access to a given file through internal/lockd before calling in.
package container

import (
	"fmt"
	"os"
	"path"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/sandia-minimega/arraydb/pkg/wire"
)

// Container is one open database file: an in-memory node tree backed by
// a gob-encoded image on disk.
type Container struct {
	f    *os.File
	path string
	root *node
}

// Create makes a new, empty database file at path. If overwrite is false
// and the file already exists, os.ErrExist is returned.
func Create(p string, overwrite bool) (*Container, error) {
	flags := os.O_RDWR | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	if err := os.MkdirAll(path.Dir(p), 0775); err != nil {
		return nil, fmt.Errorf("container: mkdir: %w", err)
	}
	f, err := os.OpenFile(p, flags, 0664)
	if err != nil {
		return nil, err
	}
	c := &Container{f: f, path: p, root: newGroupNode()}
	if err := c.save(); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

// Open opens an existing database file and loads its tree into memory.
func Open(p string) (*Container, error) {
	f, err := os.OpenFile(p, os.O_RDWR, 0664)
	if err != nil {
		return nil, err
	}
	root, err := loadImage(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Container{f: f, path: p, root: root}, nil
}

// Close releases the file handle. Any pending mutation was already
// flushed to disk by the operation that made it.
func (c *Container) Close() error {
	return c.f.Close()
}

func (c *Container) save() error {
	return saveImage(c.f, c.root)
}

// splitPath turns "/a/b/c" into ["a","b","c"]; "/" becomes [].
func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func (c *Container) resolve(p string) (*node, error) {
	cur := c.root
	for _, seg := range splitPath(p) {
		if cur.IsDataset {
			return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, p)
		}
		child, ok := cur.Children[seg]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, p)
		}
		cur = child
	}
	return cur, nil
}

// resolveParent resolves all but the last path segment, returning the
// parent group node and the final segment name.
func (c *Container) resolveParent(p string) (*node, string, error) {
	segs := splitPath(p)
	if len(segs) == 0 {
		return nil, "", fmt.Errorf("%w: cannot use the root node here", ErrValue)
	}
	cur := c.root
	for _, seg := range segs[:len(segs)-1] {
		if cur.IsDataset {
			return nil, "", fmt.Errorf("%w: %q", ErrNodeNotFound, p)
		}
		child, ok := cur.Children[seg]
		if !ok {
			return nil, "", fmt.Errorf("%w: %q", ErrNodeNotFound, p)
		}
		cur = child
	}
	if cur.IsDataset {
		return nil, "", fmt.Errorf("%w: %q", ErrNodeNotFound, p)
	}
	return cur, segs[len(segs)-1], nil
}

// Contains reports whether a node exists at path.
func (c *Container) Contains(p string) bool {
	_, err := c.resolve(p)
	return err == nil
}

// CreateGroup creates an empty group at path, failing if something
// already exists there.
func (c *Container) CreateGroup(p string) error {
	parent, name, err := c.resolveParent(p)
	if err != nil {
		return err
	}
	if _, ok := parent.Children[name]; ok {
		return fmt.Errorf("%w: %q", ErrGroupExists, p)
	}
	parent.Children[name] = newGroupNode()
	return c.save()
}

// RequireGroup creates the group at path if absent; if present and
// already a group, it is a no-op; if present as a dataset, it is an error.
func (c *Container) RequireGroup(p string) error {
	parent, name, err := c.resolveParent(p)
	if err != nil {
		return err
	}
	if existing, ok := parent.Children[name]; ok {
		if existing.IsDataset {
			return fmt.Errorf("%w: %q is a dataset", ErrNotAGroup, p)
		}
		return nil
	}
	parent.Children[name] = newGroupNode()
	return c.save()
}

// CreateDataset creates a dataset at path from an array descriptor,
// failing if something already exists there. data must hold exactly the
// bytes that dtype and shape call for; a nil data buffer is not filled in,
// so it is rejected with ErrIncompatible unless shape has no elements.
func (c *Container) CreateDataset(p string, dtype string, shape []int64, data []byte) error {
	parent, name, err := c.resolveParent(p)
	if err != nil {
		return err
	}
	if _, ok := parent.Children[name]; ok {
		return fmt.Errorf("%w: %q", ErrDatasetExists, p)
	}
	elemSize, err := elementSize(dtype)
	if err != nil {
		return err
	}
	if want := shapeCount(shape) * int64(elemSize); int64(len(data)) != want {
		return fmt.Errorf("%w: dtype=%s shape=%v wants %d bytes, got %d", ErrIncompatible, dtype, shape, want, len(data))
	}
	parent.Children[name] = newDatasetNode(dtype, shape, data)
	return c.save()
}

// RequireDataset creates the dataset at path if absent; if present, it
// must match dtype and shape exactly or ErrIncompatible is returned (mapped
// to INCOMPATIBLE_DATA by the dispatcher).
func (c *Container) RequireDataset(p string, dtype string, shape []int64, data []byte) (created bool, err error) {
	parent, name, err := c.resolveParent(p)
	if err != nil {
		return false, err
	}
	if existing, ok := parent.Children[name]; ok {
		if !existing.IsDataset {
			return false, fmt.Errorf("%w: %q is a group", ErrNotADataset, p)
		}
		if existing.Dtype != dtype || !shapesEqual(existing.Shape, shape) {
			return false, fmt.Errorf("%w: existing dataset %q has dtype=%s shape=%v", ErrIncompatible, p, existing.Dtype, existing.Shape)
		}
		return false, nil
	}
	elemSize, err := elementSize(dtype)
	if err != nil {
		return false, err
	}
	if want := shapeCount(shape) * int64(elemSize); int64(len(data)) != want {
		return false, fmt.Errorf("%w: dtype=%s shape=%v wants %d bytes, got %d", ErrIncompatible, dtype, shape, want, len(data))
	}
	parent.Children[name] = newDatasetNode(dtype, shape, data)
	return true, c.save()
}

// Delete removes the node at path (and, if a group, everything under it).
func (c *Container) Delete(p string) error {
	parent, name, err := c.resolveParent(p)
	if err != nil {
		return err
	}
	if _, ok := parent.Children[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, p)
	}
	delete(parent.Children, name)
	return c.save()
}

// NodeDescriptor mirrors wire.Node for the node this path addresses.
func (c *Container) NodeDescriptor(p string) (wire.Node, error) {
	n, err := c.resolve(p)
	if err != nil {
		return wire.Node{}, err
	}
	return descriptorOf(p, n), nil
}

func descriptorOf(p string, n *node) wire.Node {
	if n.IsDataset {
		return wire.Node{Kind: "dataset", Path: p, Shape: n.Shape, HasShape: true, Dtype: n.Dtype, HasDtype: true}
	}
	return wire.Node{Kind: "group", Path: p}
}

// Keys returns the immediate child names of the group at path, in no
// particular order (spec.md leaves ordering unspecified).
func (c *Container) Keys(p string) ([]string, error) {
	n, err := c.resolve(p)
	if err != nil {
		return nil, err
	}
	if n.IsDataset {
		return nil, fmt.Errorf("%w: %q is a dataset", ErrNotAGroup, p)
	}
	keys := make([]string, 0, len(n.Children))
	for k := range n.Children {
		keys = append(keys, k)
	}
	return keys, nil
}

// TreeEntry is one row of a recursive tree listing.
type TreeEntry struct {
	Path     string
	Kind     string
	Children []TreeEntry
}

// Tree returns a recursive listing rooted at path.
func (c *Container) Tree(p string) (TreeEntry, error) {
	n, err := c.resolve(p)
	if err != nil {
		return TreeEntry{}, err
	}
	if n.IsDataset {
		return TreeEntry{}, fmt.Errorf("%w: %q is a dataset", ErrNotAGroup, p)
	}
	return buildTree(p, n), nil
}

func buildTree(p string, n *node) TreeEntry {
	if n.IsDataset {
		return TreeEntry{Path: p, Kind: "dataset"}
	}
	entry := TreeEntry{Path: p, Kind: "group"}
	for name, child := range n.Children {
		childPath := strings.TrimRight(p, "/") + "/" + name
		entry.Children = append(entry.Children, buildTree(childPath, child))
	}
	return entry
}

// Filesize returns the on-disk byte size of the database file.
func (c *Container) Filesize() (int64, error) {
	info, err := c.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// AttrsGet returns the value of the named attribute on the node at path.
func (c *Container) AttrsGet(p, key string) (wire.Value, error) {
	n, err := c.resolve(p)
	if err != nil {
		return wire.Value{}, err
	}
	v, ok := n.Attrs[key]
	if !ok {
		return wire.Value{}, fmt.Errorf("%w: attribute %q", ErrKey, key)
	}
	return v, nil
}

// AttrsSet creates or overwrites the named attribute.
func (c *Container) AttrsSet(p, key string, v wire.Value) error {
	n, err := c.resolve(p)
	if err != nil {
		return err
	}
	n.Attrs[key] = v
	return c.save()
}

// AttrsContains reports whether the named attribute exists.
func (c *Container) AttrsContains(p, key string) (bool, error) {
	n, err := c.resolve(p)
	if err != nil {
		return false, err
	}
	_, ok := n.Attrs[key]
	return ok, nil
}

// AttrsKeys returns the attribute names on the node at path, in no
// particular order.
func (c *Container) AttrsKeys(p string) ([]string, error) {
	n, err := c.resolve(p)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(n.Attrs))
	for k := range n.Attrs {
		keys = append(keys, k)
	}
	return keys, nil
}

// AttrsDel removes the named attribute, failing with ErrKey if absent.
func (c *Container) AttrsDel(p, key string) error {
	n, err := c.resolve(p)
	if err != nil {
		return err
	}
	if _, ok := n.Attrs[key]; !ok {
		return fmt.Errorf("%w: attribute %q", ErrKey, key)
	}
	delete(n.Attrs, key)
	return c.save()
}

// datasetNode resolves path and requires it to be a dataset.
func (c *Container) datasetNode(p string) (*node, error) {
	n, err := c.resolve(p)
	if err != nil {
		return nil, err
	}
	if !n.IsDataset {
		return nil, fmt.Errorf("%w: %q is a group", ErrNotADataset, p)
	}
	return n, nil
}

// ReadLockAdvisory takes a shared flock on the underlying file descriptor,
// so any number of readers (in this process or another) can hold it at
// once. internal/store uses this in addition to internal/lockd's
// in-process coordination, so a second arraydbd process sharing the same
// base directory cannot interleave a write with these reads.
func (c *Container) ReadLockAdvisory() error {
	return unix.Flock(int(c.f.Fd()), unix.LOCK_SH)
}

// WriteLockAdvisory takes an exclusive flock on the underlying file
// descriptor, excluding every other reader and writer, in this process or
// another, for as long as it is held.
func (c *Container) WriteLockAdvisory() error {
	return unix.Flock(int(c.f.Fd()), unix.LOCK_EX)
}

// UnlockAdvisory releases the flock taken by ReadLockAdvisory or
// WriteLockAdvisory.
func (c *Container) UnlockAdvisory() error {
	return unix.Flock(int(c.f.Fd()), unix.LOCK_UN)
}
