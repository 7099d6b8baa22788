// Package store is the storage adapter (C4): it resolves a database name
// to a path under the configured base directory, acquires the right lock
// from internal/lockd, and calls into internal/container to perform the
// operation. No internal/container handle ever outlives the lock that
// protected it.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sandia-minimega/arraydb/internal/container"
	"github.com/sandia-minimega/arraydb/internal/lockd"
	"github.com/sandia-minimega/arraydb/pkg/wire"
)

// ErrInvalidPath is returned when a database name resolves outside the
// base directory.
var ErrInvalidPath = errors.New("store: path escapes base directory")

// ErrFileExists / ErrFileNotFound mirror the file-level status codes.
var (
	ErrFileExists   = errors.New("store: database file already exists")
	ErrFileNotFound = errors.New("store: database file not found")
)

// Adapter is the dispatcher's only way to reach the filesystem.
type Adapter struct {
	base  string
	locks *lockd.Registry
}

// NewAdapter returns an Adapter rooted at base, using locks for all
// per-file coordination.
func NewAdapter(base string, locks *lockd.Registry) *Adapter {
	return &Adapter{base: base, locks: locks}
}

// ResolvePath maps a client-supplied database name to an absolute path
// guaranteed to lie under the adapter's base directory.
func (a *Adapter) ResolvePath(db string) (string, error) {
	if db == "" {
		return "", fmt.Errorf("%w: empty database name", ErrInvalidPath)
	}
	joined := filepath.Join(a.base, db)
	rel, err := filepath.Rel(a.base, joined)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, db)
	}
	return joined, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CreateFile creates db, truncating it first if overwrite is set.
func (a *Adapter) CreateFile(db string, overwrite bool) error {
	path, err := a.ResolvePath(db)
	if err != nil {
		return err
	}
	h, err := a.locks.StartWrite(path)
	if err != nil {
		return err
	}
	defer h.Release()

	if !overwrite && fileExists(path) {
		return ErrFileExists
	}
	c, err := container.Create(path, overwrite)
	if err != nil {
		if os.IsExist(err) {
			return ErrFileExists
		}
		return err
	}
	return c.Close()
}

// RenameFile renames db to newName, both resolved under base.
func (a *Adapter) RenameFile(db, newName string) error {
	path, err := a.ResolvePath(db)
	if err != nil {
		return err
	}
	newPath, err := a.ResolvePath(newName)
	if err != nil {
		return err
	}

	h, err := a.locks.StartWrite(path)
	if err != nil {
		return err
	}
	defer h.Release()

	if !fileExists(path) {
		return ErrFileNotFound
	}
	if fileExists(newPath) {
		return ErrFileExists
	}
	return os.Rename(path, newPath)
}

// DeleteFile removes db.
func (a *Adapter) DeleteFile(db string) error {
	path, err := a.ResolvePath(db)
	if err != nil {
		return err
	}
	h, err := a.locks.StartWrite(path)
	if err != nil {
		return err
	}
	defer h.Release()

	if !fileExists(path) {
		return ErrFileNotFound
	}
	return os.Remove(path)
}

// Exists reports whether db exists, under a read lock.
func (a *Adapter) Exists(db string) (bool, error) {
	path, err := a.ResolvePath(db)
	if err != nil {
		return false, err
	}
	h, err := a.locks.StartRead(path)
	if err != nil {
		return false, err
	}
	defer h.Release()
	return fileExists(path), nil
}

// Filesize returns the byte size of db.
func (a *Adapter) Filesize(db string) (int64, error) {
	path, err := a.ResolvePath(db)
	if err != nil {
		return 0, err
	}
	h, err := a.locks.StartRead(path)
	if err != nil {
		return 0, err
	}
	defer h.Release()

	if !fileExists(path) {
		return 0, ErrFileNotFound
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ListDBs returns every database file under base, relative to it. This
// walks the directory tree rather than any single file's lock, since it
// is not addressed by a resource name of its own.
func (a *Adapter) ListDBs() ([]string, error) {
	var names []string
	err := filepath.Walk(a.base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(a.base, path)
		if err != nil {
			return err
		}
		names = append(names, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// withReadContainer opens db under a read lock, runs fn, and always
// closes the container before releasing the lock.
func (a *Adapter) withReadContainer(db string, fn func(*container.Container) error) error {
	path, err := a.ResolvePath(db)
	if err != nil {
		return err
	}
	h, err := a.locks.StartRead(path)
	if err != nil {
		return err
	}
	defer h.Release()

	if !fileExists(path) {
		return ErrFileNotFound
	}
	c, err := container.Open(path)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.ReadLockAdvisory(); err != nil {
		return err
	}
	defer c.UnlockAdvisory()
	return fn(c)
}

// withWriteContainer opens db under a write lock. Beyond internal/lockd's
// in-process coordination, it also takes an exclusive flock on the file
// descriptor: a second arraydbd process pointed at the same base directory
// (operator error, not a supported configuration) still cannot interleave
// writes to the same file.
func (a *Adapter) withWriteContainer(db string, fn func(*container.Container) error) error {
	path, err := a.ResolvePath(db)
	if err != nil {
		return err
	}
	h, err := a.locks.StartWrite(path)
	if err != nil {
		return err
	}
	defer h.Release()

	if !fileExists(path) {
		return ErrFileNotFound
	}
	c, err := container.Open(path)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.WriteLockAdvisory(); err != nil {
		return err
	}
	defer c.UnlockAdvisory()
	return fn(c)
}

func (a *Adapter) CreateGroup(db, path string) error {
	return a.withWriteContainer(db, func(c *container.Container) error {
		return c.CreateGroup(path)
	})
}

func (a *Adapter) RequireGroup(db, path string) error {
	return a.withWriteContainer(db, func(c *container.Container) error {
		return c.RequireGroup(path)
	})
}

func (a *Adapter) CreateDataset(db, path string, dtype string, shape []int64, data []byte) (wire.Node, error) {
	var desc wire.Node
	err := a.withWriteContainer(db, func(c *container.Container) error {
		if err := c.CreateDataset(path, dtype, shape, data); err != nil {
			return err
		}
		d, err := c.NodeDescriptor(path)
		desc = d
		return err
	})
	return desc, err
}

func (a *Adapter) RequireDataset(db, path string, dtype string, shape []int64, data []byte) (wire.Node, error) {
	var desc wire.Node
	err := a.withWriteContainer(db, func(c *container.Container) error {
		if _, err := c.RequireDataset(path, dtype, shape, data); err != nil {
			return err
		}
		d, err := c.NodeDescriptor(path)
		desc = d
		return err
	})
	return desc, err
}

func (a *Adapter) GetNode(db, path string) (wire.Node, error) {
	var desc wire.Node
	err := a.withReadContainer(db, func(c *container.Container) error {
		d, err := c.NodeDescriptor(path)
		desc = d
		return err
	})
	return desc, err
}

func (a *Adapter) GetKeys(db, path string) ([]string, error) {
	var keys []string
	err := a.withReadContainer(db, func(c *container.Container) error {
		k, err := c.Keys(path)
		keys = k
		return err
	})
	return keys, err
}

func (a *Adapter) GetTree(db, path string) (container.TreeEntry, error) {
	var tree container.TreeEntry
	err := a.withReadContainer(db, func(c *container.Container) error {
		t, err := c.Tree(path)
		tree = t
		return err
	})
	return tree, err
}

func (a *Adapter) Contains(db, path string) (bool, error) {
	var ok bool
	err := a.withReadContainer(db, func(c *container.Container) error {
		ok = c.Contains(path)
		return nil
	})
	return ok, err
}

func (a *Adapter) Delete(db, path string) error {
	return a.withWriteContainer(db, func(c *container.Container) error {
		return c.Delete(path)
	})
}

func (a *Adapter) Slice(db, path string, key []wire.Value) (wire.Array, error) {
	var arr wire.Array
	err := a.withReadContainer(db, func(c *container.Container) error {
		r, err := c.Slice(path, key)
		arr = r
		return err
	})
	return arr, err
}

func (a *Adapter) Broadcast(db, path string, key []wire.Value, data wire.Value) error {
	return a.withWriteContainer(db, func(c *container.Container) error {
		return c.Broadcast(path, key, data)
	})
}

func (a *Adapter) AttrsGet(db, path, key string) (wire.Value, error) {
	var v wire.Value
	err := a.withReadContainer(db, func(c *container.Container) error {
		r, err := c.AttrsGet(path, key)
		v = r
		return err
	})
	return v, err
}

func (a *Adapter) AttrsSet(db, path, key string, v wire.Value) error {
	return a.withWriteContainer(db, func(c *container.Container) error {
		return c.AttrsSet(path, key, v)
	})
}

func (a *Adapter) AttrsContains(db, path, key string) (bool, error) {
	var ok bool
	err := a.withReadContainer(db, func(c *container.Container) error {
		r, err := c.AttrsContains(path, key)
		ok = r
		return err
	})
	return ok, err
}

func (a *Adapter) AttrsKeys(db, path string) ([]string, error) {
	var keys []string
	err := a.withReadContainer(db, func(c *container.Container) error {
		k, err := c.AttrsKeys(path)
		keys = k
		return err
	})
	return keys, err
}

func (a *Adapter) AttrsDel(db, path, key string) error {
	return a.withWriteContainer(db, func(c *container.Container) error {
		return c.AttrsDel(path, key)
	})
}
