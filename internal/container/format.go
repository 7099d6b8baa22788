package container

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/sandia-minimega/arraydb/pkg/wire"
)

// node is the on-disk representation of one tree node. Both groups and
// datasets share this struct so gob can serialize one root tree without a
// registered interface per node kind.
type node struct {
	IsDataset bool
	Children  map[string]*node // nil for datasets

	Dtype        string
	Shape        []int64
	FortranOrder bool
	Data         []byte

	Attrs map[string]wire.Value
}

func newGroupNode() *node {
	return &node{Children: make(map[string]*node), Attrs: make(map[string]wire.Value)}
}

func newDatasetNode(dtype string, shape []int64, data []byte) *node {
	return &node{
		IsDataset: true,
		Dtype:     dtype,
		Shape:     append([]int64(nil), shape...),
		Data:      data,
		Attrs:     make(map[string]wire.Value),
	}
}

// fileImage is the top-level gob record persisted for one database file.
type fileImage struct {
	Root *node
}

// loadImage reads and decodes the on-disk image. A zero-length file
// decodes to an empty root group.
func loadImage(f *os.File) (*node, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return newGroupNode(), nil
	}

	buf := make([]byte, info.Size())
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("container: read image: %w", err)
	}

	var img fileImage
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&img); err != nil {
		return nil, fmt.Errorf("container: decode image: %w", err)
	}
	if img.Root == nil {
		img.Root = newGroupNode()
	}
	return img.Root, nil
}

// saveImage gob-encodes root and rewrites the file in place under an
// exclusive flock, the same crash-safe pattern the teacher uses around
// its reservation file: lock, truncate, write, unlock.
func saveImage(f *os.File, root *node) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(fileImage{Root: root}); err != nil {
		return fmt.Errorf("container: encode image: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("container: flock: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("container: truncate: %w", err)
	}
	if _, err := f.WriteAt(buf.Bytes(), 0); err != nil {
		return fmt.Errorf("container: write: %w", err)
	}
	return f.Sync()
}
