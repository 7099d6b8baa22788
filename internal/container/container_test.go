package container

import (
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sandia-minimega/arraydb/pkg/wire"
)

func mustCreate(t *testing.T, dir string) *Container {
	t.Helper()
	c, err := Create(filepath.Join(dir, "a.db"), false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return c
}

func u8bytes(vs ...byte) []byte { return vs }

func TestGroupAndDatasetLifecycle(t *testing.T) {
	dir := t.TempDir()
	c := mustCreate(t, dir)
	defer c.Close()

	if err := c.CreateGroup("/g"); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if err := c.CreateGroup("/g"); !errors.Is(err, ErrGroupExists) {
		t.Fatalf("got %v, want ErrGroupExists", err)
	}

	data := []byte{1, 2, 3, 4, 5, 6}
	if err := c.CreateDataset("/g/d", "uint8", []int64{2, 3}, data); err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	if err := c.CreateDataset("/g/d", "uint8", []int64{2, 3}, data); !errors.Is(err, ErrDatasetExists) {
		t.Fatalf("got %v, want ErrDatasetExists", err)
	}

	if !c.Contains("/g/d") {
		t.Fatal("expected /g/d to exist")
	}

	desc, err := c.NodeDescriptor("/g/d")
	if err != nil {
		t.Fatal(err)
	}
	if desc.Kind != "dataset" || desc.Dtype != "uint8" {
		t.Fatalf("got %+v", desc)
	}

	keys, err := c.Keys("/g")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "d" {
		t.Fatalf("got %v", keys)
	}
}

func TestRequireDatasetIdempotent(t *testing.T) {
	dir := t.TempDir()
	c := mustCreate(t, dir)
	defer c.Close()

	data := u8bytes(1, 2, 3, 4)
	created, err := c.RequireDataset("/d", "uint8", []int64{4}, data)
	if err != nil || !created {
		t.Fatalf("created=%v err=%v", created, err)
	}

	created, err = c.RequireDataset("/d", "uint8", []int64{4}, data)
	if err != nil || created {
		t.Fatalf("second call: created=%v err=%v", created, err)
	}

	_, err = c.RequireDataset("/d", "float64", []int64{4}, data)
	if !errors.Is(err, ErrIncompatible) {
		t.Fatalf("got %v, want ErrIncompatible", err)
	}
}

func TestCreateDatasetRejectsLengthMismatch(t *testing.T) {
	dir := t.TempDir()
	c := mustCreate(t, dir)
	defer c.Close()

	// shape [2,3] of uint8 wants 6 bytes; give it 5.
	short := u8bytes(1, 2, 3, 4, 5)
	if err := c.CreateDataset("/d", "uint8", []int64{2, 3}, short); !errors.Is(err, ErrIncompatible) {
		t.Fatalf("got %v, want ErrIncompatible", err)
	}
	if c.Contains("/d") {
		t.Fatal("dataset should not have been created")
	}

	if _, err := c.RequireDataset("/d", "uint8", []int64{2, 3}, short); !errors.Is(err, ErrIncompatible) {
		t.Fatalf("RequireDataset: got %v, want ErrIncompatible", err)
	}
	if c.Contains("/d") {
		t.Fatal("dataset should not have been created by RequireDataset either")
	}
}

func TestSliceAndBroadcast(t *testing.T) {
	dir := t.TempDir()
	c := mustCreate(t, dir)
	defer c.Close()

	// shape [2,3]: [[1,2,3],[4,5,6]]
	data := u8bytes(1, 2, 3, 4, 5, 6)
	if err := c.CreateDataset("/d", "uint8", []int64{2, 3}, data); err != nil {
		t.Fatal(err)
	}

	zero := int64(0)
	one := int64(1)
	key := []wire.Value{wire.SliceVal(wire.SliceSel{Start: &zero, Stop: &one})}
	arr, err := c.Slice("/d", key)
	if err != nil {
		t.Fatal(err)
	}
	if len(arr.Shape) != 2 || arr.Shape[0] != 1 || arr.Shape[1] != 3 {
		t.Fatalf("got shape %v", arr.Shape)
	}
	if string(arr.Data) != string([]byte{1, 2, 3}) {
		t.Fatalf("got data %v", arr.Data)
	}

	// broadcast a scalar across row 0
	if err := c.Broadcast("/d", key, wire.Int(9)); err != nil {
		t.Fatal(err)
	}
	arr2, err := c.Slice("/d", key)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range arr2.Data {
		if b != 9 {
			t.Fatalf("got %v, want all 9", arr2.Data)
		}
	}

	// type-mismatched broadcast
	err = c.Broadcast("/d", key, wire.ArrayVal(wire.Array{Dtype: "float64", Shape: []int64{1, 3}, Data: make([]byte, 24)}))
	if !errors.Is(err, ErrType) {
		t.Fatalf("got %v, want ErrType", err)
	}
}

func TestIntegerIndexSqueezes(t *testing.T) {
	dir := t.TempDir()
	c := mustCreate(t, dir)
	defer c.Close()

	data := u8bytes(1, 2, 3, 4, 5, 6)
	if err := c.CreateDataset("/d", "uint8", []int64{2, 3}, data); err != nil {
		t.Fatal(err)
	}

	arr, err := c.Slice("/d", []wire.Value{wire.Int(1)})
	if err != nil {
		t.Fatal(err)
	}
	if len(arr.Shape) != 1 || arr.Shape[0] != 3 {
		t.Fatalf("got shape %v", arr.Shape)
	}
	if string(arr.Data) != string([]byte{4, 5, 6}) {
		t.Fatalf("got %v", arr.Data)
	}
}

func TestEncodeScalarFloat64(t *testing.T) {
	b, err := encodeScalar("float64", wire.Float(1.5))
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 8 {
		t.Fatalf("got %d bytes", len(b))
	}
	got := binary.LittleEndian.Uint64(b)
	if got == 0 {
		t.Fatal("expected non-zero encoding")
	}
}

func TestAttrLifecycle(t *testing.T) {
	dir := t.TempDir()
	c := mustCreate(t, dir)
	defer c.Close()

	if err := c.AttrsSet("/", "k", wire.String("v")); err != nil {
		t.Fatal(err)
	}
	v, err := c.AttrsGet("/", "k")
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := v.AsString(); s != "v" {
		t.Fatalf("got %v", v)
	}
	ok, err := c.AttrsContains("/", "k")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if err := c.AttrsDel("/", "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.AttrsGet("/", "k"); !errors.Is(err, ErrKey) {
		t.Fatalf("got %v, want ErrKey", err)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "b.db")
	c, err := Create(path, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.CreateGroup("/g"); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	c2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	if !c2.Contains("/g") {
		t.Fatal("expected /g to survive reopen")
	}
}
