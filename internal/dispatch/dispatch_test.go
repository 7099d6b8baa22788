package dispatch

import (
	"testing"
	"time"

	"github.com/sandia-minimega/arraydb/internal/lockd"
	"github.com/sandia-minimega/arraydb/internal/store"
	"github.com/sandia-minimega/arraydb/pkg/proto"
	"github.com/sandia-minimega/arraydb/pkg/wire"
)

func newTestAdapter(t *testing.T) *store.Adapter {
	t.Helper()
	dir := t.TempDir()
	locks, err := lockd.NewRegistry(lockd.WriterPreference, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return store.NewAdapter(dir, locks)
}

func req(cmd string, args map[string]wire.Value, data wire.Value) wire.Request {
	return wire.Request{Cmd: cmd, Args: args, Data: data}
}

// TestCreateAndUse is end-to-end scenario 1: create, re-create
// (conflict), then use.
func TestCreateAndUse(t *testing.T) {
	a := newTestAdapter(t)

	resp := Dispatch(req(proto.CmdCreateDB, map[string]wire.Value{proto.ArgDB: wire.String("a.h5")}, wire.Nil()), a)
	if resp.Status != int64(proto.CREATED) {
		t.Fatalf("create: got %d, want %d", resp.Status, proto.CREATED)
	}

	resp = Dispatch(req(proto.CmdCreateDB, map[string]wire.Value{proto.ArgDB: wire.String("a.h5")}, wire.Nil()), a)
	if resp.Status != int64(proto.FileExists) {
		t.Fatalf("re-create: got %d, want %d", resp.Status, proto.FileExists)
	}

	resp = Dispatch(req(proto.CmdUseDB, map[string]wire.Value{proto.ArgDB: wire.String("a.h5")}, wire.Nil()), a)
	if resp.Status != int64(proto.OK) {
		t.Fatalf("use: got %d, want %d", resp.Status, proto.OK)
	}
}

// TestDatasetRoundTrip is end-to-end scenario 2.
func TestDatasetRoundTrip(t *testing.T) {
	a := newTestAdapter(t)
	Dispatch(req(proto.CmdCreateDB, map[string]wire.Value{proto.ArgDB: wire.String("a.h5")}, wire.Nil()), a)

	arr := wire.Array{Dtype: "uint8", Shape: []int64{2, 3}, Data: []byte{1, 2, 3, 4, 5, 6}}
	resp := Dispatch(req(proto.CmdCreateDataset, map[string]wire.Value{
		proto.ArgDB:   wire.String("a.h5"),
		proto.ArgPath: wire.String("/d"),
	}, wire.ArrayVal(arr)), a)
	if resp.Status != int64(proto.OK) {
		t.Fatalf("create_dataset: got %d, want %d", resp.Status, proto.OK)
	}
	node, ok := resp.Data.AsNode()
	if !ok || node.Kind != proto.NodeDataset {
		t.Fatalf("create_dataset data: got %+v", resp.Data)
	}

	zero, one := int64(0), int64(1)
	key := wire.Tuple(wire.SliceVal(wire.SliceSel{Start: &zero, Stop: &one}))
	resp = Dispatch(req(proto.CmdSliceDataset, map[string]wire.Value{
		proto.ArgDB:   wire.String("a.h5"),
		proto.ArgPath: wire.String("/d"),
		proto.ArgKey:  key,
	}, wire.Nil()), a)
	if resp.Status != int64(proto.OK) {
		t.Fatalf("slice_dataset: got %d, want %d", resp.Status, proto.OK)
	}
	sliced, ok := resp.Data.AsArray()
	if !ok {
		t.Fatalf("slice_dataset data is not an array: %+v", resp.Data)
	}
	if len(sliced.Shape) != 2 || sliced.Shape[0] != 1 || sliced.Shape[1] != 3 {
		t.Fatalf("got shape %v, want [1 3]", sliced.Shape)
	}
	if string(sliced.Data) != string([]byte{1, 2, 3}) {
		t.Fatalf("got data %v, want [1 2 3]", sliced.Data)
	}
}

// TestCreateDatasetLengthMismatch exercises the byte-length validation in
// internal/container: a declared shape/dtype combination whose data buffer
// is the wrong size must fail as incompatible input, not panic later on a
// slice or broadcast.
func TestCreateDatasetLengthMismatch(t *testing.T) {
	a := newTestAdapter(t)
	Dispatch(req(proto.CmdCreateDB, map[string]wire.Value{proto.ArgDB: wire.String("a.h5")}, wire.Nil()), a)

	short := wire.Array{Dtype: "uint8", Shape: []int64{2, 3}, Data: []byte{1, 2, 3, 4, 5}}
	resp := Dispatch(req(proto.CmdCreateDataset, map[string]wire.Value{
		proto.ArgDB:   wire.String("a.h5"),
		proto.ArgPath: wire.String("/d"),
	}, wire.ArrayVal(short)), a)
	if resp.Status != int64(proto.IncompatibleData) {
		t.Fatalf("got %d, want %d", resp.Status, proto.IncompatibleData)
	}

	contains := Dispatch(req(proto.CmdContains, map[string]wire.Value{
		proto.ArgDB:   wire.String("a.h5"),
		proto.ArgPath: wire.String("/d"),
	}, wire.Nil()), a)
	m, _ := contains.Data.AsMap()
	if b, _ := m[proto.RespContains].AsBool(); b {
		t.Fatal("dataset should not have been created")
	}
}

// TestBroadcastTypeError is end-to-end scenario 3.
func TestBroadcastTypeError(t *testing.T) {
	a := newTestAdapter(t)
	Dispatch(req(proto.CmdCreateDB, map[string]wire.Value{proto.ArgDB: wire.String("a.h5")}, wire.Nil()), a)
	arr := wire.Array{Dtype: "uint8", Shape: []int64{2, 3}, Data: []byte{1, 2, 3, 4, 5, 6}}
	Dispatch(req(proto.CmdCreateDataset, map[string]wire.Value{
		proto.ArgDB:   wire.String("a.h5"),
		proto.ArgPath: wire.String("/d"),
	}, wire.ArrayVal(arr)), a)

	zero, one := int64(0), int64(1)
	key := wire.Tuple(wire.SliceVal(wire.SliceSel{Start: &zero, Stop: &one}))
	bad := wire.ArrayVal(wire.Array{Dtype: "float64", Shape: []int64{4}, Data: make([]byte, 32)})
	resp := Dispatch(req(proto.CmdBroadcastDataset, map[string]wire.Value{
		proto.ArgDB:   wire.String("a.h5"),
		proto.ArgPath: wire.String("/d"),
		proto.ArgKey:  key,
	}, bad), a)
	if resp.Status != int64(proto.TypeError) {
		t.Fatalf("got %d, want %d", resp.Status, proto.TypeError)
	}

	// dataset must be unchanged
	sliceResp := Dispatch(req(proto.CmdSliceDataset, map[string]wire.Value{
		proto.ArgDB:   wire.String("a.h5"),
		proto.ArgPath: wire.String("/d"),
		proto.ArgKey:  wire.Tuple(),
	}, wire.Nil()), a)
	sliced, _ := sliceResp.Data.AsArray()
	if string(sliced.Data) != string([]byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("dataset mutated after failed broadcast: %v", sliced.Data)
	}
}

// TestAttrLifecycle is end-to-end scenario 4.
func TestAttrLifecycle(t *testing.T) {
	a := newTestAdapter(t)
	Dispatch(req(proto.CmdCreateDB, map[string]wire.Value{proto.ArgDB: wire.String("a.h5")}, wire.Nil()), a)
	arr := wire.Array{Dtype: "uint8", Shape: []int64{2, 3}, Data: []byte{1, 2, 3, 4, 5, 6}}
	Dispatch(req(proto.CmdCreateDataset, map[string]wire.Value{
		proto.ArgDB:   wire.String("a.h5"),
		proto.ArgPath: wire.String("/d"),
	}, wire.ArrayVal(arr)), a)

	resp := Dispatch(req(proto.CmdAttrsSet, map[string]wire.Value{
		proto.ArgDB:   wire.String("a.h5"),
		proto.ArgPath: wire.String("/d"),
		proto.ArgKey:  wire.String("k"),
	}, wire.String("v")), a)
	if resp.Status != int64(proto.OK) {
		t.Fatalf("attrs_set: got %d, want %d", resp.Status, proto.OK)
	}

	resp = Dispatch(req(proto.CmdAttrsGet, map[string]wire.Value{
		proto.ArgDB:   wire.String("a.h5"),
		proto.ArgPath: wire.String("/d"),
		proto.ArgKey:  wire.String("k"),
	}, wire.Nil()), a)
	if resp.Status != int64(proto.OK) {
		t.Fatalf("attrs_get: got %d, want %d", resp.Status, proto.OK)
	}
	if s, ok := resp.Data.AsString(); !ok || s != "v" {
		t.Fatalf("attrs_get data: got %+v", resp.Data)
	}

	resp = Dispatch(req(proto.CmdAttrsGet, map[string]wire.Value{
		proto.ArgDB:   wire.String("a.h5"),
		proto.ArgPath: wire.String("/d"),
		proto.ArgKey:  wire.String("missing"),
	}, wire.Nil()), a)
	if resp.Status != int64(proto.KeyError) {
		t.Fatalf("attrs_get missing: got %d, want %d", resp.Status, proto.KeyError)
	}

	resp = Dispatch(req(proto.CmdAttrsContains, map[string]wire.Value{
		proto.ArgDB:   wire.String("a.h5"),
		proto.ArgPath: wire.String("/d"),
		proto.ArgKey:  wire.String("k"),
	}, wire.Nil()), a)
	if resp.Status != int64(proto.OK) {
		t.Fatalf("attrs_contains: got %d, want %d", resp.Status, proto.OK)
	}
	m, ok := resp.Data.AsMap()
	if !ok {
		t.Fatalf("attrs_contains data is not a map: %+v", resp.Data)
	}
	if b, ok := m[proto.RespContains].AsBool(); !ok || !b {
		t.Fatalf("attrs_contains[contains]: got %+v", m[proto.RespContains])
	}
}

// TestPathSafety is end-to-end scenario 5.
func TestPathSafety(t *testing.T) {
	a := newTestAdapter(t)
	resp := Dispatch(req(proto.CmdCreateDB, map[string]wire.Value{proto.ArgDB: wire.String("../escape.h5")}, wire.Nil()), a)
	if resp.Status != int64(proto.InvalidArgument) {
		t.Fatalf("got %d, want %d", resp.Status, proto.InvalidArgument)
	}
}

func TestUnknownCommandStatus(t *testing.T) {
	a := newTestAdapter(t)
	resp := Dispatch(req("bogus", nil, wire.Nil()), a)
	if resp.Status != int64(proto.UnknownCommand) {
		t.Fatalf("got %d, want %d", resp.Status, proto.UnknownCommand)
	}
}

func TestNodeLevelMissingDB(t *testing.T) {
	a := newTestAdapter(t)
	resp := Dispatch(req(proto.CmdGetNode, map[string]wire.Value{
		proto.ArgDB:   wire.String("missing.h5"),
		proto.ArgPath: wire.String("/d"),
	}, wire.Nil()), a)
	if resp.Status != int64(proto.FileNotFound) {
		t.Fatalf("got %d, want %d", resp.Status, proto.FileNotFound)
	}
}

func TestRequireDatasetIncompatible(t *testing.T) {
	a := newTestAdapter(t)
	Dispatch(req(proto.CmdCreateDB, map[string]wire.Value{proto.ArgDB: wire.String("a.h5")}, wire.Nil()), a)
	arr := wire.Array{Dtype: "uint8", Shape: []int64{2, 3}, Data: []byte{1, 2, 3, 4, 5, 6}}
	Dispatch(req(proto.CmdCreateDataset, map[string]wire.Value{
		proto.ArgDB:   wire.String("a.h5"),
		proto.ArgPath: wire.String("/d"),
	}, wire.ArrayVal(arr)), a)

	mismatched := wire.Array{Dtype: "float64", Shape: []int64{2, 3}, Data: make([]byte, 48)}
	resp := Dispatch(req(proto.CmdRequireDataset, map[string]wire.Value{
		proto.ArgDB:   wire.String("a.h5"),
		proto.ArgPath: wire.String("/d"),
	}, wire.ArrayVal(mismatched)), a)
	if resp.Status != int64(proto.IncompatibleData) {
		t.Fatalf("got %d, want %d", resp.Status, proto.IncompatibleData)
	}
}
