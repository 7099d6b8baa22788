package connserver

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sandia-minimega/arraydb/internal/dispatch"
	"github.com/sandia-minimega/arraydb/internal/lockd"
	"github.com/sandia-minimega/arraydb/internal/store"
	"github.com/sandia-minimega/arraydb/pkg/alog"
	"github.com/sandia-minimega/arraydb/pkg/proto"
	"github.com/sandia-minimega/arraydb/pkg/wire"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	locks, err := lockd.NewRegistry(lockd.WriterPreference, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	adapter := store.NewAdapter(dir, locks)
	log := alog.New(os.Stderr, alog.ERROR, 64)
	s := New(adapter, dispatch.Dispatch, log, Config{Workers: 4, MaxConns: 0})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	if err := s.ListenTCP(addr); err != nil {
		t.Fatal(err)
	}
	return s, addr
}

func roundTrip(t *testing.T, addr string, req wire.Request) wire.Response {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := wire.WriteFrame(conn, wire.EncodeRequest(req)); err != nil {
		t.Fatal(err)
	}
	body, err := wire.ReadFrame(conn)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := wire.DecodeResponse(body)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestCreateAndUseDB(t *testing.T) {
	s, addr := newTestServer(t)
	defer s.Shutdown(time.Second)

	resp := roundTrip(t, addr, wire.Request{
		Cmd:  proto.CmdCreateDB,
		Args: map[string]wire.Value{proto.ArgDB: wire.String(filepath.Join("sub", "a.db"))},
		Data: wire.Nil(),
	})
	if resp.Status != int64(proto.CREATED) {
		t.Fatalf("got status %d", resp.Status)
	}

	resp = roundTrip(t, addr, wire.Request{
		Cmd:  proto.CmdUseDB,
		Args: map[string]wire.Value{proto.ArgDB: wire.String(filepath.Join("sub", "a.db"))},
		Data: wire.Nil(),
	})
	if resp.Status != int64(proto.OK) {
		t.Fatalf("got status %d", resp.Status)
	}
}

func TestPathTraversalRejected(t *testing.T) {
	s, addr := newTestServer(t)
	defer s.Shutdown(time.Second)

	resp := roundTrip(t, addr, wire.Request{
		Cmd:  proto.CmdCreateDB,
		Args: map[string]wire.Value{proto.ArgDB: wire.String("../escape.db")},
		Data: wire.Nil(),
	})
	if resp.Status != int64(proto.InvalidArgument) {
		t.Fatalf("got status %d, want %d", resp.Status, proto.InvalidArgument)
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	s, addr := newTestServer(t)
	defer s.Shutdown(2 * time.Second)

	db := "data.db"
	resp := roundTrip(t, addr, wire.Request{
		Cmd:  proto.CmdCreateDB,
		Args: map[string]wire.Value{proto.ArgDB: wire.String(db)},
	})
	if resp.Status != int64(proto.CREATED) {
		t.Fatalf("create_db: got %d", resp.Status)
	}

	shape := wire.Tuple(wire.Int(4), wire.Int(4))
	data := make([]byte, 16)
	resp = roundTrip(t, addr, wire.Request{
		Cmd: proto.CmdCreateDataset,
		Args: map[string]wire.Value{
			proto.ArgDB:    wire.String(db),
			proto.ArgPath:  wire.String("/d"),
			proto.ArgDtype: wire.String("uint8"),
			proto.ArgShape: shape,
		},
		Data: wire.ArrayVal(wire.Array{Dtype: "uint8", Shape: []int64{4, 4}, Data: data}),
	})
	if resp.Status != int64(proto.OK) {
		t.Fatalf("create_dataset: got %d", resp.Status)
	}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := roundTrip(t, addr, wire.Request{
				Cmd: proto.CmdSliceDataset,
				Args: map[string]wire.Value{
					proto.ArgDB:   wire.String(db),
					proto.ArgPath: wire.String("/d"),
					proto.ArgKey:  wire.Tuple(),
				},
			})
			if r.Status != int64(proto.OK) {
				t.Errorf("slice_dataset: got %d", r.Status)
			}
		}()
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := roundTrip(t, addr, wire.Request{
				Cmd: proto.CmdBroadcastDataset,
				Args: map[string]wire.Value{
					proto.ArgDB:   wire.String(db),
					proto.ArgPath: wire.String("/d"),
					proto.ArgKey:  wire.Tuple(),
				},
				Data: wire.Int(7),
			})
			if r.Status != int64(proto.OK) {
				t.Errorf("broadcast_dataset: got %d", r.Status)
			}
		}()
	}
	wg.Wait()
}

func TestUnknownCommand(t *testing.T) {
	s, addr := newTestServer(t)
	defer s.Shutdown(time.Second)

	resp := roundTrip(t, addr, wire.Request{Cmd: "not_a_command"})
	if resp.Status != int64(proto.UnknownCommand) {
		t.Fatalf("got %d", resp.Status)
	}
}
