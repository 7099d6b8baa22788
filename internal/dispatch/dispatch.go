// Package dispatch implements the request dispatcher (C5): a pure
// function from a decoded request to a status-coded response. It owns
// all argument validation, command classification, and the mapping from
// storage-adapter errors to wire status codes.
package dispatch

import (
	"errors"

	"github.com/sandia-minimega/arraydb/internal/container"
	"github.com/sandia-minimega/arraydb/internal/lockd"
	"github.com/sandia-minimega/arraydb/internal/store"
	"github.com/sandia-minimega/arraydb/pkg/proto"
	"github.com/sandia-minimega/arraydb/pkg/wire"
)

func resp(status proto.Status, data wire.Value) wire.Response {
	return wire.Response{Status: int64(status), Data: data}
}

func errStatus(status proto.Status) wire.Response {
	return resp(status, wire.Nil())
}

// argString pulls an argument out of a request, reporting whether it is
// present and a string; argBool falls back to def when the argument is
// missing or not a bool.
func argString(args map[string]wire.Value, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	return v.AsString()
}

func argBool(args map[string]wire.Value, key string, def bool) bool {
	v, ok := args[key]
	if !ok {
		return def
	}
	b, ok := v.AsBool()
	if !ok {
		return def
	}
	return b
}

// Dispatch validates req, routes it to the storage adapter, and builds a
// status-coded response. It never panics on malformed input; every
// validation failure becomes a response status, not an error return.
func Dispatch(req wire.Request, adapter *store.Adapter) wire.Response {
	if proto.FileLevelCommands[req.Cmd] {
		return dispatchFileLevel(req, adapter)
	}
	if proto.NodeLevelCommands[req.Cmd] {
		return dispatchNodeLevel(req, adapter)
	}
	return errStatus(proto.UnknownCommand)
}

func dispatchFileLevel(req wire.Request, adapter *store.Adapter) wire.Response {
	db, ok := argString(req.Args, proto.ArgDB)
	if !ok {
		return errStatus(proto.MissingArgument)
	}

	switch req.Cmd {
	case proto.CmdCreateDB:
		overwrite := argBool(req.Args, proto.ArgOverwrite, false)
		err := adapter.CreateFile(db, overwrite)
		if err == nil {
			return resp(proto.CREATED, wire.Nil())
		}
		return errToResponse(err)

	case proto.CmdRenameDB:
		newName, ok := argString(req.Args, proto.ArgDBNewName)
		if !ok {
			return errStatus(proto.MissingArgument)
		}
		if err := adapter.RenameFile(db, newName); err != nil {
			return errToResponse(err)
		}
		desc, err := adapter.GetNode(newName, "/")
		if err != nil {
			// The rename itself succeeded; a descriptor failure here means
			// the renamed file is no longer readable as a container, which
			// is a server-side inconsistency rather than a client error.
			return errStatus(proto.InternalServerError)
		}
		return resp(proto.OK, wire.NodeVal(desc))

	case proto.CmdDeleteDB:
		if err := adapter.DeleteFile(db); err != nil {
			return errToResponse(err)
		}
		return resp(proto.OK, wire.Nil())

	case proto.CmdUseDB:
		exists, err := adapter.Exists(db)
		if err != nil {
			return errToResponse(err)
		}
		if !exists {
			return errStatus(proto.FileNotFound)
		}
		return resp(proto.OK, wire.Nil())

	case proto.CmdListDBs:
		names, err := adapter.ListDBs()
		if err != nil {
			return errToResponse(err)
		}
		items := make([]wire.Value, len(names))
		for i, n := range names {
			items[i] = wire.String(n)
		}
		return resp(proto.OK, wire.Map(map[string]wire.Value{proto.RespDBs: wire.Tuple(items...)}))

	case proto.CmdGetFilesize:
		size, err := adapter.Filesize(db)
		if err != nil {
			return errToResponse(err)
		}
		return resp(proto.OK, wire.Int(size))
	}

	return errStatus(proto.UnknownCommand)
}

func dispatchNodeLevel(req wire.Request, adapter *store.Adapter) wire.Response {
	db, ok := argString(req.Args, proto.ArgDB)
	if !ok {
		return errStatus(proto.MissingArgument)
	}
	path, ok := argString(req.Args, proto.ArgPath)
	if !ok {
		return errStatus(proto.MissingArgument)
	}
	if path == "" {
		return errStatus(proto.InvalidArgument)
	}

	exists, err := adapter.Exists(db)
	if err != nil {
		return errToResponse(err)
	}
	if !exists {
		return errStatus(proto.FileNotFound)
	}

	switch req.Cmd {
	case proto.CmdCreateGroup:
		if err := adapter.CreateGroup(db, path); err != nil {
			return errToResponse(err)
		}
		return resp(proto.CREATED, wire.Nil())

	case proto.CmdRequireGroup:
		if err := adapter.RequireGroup(db, path); err != nil {
			return errToResponse(err)
		}
		return resp(proto.OK, wire.Nil())

	case proto.CmdCreateDataset:
		dtype, shape, data, ok, errResp := datasetArgs(req)
		if !ok {
			return errResp
		}
		desc, err := adapter.CreateDataset(db, path, dtype, shape, data)
		if err != nil {
			return errToResponse(err)
		}
		return resp(proto.OK, wire.NodeVal(desc))

	case proto.CmdRequireDataset:
		dtype, shape, data, ok, errResp := datasetArgs(req)
		if !ok {
			return errResp
		}
		desc, err := adapter.RequireDataset(db, path, dtype, shape, data)
		if err != nil {
			return errToResponse(err)
		}
		return resp(proto.OK, wire.NodeVal(desc))

	case proto.CmdGetNode:
		desc, err := adapter.GetNode(db, path)
		if err != nil {
			return errToResponse(err)
		}
		return resp(proto.OK, wire.NodeVal(desc))

	case proto.CmdGetKeys:
		keys, err := adapter.GetKeys(db, path)
		if err != nil {
			return errToResponse(err)
		}
		items := make([]wire.Value, len(keys))
		for i, k := range keys {
			items[i] = wire.String(k)
		}
		return resp(proto.OK, wire.Map(map[string]wire.Value{proto.RespNodeKeys: wire.Tuple(items...)}))

	case proto.CmdGetTree:
		tree, err := adapter.GetTree(db, path)
		if err != nil {
			return errToResponse(err)
		}
		return resp(proto.OK, wire.Map(map[string]wire.Value{proto.RespNodeTree: treeToValue(tree)}))

	case proto.CmdContains:
		ok, err := adapter.Contains(db, path)
		if err != nil {
			return errToResponse(err)
		}
		return resp(proto.OK, wire.Map(map[string]wire.Value{proto.RespContains: wire.Bool(ok)}))

	case proto.CmdSliceDataset:
		key, ok, errResp := keyArg(req)
		if !ok {
			return errResp
		}
		arr, err := adapter.Slice(db, path, key)
		if err != nil {
			return errToResponse(err)
		}
		return resp(proto.OK, wire.ArrayVal(arr))

	case proto.CmdBroadcastDataset:
		key, ok, errResp := keyArg(req)
		if !ok {
			return errResp
		}
		if req.Data.IsNil() {
			return errStatus(proto.MissingData)
		}
		if err := adapter.Broadcast(db, path, key, req.Data); err != nil {
			return errToResponse(err)
		}
		return resp(proto.OK, wire.Nil())

	case proto.CmdAttrsGet:
		key, ok := argString(req.Args, proto.ArgKey)
		if !ok {
			return errStatus(proto.MissingArgument)
		}
		v, err := adapter.AttrsGet(db, path, key)
		if err != nil {
			return errToResponse(err)
		}
		return resp(proto.OK, v)

	case proto.CmdAttrsSet:
		key, ok := argString(req.Args, proto.ArgKey)
		if !ok {
			return errStatus(proto.MissingArgument)
		}
		if req.Data.IsNil() {
			return errStatus(proto.MissingData)
		}
		if err := adapter.AttrsSet(db, path, key, req.Data); err != nil {
			return errToResponse(err)
		}
		return resp(proto.OK, wire.Nil())

	case proto.CmdAttrsContains:
		key, ok := argString(req.Args, proto.ArgKey)
		if !ok {
			return errStatus(proto.MissingArgument)
		}
		v, err := adapter.AttrsContains(db, path, key)
		if err != nil {
			return errToResponse(err)
		}
		return resp(proto.OK, wire.Map(map[string]wire.Value{proto.RespContains: wire.Bool(v)}))

	case proto.CmdAttrsKeys:
		keys, err := adapter.AttrsKeys(db, path)
		if err != nil {
			return errToResponse(err)
		}
		items := make([]wire.Value, len(keys))
		for i, k := range keys {
			items[i] = wire.String(k)
		}
		return resp(proto.OK, wire.Map(map[string]wire.Value{proto.RespKeys: wire.Tuple(items...)}))

	case proto.CmdAttrsDel:
		key, ok := argString(req.Args, proto.ArgKey)
		if !ok {
			return errStatus(proto.MissingArgument)
		}
		if err := adapter.AttrsDel(db, path, key); err != nil {
			return errToResponse(err)
		}
		return resp(proto.OK, wire.Nil())
	}

	return errStatus(proto.UnknownCommand)
}

// datasetArgs validates the shared create_dataset/require_dataset
// argument shape: data, or shape+dtype when data is absent. In the second
// form the returned data is nil, which internal/container rejects as
// incompatible unless shape has no elements; no zero-filled dataset is
// created from shape+dtype alone.
func datasetArgs(req wire.Request) (dtype string, shape []int64, data []byte, ok bool, errResp wire.Response) {
	if !req.Data.IsNil() {
		arr, isArray := req.Data.AsArray()
		if !isArray {
			return "", nil, nil, false, errStatus(proto.InvalidArgument)
		}
		return arr.Dtype, arr.Shape, arr.Data, true, wire.Response{}
	}

	dtype, hasDtype := argString(req.Args, proto.ArgDtype)
	shapeVal, hasShape := req.Args[proto.ArgShape]
	if !hasDtype || !hasShape {
		return "", nil, nil, false, errStatus(proto.MissingData)
	}
	tuple, isTuple := shapeVal.AsTuple()
	if !isTuple {
		return "", nil, nil, false, errStatus(proto.InvalidArgument)
	}
	shape = make([]int64, len(tuple))
	for i, v := range tuple {
		n, isInt := v.AsInt()
		if !isInt {
			return "", nil, nil, false, errStatus(proto.InvalidArgument)
		}
		shape[i] = n
	}
	return dtype, shape, nil, true, wire.Response{}
}

func keyArg(req wire.Request) (key []wire.Value, ok bool, errResp wire.Response) {
	v, present := req.Args[proto.ArgKey]
	if !present {
		return nil, false, errStatus(proto.MissingArgument)
	}
	tuple, isTuple := v.AsTuple()
	if !isTuple {
		return nil, false, errStatus(proto.InvalidArgument)
	}
	return tuple, true, wire.Response{}
}

func treeToValue(t container.TreeEntry) wire.Value {
	children := make(map[string]wire.Value, len(t.Children))
	for _, c := range t.Children {
		children[lastSegment(c.Path)] = treeToValue(c)
	}
	return wire.Map(map[string]wire.Value{
		"kind":     wire.String(t.Kind),
		"path":     wire.String(t.Path),
		"children": wire.Map(children),
	})
}

func lastSegment(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// errToResponse maps a storage/container error to the status code
// taxonomy. Anything unrecognized becomes INTERNAL_SERVER_ERROR.
func errToResponse(err error) wire.Response {
	switch {
	case errors.Is(err, store.ErrInvalidPath):
		return errStatus(proto.InvalidArgument)
	case errors.Is(err, store.ErrFileExists):
		return errStatus(proto.FileExists)
	case errors.Is(err, store.ErrFileNotFound):
		return errStatus(proto.FileNotFound)
	case errors.Is(err, container.ErrGroupExists):
		return errStatus(proto.GroupExists)
	case errors.Is(err, container.ErrDatasetExists):
		return errStatus(proto.DatasetExists)
	case errors.Is(err, container.ErrNodeNotFound):
		return errStatus(proto.NodeNotFound)
	case errors.Is(err, container.ErrNotAGroup), errors.Is(err, container.ErrNotADataset):
		return errStatus(proto.InvalidArgument)
	case errors.Is(err, container.ErrValue):
		return errStatus(proto.ValueError)
	case errors.Is(err, container.ErrType):
		return errStatus(proto.TypeError)
	case errors.Is(err, container.ErrIncompatible):
		return errStatus(proto.IncompatibleData)
	case errors.Is(err, container.ErrKey):
		return errStatus(proto.KeyError)
	case errors.Is(err, lockd.ErrTimeout):
		return errStatus(proto.InternalServerError)
	default:
		return errStatus(proto.InternalServerError)
	}
}
