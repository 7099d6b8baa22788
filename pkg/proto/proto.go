// Package proto names the wire-level vocabulary shared by the dispatcher,
// its tests and clients: command names, argument keys and the status code
// taxonomy. Keeping these as constants in one place means the dispatcher
// and the tests that use them never hand-type a command string twice.
package proto

// ProtocolVersion is the only version this server speaks. A client frame
// carrying any other value is a hard protocol error.
const ProtocolVersion uint32 = 1

// Status is a response status code. Numeric values are part of the wire
// contract and must never be renumbered.
type Status int

const (
	OK      Status = 100
	CREATED Status = 101
	UPDATED Status = 102

	UnknownCommand   Status = 200
	MissingArgument  Status = 201
	InvalidArgument  Status = 202
	MissingData      Status = 203
	IncompatibleData Status = 204

	FileExists   Status = 300
	FileNotFound Status = 301

	GroupExists   Status = 400
	DatasetExists Status = 401
	NodeNotFound  Status = 402
	ValueError    Status = 403
	TypeError     Status = 404
	KeyError      Status = 405

	InternalServerError Status = 500
	NotImplemented      Status = 501
)

// String renders the status the way it appears in logs; not part of the
// wire format.
func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case CREATED:
		return "CREATED"
	case UPDATED:
		return "UPDATED"
	case UnknownCommand:
		return "UNKNOWN_COMMAND"
	case MissingArgument:
		return "MISSING_ARGUMENT"
	case InvalidArgument:
		return "INVALID_ARGUMENT"
	case MissingData:
		return "MISSING_DATA"
	case IncompatibleData:
		return "INCOMPATIBLE_DATA"
	case FileExists:
		return "FILE_EXISTS"
	case FileNotFound:
		return "FILE_NOT_FOUND"
	case GroupExists:
		return "GROUP_EXISTS"
	case DatasetExists:
		return "DATASET_EXISTS"
	case NodeNotFound:
		return "NODE_NOT_FOUND"
	case ValueError:
		return "VALUE_ERROR"
	case TypeError:
		return "TYPE_ERROR"
	case KeyError:
		return "KEY_ERROR"
	case InternalServerError:
		return "INTERNAL_SERVER_ERROR"
	case NotImplemented:
		return "NOT_IMPLEMENTED"
	default:
		return "UNKNOWN_STATUS"
	}
}

// Command names, as they appear in a Request.Cmd.
const (
	CmdCreateDB         = "create_db"
	CmdRenameDB         = "rename_db"
	CmdDeleteDB         = "delete_db"
	CmdUseDB            = "use_db"
	CmdListDBs          = "list_dbs"
	CmdGetFilesize      = "get_filesize"
	CmdCreateGroup      = "create_group"
	CmdRequireGroup     = "require_group"
	CmdCreateDataset    = "create_dataset"
	CmdRequireDataset   = "require_dataset"
	CmdGetNode          = "get_node"
	CmdGetKeys          = "get_keys"
	CmdGetTree          = "get_tree"
	CmdContains         = "contains"
	CmdSliceDataset     = "slice_dataset"
	CmdBroadcastDataset = "broadcast_dataset"
	CmdAttrsGet         = "attrs_get"
	CmdAttrsSet         = "attrs_set"
	CmdAttrsContains    = "attrs_contains"
	CmdAttrsKeys        = "attrs_keys"
	CmdAttrsDel         = "attrs_del"
)

// FileLevelCommands are dispatched without requiring an existing node path.
var FileLevelCommands = map[string]bool{
	CmdCreateDB:    true,
	CmdRenameDB:    true,
	CmdDeleteDB:    true,
	CmdUseDB:       true,
	CmdListDBs:     true,
	CmdGetFilesize: true,
}

// NodeLevelCommands require the database file to exist and carry a
// non-empty path argument.
var NodeLevelCommands = map[string]bool{
	CmdCreateGroup:      true,
	CmdRequireGroup:     true,
	CmdCreateDataset:    true,
	CmdRequireDataset:   true,
	CmdGetNode:          true,
	CmdGetKeys:          true,
	CmdGetTree:          true,
	CmdContains:         true,
	CmdSliceDataset:     true,
	CmdBroadcastDataset: true,
	CmdAttrsGet:         true,
	CmdAttrsSet:         true,
	CmdAttrsContains:    true,
	CmdAttrsKeys:        true,
	CmdAttrsDel:         true,
}

// Argument keys carried in Request.Args.
const (
	ArgDB         = "db"
	ArgDBNewName  = "db_new_name"
	ArgOverwrite  = "overwrite"
	ArgPath       = "path"
	ArgKey        = "key"
	ArgShape      = "shape"
	ArgDtype      = "dtype"
)

// Response data map keys used by commands that return a small struct
// rather than a bare value or node descriptor.
const (
	RespContains  = "contains"
	RespKeys      = "keys"
	RespNodeKeys  = "nodekeys"
	RespNodeTree  = "nodetree"
	RespDBs       = "dbs"
)

// Node kinds, as carried by the node extension.
const (
	NodeGroup   = "group"
	NodeDataset = "dataset"
)

// Lock strategy selectors for the --locking flag.
const (
	LockStrategyWriterPreference = "w"
	LockStrategyNoStarve         = "n"
)
