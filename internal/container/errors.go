package container

import "errors"

// Sentinel errors the storage adapter and dispatcher map to status codes
// via errors.Is. Wrapped with fmt.Errorf("...: %w") for context; never
// compared by string.
var (
	ErrGroupExists   = errors.New("container: group already exists")
	ErrDatasetExists = errors.New("container: dataset already exists")
	ErrNodeNotFound  = errors.New("container: node not found")
	ErrValue         = errors.New("container: value error")
	ErrType          = errors.New("container: type error")
	ErrIncompatible  = errors.New("container: incompatible data")
	ErrKey           = errors.New("container: key error")
	ErrNotAGroup     = errors.New("container: node is not a group")
	ErrNotADataset   = errors.New("container: node is not a dataset")
)
