package hnsw

import "errors"

// Sentinel error kinds surfaced by index operations. The server layer maps
// these onto its reply tags; callers should match with errors.Is since the
// returned errors usually wrap them with context.
var (
	// ErrNotFound reports a missing index or node name.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate reports a node (or index) name that already exists.
	ErrDuplicate = errors.New("already exists")
	// ErrDimensionMismatch reports a vector whose length disagrees with the
	// index dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrBadArgument reports an invalid configuration or query parameter.
	ErrBadArgument = errors.New("bad argument")
)
