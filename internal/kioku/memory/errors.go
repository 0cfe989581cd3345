package memory

import "errors"

var (
	// ErrUnsupportedField is returned when a core memory operation names a
	// field outside the fixed set.
	ErrUnsupportedField = errors.New("unsupported core memory field")

	// ErrInvalidArgument is returned for empty or malformed operation input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCoreMemoryFull is returned when a mutation would grow a core memory
	// field past its size limit.
	ErrCoreMemoryFull = errors.New("core memory field is full")
)
