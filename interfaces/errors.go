package interfaces

import "errors"

var (
	// ErrModuleNotFound is returned when a module name is not registered.
	ErrModuleNotFound = errors.New("module not found")

	// ErrDuplicateModule is returned when registering a module whose name is
	// already taken.
	ErrDuplicateModule = errors.New("module already registered")

	// ErrInvalidStoreURI is returned for malformed or unsupported settings
	// store location URIs.
	ErrInvalidStoreURI = errors.New("invalid settings store URI")
)
