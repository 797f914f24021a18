package pcloudfs

// Error is a type that allows for error constants below
type Error string

// Error returns a string representation of the error
func (e Error) Error() string { return string(e) }

const (
	// ErrNotSupported - the operation is not implemented by this adapter
	ErrNotSupported = Error("operation not supported")

	// ErrBadPath - the path is not expressible against the provider
	ErrBadPath = Error("path is invalid for this provider")
)
