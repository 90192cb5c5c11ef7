package s7

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by client operations after Close.
var ErrNotConnected = errors.New("s7: not connected")

// ErrInvalidAddress matches every *AddressError via errors.Is.
var ErrInvalidAddress = errors.New("s7: invalid address")

// AddressError reports an item address that cannot be parsed.
type AddressError struct {
	Address string
	Reason  string
}

// Error implements the error interface.
func (e *AddressError) Error() string {
	return fmt.Sprintf("invalid S7 item address %q: %s", e.Address, e.Reason)
}

func (e *AddressError) Is(target error) bool { return target == ErrInvalidAddress }

// ReadError wraps a failed block read with the span that was requested.
type ReadError struct {
	DB     int
	Offset int
	Size   int
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read DB%d [%d:%d]: %v", e.DB, e.Offset, e.Offset+e.Size, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
