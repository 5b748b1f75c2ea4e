package feed

import (
	"errors"
	"fmt"
)

var (
	ErrPermission  = errors.New("feed is not owned by this process")
	ErrParse       = errors.New("malformed feed document")
	ErrDeserialize = errors.New("malformed item record")
	ErrIdentity    = errors.New("item has no usable guid")
)

// PermissionError is returned by every mutation on a feed opened without
// ownership.
type PermissionError struct {
	Op string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, ErrPermission)
}

func (e *PermissionError) Is(target error) bool { return target == ErrPermission }

// ParseError wraps a codec failure. No item of the document was written.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v: %v", ErrParse, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// DeserializationError reports a stored record that is not a valid item.
type DeserializationError struct {
	Name string
	Err  error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("load %s: %v: %v", e.Name, ErrDeserialize, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

func (e *DeserializationError) Is(target error) bool { return target == ErrDeserialize }

// IdentityError rejects an item whose guid cannot be used as a record name.
type IdentityError struct {
	GUID   string
	Reason string
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("guid %q: %s", e.GUID, e.Reason)
}

func (e *IdentityError) Is(target error) bool { return target == ErrIdentity }
