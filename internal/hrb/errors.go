package hrb

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidObjectID is returned when text or bytes do not form a valid ObjectID.
	ErrInvalidObjectID = errors.New("invalid object id")

	// ErrInvalidCollection is returned when an encoded collection cannot be decoded.
	ErrInvalidCollection = errors.New("invalid collection")

	// ErrInvalidEntry is returned when a backend-encoded entry cannot be decoded.
	ErrInvalidEntry = errors.New("invalid collection entry")

	// ErrNotFound is returned by transports when a blob does not exist.
	ErrNotFound = errors.New("not found")
)

// IdentityMismatchError reports transferred content that does not hash to
// the ObjectID it was requested under.
type IdentityMismatchError struct {
	Want ObjectID
	Got  ObjectID
}

func (e *IdentityMismatchError) Error() string {
	return fmt.Sprintf("content identity mismatch: want %s, got %s", e.Want, e.Got)
}
