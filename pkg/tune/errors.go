package tune

import (
	"errors"
	"fmt"

	"github.com/tosih/xdftune/pkg/binimage"
)

var (
	ErrUnknownItem     = errors.New("tune: unknown item")
	ErrWrongKind       = errors.New("tune: wrong item kind")
	ErrUnresolvedItem  = errors.New("tune: unresolved item")
	ErrOutOfBounds     = binimage.ErrOutOfBounds
	ErrValueOutOfRange = errors.New("tune: value out of range")
	ErrReadOnlyAxis    = errors.New("tune: axis is not stored in the image")
	ErrShape           = errors.New("tune: shape mismatch")
	ErrLinkCycle       = errors.New("tune: linked variables form a cycle")
)

// IOError is a failed load, backup or save. The session is either not
// created or left as it was.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("tune: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ItemError ties a failed read or write to the item and cell involved.
type ItemError struct {
	ItemID string
	Part   string
	Row    int
	Col    int
	Err    error
}

func (e *ItemError) Error() string {
	if e.Part == "" {
		return fmt.Sprintf("tune: %s: %v", e.ItemID, e.Err)
	}
	return fmt.Sprintf("tune: %s %s[%d,%d]: %v", e.ItemID, e.Part, e.Row, e.Col, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }
