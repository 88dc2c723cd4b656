package xdf

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

var (
	ErrMalformedStructure   = errors.New("xdf: malformed structure")
	ErrUnsupportedConstruct = errors.New("xdf: unsupported construct")
	ErrMissingRequiredField = errors.New("xdf: missing required field")
	ErrDuplicateIdentifier  = errors.New("xdf: duplicate identifier")
)

// ErrorKind classifies a DefinitionError.
type ErrorKind int

const (
	MalformedStructure ErrorKind = iota + 1
	UnsupportedConstruct
	MissingRequiredField
	DuplicateIdentifier
)

func (k ErrorKind) sentinel() error {
	switch k {
	case UnsupportedConstruct:
		return ErrUnsupportedConstruct
	case MissingRequiredField:
		return ErrMissingRequiredField
	case DuplicateIdentifier:
		return ErrDuplicateIdentifier
	default:
		return ErrMalformedStructure
	}
}

func (k ErrorKind) String() string {
	switch k {
	case MalformedStructure:
		return "malformed structure"
	case UnsupportedConstruct:
		return "unsupported construct"
	case MissingRequiredField:
		return "missing required field"
	case DuplicateIdentifier:
		return "duplicate identifier"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// DefinitionError is scoped to a single item of the document. The item it
// names is left out of the Definition; parsing carries on with the rest.
type DefinitionError struct {
	Kind    ErrorKind
	Element string // XDFTABLE, XDFCONSTANT, ...
	ItemID  string
	Title   string
	Field   string
	Err     error
}

func (e *DefinitionError) Error() string {
	var b strings.Builder
	b.WriteString("xdf: ")
	b.WriteString(e.Element)
	if e.ItemID != "" {
		b.WriteString(" " + e.ItemID)
	}
	if e.Title != "" {
		fmt.Fprintf(&b, " %q", e.Title)
	}
	if e.Field != "" {
		b.WriteString(": field " + e.Field)
	}
	b.WriteString(": " + e.Kind.String())
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *DefinitionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// Warning records something skipped or assumed without dropping an item.
type Warning struct {
	Element string
	ItemID  string
	Message string
}

func (w Warning) String() string {
	if w.ItemID != "" {
		return fmt.Sprintf("%s %s: %s", w.Element, w.ItemID, w.Message)
	}
	return fmt.Sprintf("%s: %s", w.Element, w.Message)
}

// Report collects per-item diagnostics of one parse.
type Report struct {
	Errors   []*DefinitionError
	Warnings []Warning
}

// OK reports whether every item was understood.
func (r *Report) OK() bool { return len(r.Errors) == 0 }

// Err folds all item errors into one, nil when there are none.
func (r *Report) Err() error {
	var err error
	for _, e := range r.Errors {
		err = multierr.Append(err, e)
	}
	return err
}

func (r *Report) fail(e *DefinitionError) {
	r.Errors = append(r.Errors, e)
}

func (r *Report) warn(element, id, format string, args ...any) {
	r.Warnings = append(r.Warnings, Warning{Element: element, ItemID: id, Message: fmt.Sprintf(format, args...)})
}
