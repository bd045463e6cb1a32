package sanitize

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies the stage that produced an Error.
type Kind int

const (
	KindConfig Kind = iota + 1
	KindExtraction
	KindMasking
	KindUnmasking
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "configuration"
	case KindExtraction:
		return "extraction"
	case KindMasking:
		return "masking"
	case KindUnmasking:
		return "unmasking"
	}
	return "unknown"
}

var (
	ErrShortSalt       = errors.New("salt must be at least 8 characters")
	ErrNoExtractors    = errors.New("at least one extractor is required")
	ErrNoCompleteFunc  = errors.New("completion function is required")
	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrInvalidLabel    = errors.New("label must match [A-Za-z0-9_-]+")
	ErrInvalidSpan     = errors.New("entity span does not match source text")
	ErrOverlap         = errors.New("entities overlap")
	ErrEmptyToken      = errors.New("mapping contains an empty token")
)

// Error is the typed error returned at every component boundary. Err keeps
// the originating cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Cause satisfies the pkg/errors causer interface.
func (e *Error) Cause() error { return e.Err }

// NewError wraps err into an *Error of the given kind. An err that already is
// an *Error is returned unchanged so the stage that detected the failure stays
// the one reported.
func NewError(kind Kind, op string, err error) error {
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	if err != nil {
		err = errors.WithStack(err)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// ConfigError reports an invalid configuration detected at construction.
func ConfigError(op string, err error) error { return NewError(KindConfig, op, err) }

// ExtractionError reports a failed extraction call.
func ExtractionError(op string, err error) error { return NewError(KindExtraction, op, err) }

// MaskingError reports a failure while substituting tokens.
func MaskingError(op string, err error) error { return NewError(KindMasking, op, err) }

// UnmaskingError reports a failure while restoring tokens.
func UnmaskingError(op string, err error) error { return NewError(KindUnmasking, op, err) }

// IsKind reports whether err carries an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// KindOf returns the kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
