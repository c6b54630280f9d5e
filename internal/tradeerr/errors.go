// Package tradeerr defines the error taxonomy (spec §7) as a typed error
// instead of the string-matching the teacher's HTTP layer relied on
// (strings.Contains(err.Error(), "not found")). Callers switch on Kind.
package tradeerr

import "fmt"

// Kind classifies why an operation failed.
type Kind int

const (
	// KindValidation covers malformed requests: bad side, non-positive qty,
	// zero/negative limit price, ownership mismatch. Rejected locally before
	// any state mutates.
	KindValidation Kind = iota
	// KindPrecondition covers SELL with insufficient position or BUY with
	// insufficient balance. Rejected before any store write, except a MARKET
	// BUY's balance, which is only checked when each fill settles.
	KindPrecondition
	// KindTransient covers a store failure worth retrying once.
	KindTransient
	// KindTerminalFrozen covers a mutation attempted against a FILLED or
	// CANCELLED order; the caller should treat it as a no-op, not an error
	// to surface loudly.
	KindTerminalFrozen
	// KindExternal covers an external venue failure (DepthMerger).
	KindExternal
	// KindNotFound covers a lookup against a row that does not exist.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPrecondition:
		return "precondition"
	case KindTransient:
		return "transient"
	case KindTerminalFrozen:
		return "terminal_frozen"
	case KindExternal:
		return "external"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a classified error. Wrap an underlying cause with New so callers
// can both errors.As into a *tradeerr.Error variable and errors.Unwrap
// through to the cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether err is a tradeerr.Error of the given kind.
func Is(err error, kind Kind) bool {
	te, ok := err.(*Error)
	if !ok {
		return false
	}
	return te.Kind == kind
}
