package store

import "fmt"

// ErrorKind classifies a persistence failure.
type ErrorKind int

const (
	Database ErrorKind = iota
	Migration
	Serialization
	IO
	SchemaMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case Database:
		return "database"
	case Migration:
		return "migration"
	case Serialization:
		return "serialization"
	case IO:
		return "io"
	case SchemaMismatch:
		return "schema mismatch"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by every Store operation that fails.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}
