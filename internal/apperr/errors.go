// Package apperr defines the error taxonomy shared by the indexing engine.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide between retrying,
// repairing, skipping, or aborting.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindFilesystem
	KindBackendLocked
	KindBackendIntegrity
	KindExternalService
	KindDuplicateKeyword
	KindNotFound
	KindConflict
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindConfig:           "config",
	KindFilesystem:       "filesystem",
	KindBackendLocked:    "backend_locked",
	KindBackendIntegrity: "backend_integrity",
	KindExternalService:  "external_service",
	KindDuplicateKeyword: "duplicate_keyword",
	KindNotFound:         "not_found",
	KindConflict:         "conflict",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrMissingDirectory = errors.New("notes directory does not exist")
	ErrMissingRuleFile  = errors.New("rule file does not exist")
	ErrDuplicateKeyword = errors.New("keyword already mapped")
	ErrAlreadyApplied   = errors.New("suggestion already applied")
	ErrUnsupported      = errors.New("operation not supported by backend")
)

// Error carries a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and operation name. A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of the outermost *Error in err's chain. Sentinels
// that imply a kind are recognised even when they are not wrapped.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDuplicateKeyword):
		return KindDuplicateKeyword
	case errors.Is(err, ErrMissingDirectory):
		return KindFilesystem
	case errors.Is(err, ErrMissingRuleFile):
		return KindConfig
	case errors.Is(err, ErrConflict), errors.Is(err, ErrAlreadyApplied):
		return KindConflict
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
