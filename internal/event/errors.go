package event

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrInvalidEvent      = errors.New("event: invalid event")
	ErrUnknownKind       = errors.New("event: unknown kind")
	ErrLogIntegrity      = errors.New("event: log integrity violated")
	ErrReplayConsistency = errors.New("event: replay consistency violated")

	ErrDiscrepancyUnresolved = errors.New("event: discrepancy left unresolved")
)

// LogIntegrityError reports a sequence gap or a duplicate event on append or
// load. It is fatal for a capture session.
type LogIntegrityError struct {
	Expected int64
	Got      int64
	EventID  string
	Reason   string
}

func (e *LogIntegrityError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("log integrity: %s (event %s, expected sequence %d, got %d)",
			e.Reason, e.EventID, e.Expected, e.Got)
	}
	return fmt.Sprintf("log integrity: %s (expected sequence %d, got %d)", e.Reason, e.Expected, e.Got)
}

func (e *LogIntegrityError) Unwrap() error { return ErrLogIntegrity }

// ReplayConsistencyError reports an event that cannot be applied to the
// current model, for example because it names a node that does not exist.
// The model is left exactly as it was before the attempt.
type ReplayConsistencyError struct {
	Sequence int64
	EventID  string
	Kind     Kind
	Backward bool
	Err      error
}

func (e *ReplayConsistencyError) Error() string {
	dir := "forward"
	if e.Backward {
		dir = "backward"
	}
	return fmt.Sprintf("replay %s of %s event %d (%s): %v", dir, e.Kind, e.Sequence, e.EventID, e.Err)
}

// Is matches ErrReplayConsistency.
func (e *ReplayConsistencyError) Is(target error) bool { return target == ErrReplayConsistency }

func (e *ReplayConsistencyError) Unwrap() error { return e.Err }

// DiscrepancyUnresolvedError reports a reconciliation choice the caller did
// not make. The default policy named in Applied was used instead.
type DiscrepancyUnresolvedError struct {
	Category string
	Key      string
	Applied  string
}

func (e *DiscrepancyUnresolvedError) Error() string {
	return fmt.Sprintf("unresolved %s discrepancy %s: applied default %q", e.Category, e.Key, e.Applied)
}

func (e *DiscrepancyUnresolvedError) Unwrap() error { return ErrDiscrepancyUnresolved }

// IsLogIntegrity reports whether err is, or wraps, a LogIntegrityError.
func IsLogIntegrity(err error) bool {
	return errors.Is(err, ErrLogIntegrity)
}
