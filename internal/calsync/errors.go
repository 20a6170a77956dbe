package calsync

import (
	"errors"
	"fmt"
)

// Kind classifies a sync failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindAccessDenied
	KindAccessRestricted
	KindContainerNotFound
	KindEventCreateFailed
	KindEventUpdateFailed
	KindEventRemoveFailed
	KindCommitFailed
	KindDisabled
)

func (k Kind) String() string {
	switch k {
	case KindAccessDenied:
		return "access denied"
	case KindAccessRestricted:
		return "access restricted"
	case KindContainerNotFound:
		return "container not found"
	case KindEventCreateFailed:
		return "event create failed"
	case KindEventUpdateFailed:
		return "event update failed"
	case KindEventRemoveFailed:
		return "event remove failed"
	case KindCommitFailed:
		return "commit failed"
	case KindDisabled:
		return "sync disabled"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. A *SyncError matches the sentinel of its kind.
var (
	ErrAccessDenied      = errors.New("calsync: access denied")
	ErrAccessRestricted  = errors.New("calsync: access restricted")
	ErrContainerNotFound = errors.New("calsync: container not found")
	ErrEventCreateFailed = errors.New("calsync: event create failed")
	ErrEventUpdateFailed = errors.New("calsync: event update failed")
	ErrEventRemoveFailed = errors.New("calsync: event remove failed")
	ErrCommitFailed      = errors.New("calsync: commit failed")
	ErrSyncDisabled      = errors.New("calsync: sync disabled")
)

var sentinelByKind = map[Kind]error{
	KindAccessDenied:      ErrAccessDenied,
	KindAccessRestricted:  ErrAccessRestricted,
	KindContainerNotFound: ErrContainerNotFound,
	KindEventCreateFailed: ErrEventCreateFailed,
	KindEventUpdateFailed: ErrEventUpdateFailed,
	KindEventRemoveFailed: ErrEventRemoveFailed,
	KindCommitFailed:      ErrCommitFailed,
	KindDisabled:          ErrSyncDisabled,
}

// SyncError is returned by every engine entry point on failure.
type SyncError struct {
	Kind      Kind
	SessionID string // set for per-session failures
	Err       error  // underlying cause, may be nil
}

func (e *SyncError) Error() string {
	msg := "calsync: " + e.Kind.String()
	if e.SessionID != "" {
		msg += fmt.Sprintf(" (session %s)", e.SessionID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SyncError) Unwrap() error { return e.Err }

func (e *SyncError) Is(target error) bool {
	s, ok := sentinelByKind[e.Kind]
	return ok && s == target
}

func newError(kind Kind, sessionID string, cause error) *SyncError {
	return &SyncError{Kind: kind, SessionID: sessionID, Err: cause}
}

// asSyncError passes *SyncError values through and wraps anything else as
// KindUnknown.
func asSyncError(err error) error {
	if err == nil {
		return nil
	}
	var se *SyncError
	if errors.As(err, &se) {
		return err
	}
	return newError(KindUnknown, "", err)
}
