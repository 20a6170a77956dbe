package calsync

import (
	"context"
	"sync"

	appLog "coachcal/internal/log"
)

// Gate guards every mutating operation behind the store's authorization.
// The platform prompt is shown at most once per Gate; later requests return
// the remembered outcome.
type Gate struct {
	auth Authorizer

	mu        sync.Mutex
	requested bool
	outcome   AccessState
}

// NewGate constructs a Gate that asks auth for access.
func NewGate(auth Authorizer) *Gate {
	return &Gate{auth: auth}
}

// State reports the current authorization state without side effects.
func (g *Gate) State() AccessState {
	return g.auth.AuthorizationStatus()
}

// Request asks for access, prompting only on the first call.
func (g *Gate) Request(ctx context.Context) (AccessState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if st := g.auth.AuthorizationStatus(); st != AccessNotRequested {
		return st, nil
	}
	if g.requested {
		return g.outcome, nil
	}

	st, err := g.auth.RequestAccess(ctx)
	if err != nil {
		return AccessNotRequested, err
	}
	// Anything other than a grant is remembered as a denial.
	if st != AccessAuthorized && st != AccessRestricted {
		st = AccessDenied
	}
	g.requested = true
	g.outcome = st
	appLog.Info("calendar access requested", "outcome", st.String())
	return st, nil
}

// Require returns nil when access is authorized, requesting it if it has not
// been asked for yet.
func (g *Gate) Require(ctx context.Context) error {
	st := g.State()
	if st == AccessNotRequested {
		var err error
		st, err = g.Request(ctx)
		if err != nil {
			return newError(KindUnknown, "", err)
		}
	}

	switch st {
	case AccessAuthorized:
		return nil
	case AccessRestricted:
		return newError(KindAccessRestricted, "", nil)
	default:
		return newError(KindAccessDenied, "", nil)
	}
}
