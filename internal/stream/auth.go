package stream

import (
	"context"
	"errors"

	"github.com/blueberrycongee/dinescout/pkg/types"
)

// Principal identifies who opened a stream.
type Principal struct {
	SessionID string
	UserID    string
}

// Authorizer decides whether a principal may follow a job.
type Authorizer interface {
	Authorize(ctx context.Context, job *types.Job, p Principal) error
}

var (
	errJobNotFound = errors.New("job not found")
	errNotJobOwner = errors.New("session does not own this job")
	errNoPrincipal = errors.New("missing session identity")
)

// OwnershipAuthorizer allows the user or session that created the job. Jobs without an
// owner are public.
type OwnershipAuthorizer struct{}

// Authorize implements Authorizer.
func (OwnershipAuthorizer) Authorize(_ context.Context, job *types.Job, p Principal) error {
	if job == nil {
		return errJobNotFound
	}
	if job.OwnerUserID == "" && job.OwnerSessionID == "" {
		return nil
	}
	if p.UserID == "" && p.SessionID == "" {
		return errNoPrincipal
	}
	if job.OwnerUserID != "" && p.UserID == job.OwnerUserID {
		return nil
	}
	if job.OwnerSessionID != "" && p.SessionID == job.OwnerSessionID {
		return nil
	}
	return errNotJobOwner
}
