package access

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/CauchyIO/brickkit/catalog"
	"github.com/CauchyIO/brickkit/infrastructure/errors"
)

// RequestStatus tracks the access-request lifecycle.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
	RequestExpired  RequestStatus = "expired"
)

// Request is a petition for privileges on a resource, optionally
// time-bounded.
type Request struct {
	ID                  string
	Requester           catalog.Principal
	ResourceType        catalog.ResourceType
	ResourceFQN         string
	RequestedPrivileges []catalog.Privilege
	Justification       string
	RequestedDuration   time.Duration
	Status              RequestStatus
	Reviewer            *catalog.Principal
	DenialReason        string
	SubmittedAt         time.Time
	ReviewedAt          *time.Time
	ExpiresAt           *time.Time
}

// Submit creates a pending request after validating the privileges against
// the target resource type.
func Submit(requester catalog.Principal, rt catalog.ResourceType, fqn string, privileges []catalog.Privilege, justification string, duration time.Duration) (*Request, error) {
	if err := ValidatePrivileges(rt, privileges); err != nil {
		return nil, err
	}
	if justification == "" {
		return nil, errors.Validation("access_request", "justification is required")
	}
	return &Request{
		ID:                  uuid.New().String(),
		Requester:           requester,
		ResourceType:        rt,
		ResourceFQN:         fqn,
		RequestedPrivileges: privileges,
		Justification:       justification,
		RequestedDuration:   duration,
		Status:              RequestPending,
		SubmittedAt:         time.Now().UTC(),
	}, nil
}

// Approve transitions a pending request to approved and returns the
// resulting time-bounded grant. The grant's ExpiresAt is set only when a
// duration was requested; otherwise it is nil and the grant never expires.
func (r *Request) Approve(reviewer catalog.Principal) (*TimeBoundGrant, error) {
	if r.Status != RequestPending {
		return nil, errors.Conflict(fmt.Sprintf("request %s is %s, not pending", r.ID, r.Status))
	}
	now := time.Now().UTC()
	r.Status = RequestApproved
	r.Reviewer = &reviewer
	r.ReviewedAt = &now

	tbg := &TimeBoundGrant{
		Grant:     catalog.NewGrant(r.Requester, r.RequestedPrivileges...),
		Request:   r,
		GrantedAt: now,
	}
	if r.RequestedDuration > 0 {
		expires := now.Add(r.RequestedDuration)
		r.ExpiresAt = &expires
		tbg.ExpiresAt = &expires
	}
	return tbg, nil
}

// Deny transitions a pending request to denied.
func (r *Request) Deny(reviewer catalog.Principal, reason string) error {
	if r.Status != RequestPending {
		return errors.Conflict(fmt.Sprintf("request %s is %s, not pending", r.ID, r.Status))
	}
	now := time.Now().UTC()
	r.Status = RequestDenied
	r.Reviewer = &reviewer
	r.DenialReason = reason
	r.ReviewedAt = &now
	return nil
}
