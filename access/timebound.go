package access

import (
	"time"

	"github.com/CauchyIO/brickkit/catalog"
)

// TimeBoundGrant is a grant carrying an expiry. The reconciler revokes it
// once now >= ExpiresAt and flips the originating request to expired.
type TimeBoundGrant struct {
	Grant        catalog.Grant
	ResourceType catalog.ResourceType
	ResourceFQN  string
	Request      *Request
	GrantedAt    time.Time
	ExpiresAt    *time.Time
}

// Expired reports whether the grant has passed its expiry at now.
// Grants without an expiry never expire.
func (t *TimeBoundGrant) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// Ledger tracks outstanding time-bounded grants for a run.
type Ledger struct {
	grants []*TimeBoundGrant
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Add registers a time-bounded grant.
func (l *Ledger) Add(g *TimeBoundGrant) {
	l.grants = append(l.grants, g)
}

// Active returns the grants still in force at now.
func (l *Ledger) Active(now time.Time) []*TimeBoundGrant {
	var out []*TimeBoundGrant
	for _, g := range l.grants {
		if !g.Expired(now) {
			out = append(out, g)
		}
	}
	return out
}

// RevokeExpired removes expired grants from the ledger, marks their
// originating requests expired, and returns them so the reconciler can
// revoke each on the backend.
func (l *Ledger) RevokeExpired(now time.Time) []*TimeBoundGrant {
	var expired []*TimeBoundGrant
	kept := l.grants[:0]
	for _, g := range l.grants {
		if g.Expired(now) {
			if g.Request != nil && g.Request.Status == RequestApproved {
				g.Request.Status = RequestExpired
			}
			expired = append(expired, g)
			continue
		}
		kept = append(kept, g)
	}
	l.grants = append([]*TimeBoundGrant(nil), kept...)
	return expired
}
