package reconcile

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/CauchyIO/brickkit/infrastructure/logging"
)

// Sweeper periodically revokes expired time-bounded grants. Long-lived
// callers (a governance daemon, a scheduled job runner) start one per
// reconciler; batch callers rely on the revocation pass at the end of each
// run instead.
type Sweeper struct {
	rc       *Reconciler
	cron     *cron.Cron
	log      *logging.Logger
	schedule string
	entryID  cron.EntryID
}

// NewSweeper creates a sweeper on a cron schedule (default hourly).
func NewSweeper(rc *Reconciler, schedule string) *Sweeper {
	if schedule == "" {
		schedule = "@hourly"
	}
	return &Sweeper{
		rc:       rc,
		cron:     cron.New(),
		log:      logging.NewFromEnv("grant-sweeper"),
		schedule: schedule,
	}
}

// Start schedules the sweep and begins the cron loop.
func (s *Sweeper) Start(ctx context.Context) error {
	id, err := s.cron.AddFunc(s.schedule, func() {
		s.sweep(ctx)
	})
	if err != nil {
		return err
	}
	s.entryID = id
	s.cron.Start()
	return nil
}

// Stop halts the cron loop, waiting for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

func (s *Sweeper) sweep(ctx context.Context) {
	results := s.rc.RevokeExpired(ctx)
	if len(results) == 0 {
		return
	}
	revoked, failed := 0, 0
	for _, r := range results {
		if r.Success {
			revoked++
		} else {
			failed++
			s.log.WithResource(string(r.ResourceType), r.ResourceName).
				Error("failed to revoke expired grant")
		}
	}
	s.log.WithFields(map[string]interface{}{
		"revoked": revoked,
		"failed":  failed,
	}).Info("expired-grant sweep finished")
}
