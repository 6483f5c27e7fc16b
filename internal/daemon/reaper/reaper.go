// Package reaper implements the liveness reaper: it scans the registry
// for sessions whose heartbeat went silent and walks them through
// STALE and, after the grace period, TERMINATED.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/harborhq/contextd/config"
	"github.com/harborhq/contextd/internal/daemon/metrics"
	"github.com/harborhq/contextd/internal/daemon/registry"
	"github.com/harborhq/contextd/pkg/models"
	"github.com/sirupsen/logrus"
)

// Reaper periodically expires unrefreshed sessions.
type Reaper struct {
	registry *registry.Registry
	provider *config.Provider
	logger   *logrus.Entry
}

// New creates a Reaper.
func New(reg *registry.Registry, provider *config.Provider, logger *logrus.Entry) *Reaper {
	return &Reaper{registry: reg, provider: provider, logger: logger}
}

// Name returns the worker's name for logging.
func (r *Reaper) Name() string { return "reaper" }

// Run starts the scan loop. It blocks until the context is canceled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.provider.Get().Intervals.Reap.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep(time.Now())
		}
	}
}

// Sweep performs one scan. Exported for tests and manual runs.
//
// Each transition re-checks its precondition inside the registry
// mutation: the List result is only a candidate set, and a heartbeat
// arriving between the scan and the mutation wins.
func (r *Reaper) Sweep(now time.Time) {
	cfg := r.provider.Get()
	heartbeatTimeout := cfg.Timeouts.Heartbeat.Std()
	grace := cfg.Timeouts.StaleGrace.Std()

	for _, candidate := range r.registry.List(models.SessionFilter{}) {
		switch {
		case candidate.Status.IsLive():
			if now.Sub(candidate.LastHeartbeatAt) < heartbeatTimeout {
				continue
			}
			r.markStale(candidate.SessionID, now, heartbeatTimeout)

		case candidate.Status == models.StatusStale:
			if now.Sub(candidate.StaleSince) < grace {
				continue
			}
			r.terminate(candidate.SessionID, now, grace)
		}
	}
}

func (r *Reaper) markStale(sessionID string, now time.Time, timeout time.Duration) {
	rec, err := r.registry.Mutate(sessionID, "reaper", func(rec *models.SessionRecord) error {
		if !rec.Status.IsLive() || now.Sub(rec.LastHeartbeatAt) < timeout {
			return errSkip
		}
		rec.Status = models.StatusStale
		rec.StaleSince = now
		return nil
	})
	if err != nil {
		return
	}

	metrics.SessionsReaped.WithLabelValues(string(models.StatusStale)).Inc()
	r.logger.WithField("session", sessionID).Warn("Session heartbeat expired, marked stale")

	// Independent secondary safeguard: usage has been unknown for longer
	// than the heartbeat timeout, which is its own alertable condition.
	r.registry.BroadcastAlert(&models.Alert{
		SessionID: sessionID,
		Kind:      models.AlertUsageUnknown,
		Message:   fmt.Sprintf("no usage sample for over %s", now.Sub(rec.LastHeartbeatAt).Round(time.Second)),
		RaisedAt:  now,
	})
}

func (r *Reaper) terminate(sessionID string, now time.Time, grace time.Duration) {
	_, err := r.registry.Mutate(sessionID, "reaper", func(rec *models.SessionRecord) error {
		if rec.Status != models.StatusStale || now.Sub(rec.StaleSince) < grace {
			return errSkip
		}
		rec.Status = models.StatusTerminated
		return nil
	})
	if err != nil {
		return
	}

	metrics.SessionsReaped.WithLabelValues(string(models.StatusTerminated)).Inc()
	r.logger.WithField("session", sessionID).Warn("Stale session exceeded grace period, terminated")
}

// errSkip aborts a mutation whose precondition no longer holds.
var errSkip = fmt.Errorf("precondition no longer holds")
