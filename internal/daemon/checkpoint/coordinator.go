// Package checkpoint implements the checkpoint coordinator: it accepts
// trigger requests, enforces at-most-one-in-flight per session, and
// persists checkpoint artifacts durably before publishing them.
package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/harborhq/contextd/config"
	coorderr "github.com/harborhq/contextd/errors"
	"github.com/harborhq/contextd/internal/daemon/metrics"
	"github.com/harborhq/contextd/internal/daemon/monitor"
	"github.com/harborhq/contextd/internal/daemon/registry"
	"github.com/harborhq/contextd/pkg/models"
	"github.com/sirupsen/logrus"
)

// Snapshotter serializes a session's recoverable content. It is an
// external collaborator; the coordinator only stores the pointer it
// returns inside the artifact.
type Snapshotter interface {
	Snapshot(ctx context.Context, rec *models.SessionRecord) (string, error)
}

// NopSnapshotter returns an empty state pointer. Used when the session
// runtime exports no snapshot hook; the artifact still preserves the
// registry-side state.
type NopSnapshotter struct{}

// Snapshot implements Snapshotter.
func (NopSnapshotter) Snapshot(ctx context.Context, rec *models.SessionRecord) (string, error) {
	return "", nil
}

// Coordinator serializes checkpoint writes per session.
type Coordinator struct {
	registry    *registry.Registry
	provider    *config.Provider
	writer      ArtifactWriter
	snapshotter Snapshotter
	logger      *logrus.Entry

	// failures counts consecutive write failures per session for the
	// bounded-retry alert.
	failuresMu sync.Mutex
	failures   map[string]int

	wg sync.WaitGroup
}

// New creates a Coordinator.
func New(reg *registry.Registry, provider *config.Provider, writer ArtifactWriter, snap Snapshotter, logger *logrus.Entry) *Coordinator {
	if snap == nil {
		snap = NopSnapshotter{}
	}
	return &Coordinator{
		registry:    reg,
		provider:    provider,
		writer:      writer,
		snapshotter: snap,
		logger:      logger,
		failures:    make(map[string]int),
	}
}

// RequestCheckpoint accepts or rejects a checkpoint trigger for a
// session. While a checkpoint is pending the request is coalesced: the
// caller gets CHECKPOINT_REJECTED and no second record is created. The
// claim is made inside the registry mutation, so two concurrent
// requests can never both win.
//
// The artifact write runs asynchronously; completion or failure is
// published through the registry.
func (c *Coordinator) RequestCheckpoint(sessionID string, trigger models.CheckpointTrigger) (string, error) {
	if trigger == "" {
		trigger = models.TriggerManual
	}
	checkpointID := uuid.NewString()
	now := time.Now()

	var snapshot *models.SessionRecord
	var pendingID string
	_, err := c.registry.Mutate(sessionID, "coordinator", func(rec *models.SessionRecord) error {
		if rec.Status.IsTerminal() {
			return coorderr.SessionNotFound(sessionID)
		}
		if rec.PendingCheckpointID != "" {
			pendingID = rec.PendingCheckpointID
			metrics.CheckpointsRejected.Inc()
			return coorderr.CheckpointRejected(sessionID, rec.PendingCheckpointID)
		}
		rec.PendingCheckpointID = checkpointID
		if rec.Status != models.StatusEmergency {
			rec.Status = models.StatusCheckpointing
		}
		snapshot = rec.Clone()
		return nil
	})
	if err != nil {
		// A coalesced higher-priority request still raises the pending
		// record's trigger so an emergency is never recorded as a mere
		// threshold write.
		if pendingID != "" {
			c.registry.UpgradeCheckpointTrigger(pendingID, trigger)
		}
		return "", err
	}

	record := &models.CheckpointRecord{
		CheckpointID:   checkpointID,
		SessionID:      sessionID,
		TriggeredAt:    now,
		UsageAtTrigger: snapshot.UsageFraction,
		Trigger:        trigger,
		Status:         models.CheckpointPending,
	}
	c.registry.PutCheckpoint(record)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.write(record, snapshot)
	}()

	return checkpointID, nil
}

// Wait blocks until all in-flight checkpoint writes have settled. Used
// during shutdown and in tests.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// write performs the bounded, retried artifact write and finalizes the
// checkpoint record either way. A PENDING record is only ever
// superseded by WRITTEN or FAILED, never by a newer request.
func (c *Coordinator) write(record *models.CheckpointRecord, session *models.SessionRecord) {
	cfg := c.provider.Get()
	log := c.logger.WithFields(logrus.Fields{
		"session":    record.SessionID,
		"checkpoint": record.CheckpointID,
	})

	artifact := &models.CheckpointArtifact{
		FormatVersion:  models.ArtifactFormatVersion,
		CheckpointID:   record.CheckpointID,
		SessionID:      record.SessionID,
		Trigger:        record.Trigger,
		UsageAtTrigger: record.UsageAtTrigger,
		TriggeredAt:    record.TriggeredAt,
		Session:        session,
	}

	var location string
	var size int64
	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.CheckpointWrite.Std())
		defer cancel()

		pointer, err := c.snapshotter.Snapshot(ctx, session)
		if err != nil {
			return coorderr.CheckpointWriteFailed(record.CheckpointID, err)
		}
		artifact.StatePointer = pointer

		location, size, err = c.writer.Write(ctx, artifact)
		if err != nil {
			if ctx.Err() != nil {
				return coorderr.CheckpointTimeout(record.CheckpointID, cfg.Timeouts.CheckpointWrite.Std().String())
			}
			return err
		}
		return nil
	}

	retries := uint64(0)
	if cfg.Checkpoint.MaxRetries > 0 {
		retries = uint64(cfg.Checkpoint.MaxRetries - 1)
	}
	err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries))
	if err != nil {
		c.finalizeFailed(record, err)
		log.WithError(err).Error("Checkpoint write failed")
		return
	}

	c.finalizeWritten(record, location, size)
	log.WithField("location", location).Info("Checkpoint written")
}

// finalizeWritten marks the record WRITTEN and atomically appends the
// checkpoint to the owning session, moving it back toward its
// usage-derived status.
func (c *Coordinator) finalizeWritten(record *models.CheckpointRecord, location string, size int64) {
	completed := time.Now()
	record.Status = models.CheckpointWritten
	record.ArtifactLocation = location
	record.SizeBytes = size
	record.CompletedAt = completed
	c.registry.PutCheckpoint(record)
	metrics.CheckpointsWritten.WithLabelValues(string(record.Trigger)).Inc()

	cfg := c.provider.Get()
	_, err := c.registry.Mutate(record.SessionID, "coordinator", func(rec *models.SessionRecord) error {
		rec.CheckpointIDs = append(rec.CheckpointIDs, record.CheckpointID)
		if rec.PendingCheckpointID == record.CheckpointID {
			rec.PendingCheckpointID = ""
		}
		rec.LastCheckpointAt = completed
		rec.EnteredCheckpointBandAt = time.Time{}
		rec.Status = monitor.StatusForUsage(rec.UsageFraction, cfg.Thresholds)
		return nil
	})
	if err != nil {
		// Session vanished mid-write; the artifact still exists for
		// recovery.
		c.logger.WithError(err).WithField("checkpoint", record.CheckpointID).
			Warn("Checkpoint written for missing session")
	}

	c.failuresMu.Lock()
	delete(c.failures, record.SessionID)
	c.failuresMu.Unlock()
}

// finalizeFailed marks the record FAILED and releases the in-flight
// claim. Session status is left for the monitor to re-evaluate on the
// next sample, which re-arms a new request.
func (c *Coordinator) finalizeFailed(record *models.CheckpointRecord, cause error) {
	record.Status = models.CheckpointFailed
	record.CompletedAt = time.Now()
	record.Error = cause.Error()
	c.registry.PutCheckpoint(record)
	metrics.CheckpointsFailed.Inc()

	_, err := c.registry.Mutate(record.SessionID, "coordinator", func(rec *models.SessionRecord) error {
		if rec.PendingCheckpointID == record.CheckpointID {
			rec.PendingCheckpointID = ""
			// Re-arm so the next evaluation can re-request.
			rec.TriggerArmed = true
		}
		return nil
	})
	if err != nil {
		c.logger.WithError(err).WithField("checkpoint", record.CheckpointID).
			Warn("Failed checkpoint for missing session")
	}

	cfg := c.provider.Get()
	c.failuresMu.Lock()
	c.failures[record.SessionID]++
	count := c.failures[record.SessionID]
	c.failuresMu.Unlock()

	if cfg.Checkpoint.MaxRetries > 0 && count >= cfg.Checkpoint.MaxRetries {
		c.registry.BroadcastAlert(&models.Alert{
			SessionID: record.SessionID,
			Kind:      models.AlertWriteExhausted,
			Message:   "checkpoint writes keep failing; session state is at risk",
			RaisedAt:  time.Now(),
		})
	}
}
