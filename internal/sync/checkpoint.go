package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/memento-sh/sync-core/internal/core"
)

// ScheduleCheckpointOptions configures one scheduleSessionCheckpoint
// call (spec §4.3.10).
type ScheduleCheckpointOptions struct {
	Reason      core.CheckpointReason
	HopCount    int
	OperationID string
}

// ScheduleResult is returned by scheduleSessionCheckpoint.
type ScheduleResult struct {
	Success        bool
	JobID          string
	SequenceNumber int
}

// scheduleSessionCheckpoint dedups seeds, enqueues a job on the
// configured CheckpointJobRunner, and records the scheduled job as a
// SessionCheckpointRecord through the configured Database.
func (c *Coordinator) scheduleSessionCheckpoint(ctx context.Context, sessionID string, seeds []string, opts ScheduleCheckpointOptions) (*ScheduleResult, error) {
	seeds = dedupNonEmpty(seeds)
	if len(seeds) == 0 {
		return nil, fmt.Errorf("scheduleSessionCheckpoint: seeds must be non-empty")
	}

	reason := opts.Reason
	if reason == "" {
		reason = core.CheckpointReasonManual
	}
	hopCount := clamp(opts.HopCount, 1, 5)

	if c.checkpointLimiter != nil {
		if err := c.checkpointLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("scheduleSessionCheckpoint: rate limit wait: %w", err)
		}
	}

	seq := c.sequences.nextSessionSequence(sessionID)

	if c.checkpoints == nil {
		c.emit(Event{Kind: EventCheckpointScheduleFailed, Err: fmt.Errorf("no checkpoint job runner configured")})
		return &ScheduleResult{Success: false}, fmt.Errorf("no checkpoint job runner configured")
	}

	jobID, err := c.checkpoints.Enqueue(ctx, core.CheckpointJob{
		SessionID:     sessionID,
		Reason:        reason,
		SeedEntityIDs: seeds,
		HopCount:      hopCount,
	})
	if err != nil {
		c.emit(Event{Kind: EventCheckpointScheduleFailed, Err: err})
		return &ScheduleResult{Success: false}, err
	}

	if c.metrics != nil {
		c.metrics.Checkpoint.ScheduledTotal.WithLabelValues(string(reason)).Inc()
		c.metrics.Checkpoint.JobsEnqueuedTotal.Inc()
	}

	if c.db != nil {
		_ = c.db.SaveCheckpointRecord(ctx, sessionID, core.SessionCheckpointRecord{
			CheckpointID:  jobID,
			Reason:        reason,
			HopCount:      hopCount,
			Attempts:      1,
			SeedEntityIDs: seeds,
			JobID:         jobID,
			RecordedAt:    time.Now(),
		})
	}

	c.emit(Event{Kind: EventCheckpointScheduled, Checkpoint: &CheckpointEventPayload{
		SessionID:      sessionID,
		JobID:          jobID,
		SequenceNumber: seq,
	}})

	return &ScheduleResult{Success: true, JobID: jobID, SequenceNumber: seq}, nil
}

// watchCheckpointEvents re-emits terminal checkpoint-job events from
// the runner as session_checkpoint events, per spec §4.3.10. It runs
// for the coordinator's lifetime and exits when ctx is cancelled or
// the runner's event channel closes.
func (c *Coordinator) watchCheckpointEvents(ctx context.Context) {
	if c.checkpoints == nil {
		return
	}
	events := c.checkpoints.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleCheckpointJobEvent(ev)
		}
	}
}

func (c *Coordinator) handleCheckpointJobEvent(ev core.CheckpointJobEvent) {
	status := core.SessionStatusCompleted
	var errs []core.SyncError
	if ev.Err != nil {
		status = core.SessionStatusManualIntervention
		errs = []core.SyncError{core.NewSyncError(core.ErrorKindCapability, "", ev.Err.Error(), true)}
	}

	if c.metrics != nil {
		c.metrics.Checkpoint.JobsCompletedTotal.WithLabelValues(string(status)).Inc()
	}

	c.emitSessionEvent(ev.SessionID, "", core.SessionEvent{
		Kind:      core.SessionCheckpoint,
		SessionID: ev.SessionID,
		Timestamp: time.Now(),
		Payload: core.SessionEventPayload{
			CheckpointID: ev.JobID,
			Status:       status,
			Errors:       errs,
		},
	})
}

func dedupNonEmpty(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v <= 0 {
		v = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
