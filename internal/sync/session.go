package sync

import (
	"sync"
	"time"

	"github.com/memento-sh/sync-core/internal/core"
)

// SessionListener receives every session-stream event emitted across
// all sessions (spec §4.3.7). Callers filter by SessionID/OperationID
// themselves, matching the plain-callback style used for coordinator
// events.
type SessionListener func(core.SessionEvent)

type listenerRegistrySession struct {
	mu        sync.RWMutex
	listeners []SessionListener
}

func (r *listenerRegistrySession) add(l SessionListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *listenerRegistrySession) emit(e core.SessionEvent) {
	r.mu.RLock()
	ls := append([]SessionListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, l := range ls {
		l(e)
	}
}

// emitSessionEvent stamps a session event's timestamp (if zero) and
// its session and operation ids, and publishes it to session listeners.
func (c *Coordinator) emitSessionEvent(sessionID, operationID string, ev core.SessionEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.SessionID = sessionID
	ev.OperationID = operationID
	c.sessionListeners.emit(ev)
}

// openSession starts a new session stream: emits session_started,
// starts a keepalive timer, and returns a teardown func that must be
// deferred by the caller (incremental sync, spec §4.3.6 step 1/6).
func (c *Coordinator) openSession(sessionID, operationID string, total int, timeout time.Duration) (teardown func(status core.SessionStatus, processed int, recentErrors []core.SyncError)) {
	c.emitSessionEvent(sessionID, operationID, core.SessionEvent{
		Kind: core.SessionStarted,
		Payload: core.SessionEventPayload{
			Status:       core.SessionStatusRunning,
			TotalChanges: total,
		},
	})

	if c.metrics != nil {
		c.metrics.Checkpoint.ActiveSessions.Inc()
	}

	interval := timeout / 6
	if interval < 3*time.Second {
		interval = 3 * time.Second
	}
	if interval > 20*time.Second {
		interval = 20 * time.Second
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.emitSessionEvent(sessionID, operationID, core.SessionEvent{
					Kind:    core.SessionKeepalive,
					Payload: core.SessionEventPayload{Status: core.SessionStatusRunning},
				})
			}
		}
	}()

	return func(status core.SessionStatus, processed int, recentErrors []core.SyncError) {
		close(stop)
		if c.metrics != nil {
			c.metrics.Checkpoint.ActiveSessions.Dec()
		}
		c.sequences.dropSession(sessionID)

		if len(recentErrors) > 5 {
			recentErrors = recentErrors[len(recentErrors)-5:]
		}
		c.emitSessionEvent(sessionID, operationID, core.SessionEvent{
			Kind: core.SessionTeardown,
			Payload: core.SessionEventPayload{
				Status:           status,
				ProcessedChanges: processed,
				TotalChanges:     total,
				Errors:           recentErrors,
			},
		})
	}
}

// emitSessionRelationships publishes a batch of session relationships
// with strictly monotonic sequence numbers and canonical event ids
// (spec §4.3.7), honoring the anomaly-resolution mode for each one.
func (c *Coordinator) emitSessionRelationships(sessionID, operationID, changeID string, rels []core.SessionRelationshipRef) {
	kept := make([]core.SessionRelationshipRef, 0, len(rels))
	for _, r := range rels {
		seq := c.sequences.nextSessionSequence(sessionID)
		ts := time.Now()
		evtID := eventID(sessionID, seq, r.Type, r.ToEntityID, ts)

		keep, anomaly := c.sequences.recordSessionSequence(sessionID, r.Type, seq, evtID, ts)
		if anomaly != nil {
			c.emit(Event{Kind: EventSessionSequenceAnomaly, Anomaly: anomaly})
		}
		if !keep {
			continue
		}
		if r.Metadata == nil {
			r.Metadata = make(map[string]any)
		}
		r.Metadata["sequenceNumber"] = seq
		r.Metadata["eventId"] = evtID
		r.Metadata["actor"] = "sync-coordinator"
		kept = append(kept, r)
	}

	if len(kept) == 0 {
		return
	}

	c.emitSessionEvent(sessionID, operationID, core.SessionEvent{
		Kind: core.SessionRelationships,
		Payload: core.SessionEventPayload{
			ChangeID:      changeID,
			Relationships: kept,
		},
	})
}
