package sync

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/memento-sh/sync-core/internal/core"
	"github.com/memento-sh/sync-core/pkg/metrics"
)

// sequenceTracker owns the per-session monotonic sequence numbers and
// anomaly detection described in spec §4.3.7. It is safe for
// concurrent use across sessions but serializes access to one
// session's state.
type sequenceTracker struct {
	mu             sync.Mutex
	nextSeq        map[string]int
	state          map[string]*core.SessionSequenceTrackingState
	resolutionMode core.AnomalyResolutionMode
	metrics        *metrics.CheckpointMetrics
}

func newSequenceTracker(mode core.AnomalyResolutionMode, m *metrics.CheckpointMetrics) *sequenceTracker {
	if mode == "" {
		mode = core.AnomalyWarn
	}
	return &sequenceTracker{
		nextSeq: make(map[string]int),
		state:   make(map[string]*core.SessionSequenceTrackingState),
		resolutionMode: mode,
		metrics: m,
	}
}

// nextSessionSequence yields 1, 2, 3, ... strictly monotonic per
// sessionID.
func (t *sequenceTracker) nextSessionSequence(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextSeq[sessionID]++
	return t.nextSeq[sessionID]
}

// eventID derives the canonical id for a session relationship event
// per spec §4.3.7: "evt_" + sha1(sessionId|seq|type|toId|timestampMs)[:16].
func eventID(sessionID string, seq int, relType, toID string, ts time.Time) string {
	h := sha1.Sum([]byte(fmt.Sprintf("%s|%d|%s|%s|%d", sessionID, seq, relType, toID, ts.UnixMilli())))
	return "evt_" + hex.EncodeToString(h[:])[:16]
}

// recordSessionSequence checks a newly produced (seq, type) pair
// against session history, emits an anomaly if it's a duplicate or
// out-of-order, and reports whether the event should still be kept
// given the configured resolution mode.
func (t *sequenceTracker) recordSessionSequence(sessionID, evtType string, seq int, evtID string, ts time.Time) (keep bool, anomaly *core.SequenceAnomaly) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.state[sessionID]
	if !ok {
		st = &core.SessionSequenceTrackingState{PerType: make(map[string]int)}
		t.state[sessionID] = st
	}

	var reason core.AnomalyReason
	anomalous := false
	if seq == st.LastSequence || seq == st.PerType[evtType] {
		reason = core.AnomalyDuplicate
		anomalous = true
	} else if seq < st.LastSequence || (st.PerType[evtType] != 0 && seq < st.PerType[evtType]) {
		reason = core.AnomalyOutOfOrder
		anomalous = true
	}

	if anomalous {
		anomaly = &core.SequenceAnomaly{
			SessionID:        sessionID,
			Type:             evtType,
			SequenceNumber:   seq,
			PreviousSequence: st.LastSequence,
			Reason:           reason,
			EventID:          evtID,
			Timestamp:        ts,
			PreviousType:     st.LastType,
		}
		if t.metrics != nil {
			t.metrics.AnomaliesTotal.WithLabelValues(string(reason), string(t.resolutionMode)).Inc()
		}
	}

	keep = !(anomalous && t.resolutionMode == core.AnomalySkip)

	if st.PerType[evtType] < seq {
		st.PerType[evtType] = seq
	}
	if seq > st.LastSequence {
		st.LastSequence = seq
		st.LastType = evtType
	}

	return keep, anomaly
}

// dropSession discards all tracking state for sessionID, called from
// session teardown (spec §4.3.6 step 6).
func (t *sequenceTracker) dropSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.nextSeq, sessionID)
	delete(t.state, sessionID)
}
