package scm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memento-sh/sync-core/internal/core"
	"github.com/memento-sh/sync-core/internal/core/testfakes"
	"github.com/memento-sh/sync-core/pkg/metrics"
)

var scmMetricsSeq int64

func newTestService(t *testing.T, provider core.SCMProvider, maxRetries int) *Service {
	t.Helper()
	n := atomic.AddInt64(&scmMetricsSeq, 1)
	return &Service{
		provider:   provider,
		maxRetries: maxRetries,
		retryDelay: time.Millisecond,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:    metrics.NewSCMMetrics(fmt.Sprintf("kgsynctestscm%d", n)),
	}
}

func TestValidateCommitRequest(t *testing.T) {
	err := validateCommitRequest(CommitRequest{})
	require.Error(t, err)
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Details, 2)

	err = validateCommitRequest(CommitRequest{Title: "t", Changes: []string{"a.go"}})
	assert.NoError(t, err)
}

func TestRunProviderWithRetry_SucceedsOnFirstAttempt(t *testing.T) {
	provider := testfakes.NewSCMProvider("test-provider")
	s := newTestService(t, provider, 3)

	record := &core.SCMCommitRecord{}
	s.runProviderWithRetry(context.Background(), record, CommitRequest{Title: "t"}, "main")

	assert.Equal(t, core.SCMStatusPending, record.Status)
	assert.NotEmpty(t, record.PRURL)
	assert.Equal(t, 1, record.Metadata["providerAttempts"])
}

func TestRunProviderWithRetry_ExhaustsAndEscalates(t *testing.T) {
	provider := testfakes.NewSCMProvider("test-provider")
	provider.PRErr = assertError("pr creation unavailable")
	s := newTestService(t, provider, 2)

	record := &core.SCMCommitRecord{}
	s.runProviderWithRetry(context.Background(), record, CommitRequest{Title: "t"}, "main")

	assert.Equal(t, core.SCMStatusFailed, record.Status)
	assert.Equal(t, true, record.Metadata["escalationRequired"])
	assert.Equal(t, 2, record.Metadata["providerAttempts"])
}

func TestRunProviderWithRetry_NoProviderConfigured(t *testing.T) {
	s := newTestService(t, nil, 3)

	record := &core.SCMCommitRecord{}
	s.runProviderWithRetry(context.Background(), record, CommitRequest{Title: "t"}, "main")

	assert.Empty(t, record.Status)
	assert.NotEmpty(t, record.Metadata["providerFailure"])
}

type simpleError string

func assertError(msg string) error { return simpleError(msg) }

func (e simpleError) Error() string { return string(e) }
