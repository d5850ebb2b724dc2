package safety

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/minglr/match-relay/internal/errors"
	"github.com/minglr/match-relay/internal/identity"
	"github.com/minglr/match-relay/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}

	s, err := store.New(url)
	if err != nil {
		t.Skipf("redis unavailable, skipping: %v", err)
	}
	t.Cleanup(func() {
		s.FlushDB(context.Background())
		s.Close()
	})
	return s
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	s := testStore(t)
	rl := NewRateLimiter(s)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(context.Background(), "session-a", 3, time.Minute))
	}
	assert.False(t, rl.Allow(context.Background(), "session-a", 3, time.Minute))
}

func TestRateLimiter_IndependentIdentifiers(t *testing.T) {
	s := testStore(t)
	rl := NewRateLimiter(s)

	assert.True(t, rl.Allow(context.Background(), "session-a", 1, time.Minute))
	assert.False(t, rl.Allow(context.Background(), "session-a", 1, time.Minute))
	assert.True(t, rl.Allow(context.Background(), "session-b", 1, time.Minute))
}

func TestReportService_RejectsSelfReport(t *testing.T) {
	s := testStore(t)
	auth := identity.New(s, "test-signing-key", time.Hour, time.Hour)
	rs := NewReportService(s, auth, 24*time.Hour, 3)

	_, err := rs.File(context.Background(), "alice", "alice", "room_1", "spam", "")
	assert.Error(t, err)
	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeInvalidArgument, appErr.Code)
}

func TestReportService_AutoDisconnectThreshold(t *testing.T) {
	s := testStore(t)
	auth := identity.New(s, "test-signing-key", time.Hour, time.Hour)
	rs := NewReportService(s, auth, 24*time.Hour, 3)

	var last Submission
	for i, reporter := range []string{"alice", "carol", "dave"} {
		submission, err := rs.File(context.Background(), reporter, "bob", "room_1", "spam", "")
		require.NoError(t, err)
		if i < 2 {
			assert.False(t, submission.ShouldAutoDisconnect)
		}
		last = submission
	}
	assert.True(t, last.ShouldAutoDisconnect)
}

func TestReportService_List(t *testing.T) {
	s := testStore(t)
	auth := identity.New(s, "test-signing-key", time.Hour, time.Hour)
	rs := NewReportService(s, auth, 24*time.Hour, 3)

	_, err := rs.File(context.Background(), "alice", "bob", "room_1", "spam", "detail")
	require.NoError(t, err)

	reports, err := rs.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "alice", reports[0].ReporterSessionID)
	assert.Equal(t, "bob", reports[0].TargetSessionID)
}
