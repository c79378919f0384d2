package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tillpos/internal/domain"
)

func TestAppendSyncLog_AssignsSeqAndIgnoresDuplicates(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq1, err := s.AppendSyncLog(ctx, createTestEntry("e-1", "st-1", domain.DataTypeSales, domain.ActionCreate))
	require.NoError(t, err)
	seq2, err := s.AppendSyncLog(ctx, createTestEntry("e-2", "sh-1", domain.DataTypeShifts, domain.ActionUpdate))
	require.NoError(t, err)
	assert.Less(t, seq1, seq2)

	again, err := s.AppendSyncLog(ctx, createTestEntry("e-1", "st-1", domain.DataTypeSales, domain.ActionCreate))
	require.NoError(t, err)
	assert.Equal(t, seq1, again)

	n, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAppendSyncLog_RejectsUnknownDataType(t *testing.T) {
	s := createTestStore(t)
	_, err := s.AppendSyncLog(context.Background(), createTestEntry("e-1", "x", "menus", domain.ActionCreate))
	assert.Error(t, err)
}

func TestPendingSyncLog_OrderAndLimit(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"e-1", "e-2", "e-3"} {
		_, err := s.AppendSyncLog(ctx, createTestEntry(id, "r-"+id, domain.DataTypeSales, domain.ActionCreate))
		require.NoError(t, err)
	}

	batch, err := s.PendingSyncLog(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "e-1", batch[0].ID)
	assert.Equal(t, "e-2", batch[1].ID)
	assert.JSONEq(t, `{"id":"r-e-1"}`, string(batch[0].Payload))
	assert.Nil(t, batch[0].SentAt)
}

func TestMarkSent_OnlyTouchesGivenEntries(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"e-1", "e-2", "e-3"} {
		_, err := s.AppendSyncLog(ctx, createTestEntry(id, "r-"+id, domain.DataTypeSales, domain.ActionCreate))
		require.NoError(t, err)
	}

	n, err := s.MarkSent(ctx, []string{"e-1", "e-2"}, testEpoch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// re-marking keeps the original acknowledgement time
	n, err = s.MarkSent(ctx, []string{"e-1"}, testEpoch.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	pending, err := s.PendingSyncLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "e-3", pending[0].ID)

	all, err := s.SyncLog(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.NotNil(t, all[0].SentAt)
	assert.True(t, all[0].SentAt.Equal(testEpoch))
}

func TestPruneSyncLog_KeepsUnsent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"e-1", "e-2", "e-3"} {
		_, err := s.AppendSyncLog(ctx, createTestEntry(id, "r-"+id, domain.DataTypeSales, domain.ActionCreate))
		require.NoError(t, err)
	}
	_, err := s.MarkSent(ctx, []string{"e-1"}, testEpoch)
	require.NoError(t, err)
	_, err = s.MarkSent(ctx, []string{"e-2"}, testEpoch.Add(48*time.Hour))
	require.NoError(t, err)

	n, err := s.PruneSyncLog(ctx, testEpoch.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	all, err := s.SyncLog(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "e-2", all[0].ID)
	assert.Equal(t, "e-3", all[1].ID)
}

func TestTimeLayout_SortsLexically(t *testing.T) {
	a := formatTime(time.Date(2026, 1, 1, 0, 0, 5, 0, time.UTC))
	b := formatTime(time.Date(2026, 1, 1, 0, 0, 5, 500_000_000, time.UTC))
	assert.Less(t, a, b)

	parsed, err := parseTime(b)
	require.NoError(t, err)
	assert.Equal(t, 500_000_000, parsed.Nanosecond())
}

func TestLastSyncSeq_SurvivesPrune(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq, err := s.LastSyncSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq)

	_, err = s.AppendSyncLog(ctx, createTestEntry("e-1", "st-1", domain.DataTypeSales, domain.ActionCreate))
	require.NoError(t, err)
	_, err = s.AppendSyncLog(ctx, createTestEntry("e-2", "st-2", domain.DataTypeSales, domain.ActionCreate))
	require.NoError(t, err)
	_, err = s.MarkSent(ctx, []string{"e-1", "e-2"}, testEpoch)
	require.NoError(t, err)
	_, err = s.PruneSyncLog(ctx, testEpoch.Add(time.Hour))
	require.NoError(t, err)

	seq, err = s.LastSyncSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)
}

func TestSyncLease(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ttl := time.Minute

	ok, err := s.AcquireSyncLease(ctx, "daemon", testEpoch, ttl)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireSyncLease(ctx, "cli", testEpoch.Add(30*time.Second), ttl)
	require.NoError(t, err)
	assert.False(t, ok, "a live lease excludes other owners")

	ok, err = s.AcquireSyncLease(ctx, "daemon", testEpoch.Add(50*time.Second), ttl)
	require.NoError(t, err)
	assert.True(t, ok, "the holder renews")

	ok, err = s.AcquireSyncLease(ctx, "cli", testEpoch.Add(90*time.Second), ttl)
	require.NoError(t, err)
	assert.False(t, ok, "renewal moved the expiry")

	ok, err = s.AcquireSyncLease(ctx, "cli", testEpoch.Add(3*time.Minute), ttl)
	require.NoError(t, err)
	assert.True(t, ok, "an expired lease is taken over")

	require.NoError(t, s.ReleaseSyncLease(ctx, "daemon"), "releasing a lost lease is a no-op")
	ok, err = s.AcquireSyncLease(ctx, "daemon", testEpoch.Add(3*time.Minute), ttl)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.ReleaseSyncLease(ctx, "cli"))
	ok, err = s.AcquireSyncLease(ctx, "daemon", testEpoch.Add(3*time.Minute), ttl)
	require.NoError(t, err)
	assert.True(t, ok)
}
