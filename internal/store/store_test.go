package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bluenoise/internal/sampling"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRun(id string, created time.Time) Run {
	cfg := sampling.Config{Width: 100, Height: 50, MinDistance: 10, MaxAttempts: 30, Seed: 4, Rounding: sampling.RoundFloor}
	return Run{
		ID:        id,
		CreatedAt: created,
		Config:    cfg,
		Seed:      4,
		Trials:    321,
		Duration:  1500 * time.Microsecond,
		Points:    []sampling.Point{{X: 50, Y: 25}, {X: 61, Y: 30}, {X: 39.5, Y: 14}},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Unix(1700000000, 0)
	require.NoError(t, s.SaveRun(ctx, testRun("r1", created)))

	got, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.Equal(t, sampling.RoundFloor, got.Config.Rounding)
	assert.Equal(t, int64(4), got.Config.Seed)
	assert.Equal(t, uint64(321), got.Trials)
	assert.Equal(t, 3, got.Count)
	assert.Equal(t, 1500*time.Microsecond, got.Duration)
	assert.Equal(t, StatusDone, got.Status)
	assert.Equal(t, []sampling.Point{{X: 50, Y: 25}, {X: 61, Y: 30}, {X: 39.5, Y: 14}}, got.Points)
}

func TestGetRunNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveRunRejectsDuplicateID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, testRun("dup", time.Now())))
	assert.Error(t, s.SaveRun(ctx, testRun("dup", time.Now())))

	// the failed insert rolled back; the original points are intact
	got, err := s.GetRun(ctx, "dup")
	require.NoError(t, err)
	assert.Len(t, got.Points, 3)
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	for i, id := range []string{"a", "b", "c"} {
		run := testRun(id, base.Add(time.Duration(i)*time.Minute))
		if id == "b" {
			run.Status = StatusCancelled
		}
		require.NoError(t, s.SaveRun(ctx, run))
	}

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
	assert.Equal(t, StatusCancelled, runs[1].Status)
	assert.Nil(t, runs[0].Points)
}

func TestDeleteRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, testRun("gone", time.Now())))
	require.NoError(t, s.DeleteRun(ctx, "gone"))

	_, err := s.GetRun(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteRun(ctx, "gone"), ErrNotFound)
}

func TestSaveRunRequiresID(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.SaveRun(context.Background(), Run{}))
}
