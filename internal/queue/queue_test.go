package queue

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(filepath.Join(t.TempDir(), "loader_state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestAddItemIsIdempotent(t *testing.T) {
	q := openTestQueue(t)

	inserted, err := q.AddItem("hansard_1", SourceHansard, "2024-01-01", nil)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = q.AddItem("hansard_1", SourceHansard, "2024-01-01", nil)
	require.NoError(t, err)
	require.False(t, inserted)

	stats, err := q.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, stats[StatusPending])
}

func TestLifecycleTransitions(t *testing.T) {
	q := openTestQueue(t)

	_, err := q.AddItem("pq_1", SourcePQ, "2024-01-02", nil)
	require.NoError(t, err)
	_, err = q.AddItem("pq_2", SourcePQ, "2024-01-02", nil)
	require.NoError(t, err)

	batch, err := q.GetPendingBatch(10)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	ids := []string{batch[0].ID, batch[1].ID}
	require.NoError(t, q.MarkProcessing(ids))

	stats, err := q.Stats()
	require.NoError(t, err)
	require.Equal(t, 2, stats[StatusProcessing])

	require.NoError(t, q.MarkCompleted(ids[:1]))
	require.NoError(t, q.MarkFailed(ids[1], "boom"))

	stats, err = q.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, stats[StatusCompleted])
	require.Equal(t, 1, stats[StatusFailed])

	n, err := q.RetryFailed()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	stats, err = q.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, stats[StatusPending])
}

func TestResetProcessingRecoversFromCrash(t *testing.T) {
	q := openTestQueue(t)
	_, err := q.AddItem("hansard_7", SourceHansard, "2024-02-01", nil)
	require.NoError(t, err)
	require.NoError(t, q.MarkProcessing([]string{"hansard_7"}))

	n, err := q.ResetProcessing()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	stats, err := q.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, stats[StatusPending])
}

func TestPendingBatchOrderedByDateThenID(t *testing.T) {
	q := openTestQueue(t)
	_, _ = q.AddItem("hansard_2", SourceHansard, "2024-01-02", nil)
	_, _ = q.AddItem("hansard_1", SourceHansard, "2024-01-01", nil)
	_, _ = q.AddItem("hansard_3", SourceHansard, "2024-01-01", nil)

	batch, err := q.GetPendingBatch(10)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	require.Equal(t, []string{"hansard_1", "hansard_3", "hansard_2"}, []string{batch[0].ID, batch[1].ID, batch[2].ID})
}
