package harvest

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parliamentmcp/internal/fetcher"
	"parliamentmcp/internal/queue"
)

func openTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestHarvestHansardDaySinglePage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"TotalResultCount": 2,
			"Results": [
				{"ContributionExtId": "abc123", "House": "Commons"},
				{"ContributionExtId": "def456", "House": "Commons"}
			]
		}`))
	}))
	defer server.Close()

	q := openTestQueue(t)
	h := New(fetcher.New(fetcher.DefaultConfig()), q, Config{HansardBaseURL: server.URL, PageSize: 100})

	date := time.Date(2024, 7, 18, 0, 0, 0, 0, time.UTC)
	result := h.Run(t.Context(), date, date, SelectorHansard)

	require.Empty(t, result.Errors)
	// every contribution-type endpoint returns the same two ids, so the
	// queue keeps one row per id rather than one per type
	assert.Equal(t, 2, result.Enqueued)

	stats, err := q.DailyStats("2024-07-18", queue.SourceHansard)
	require.NoError(t, err)
	assert.Equal(t, 2, stats[queue.StatusPending])
}

func TestHarvestHansardDayIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"TotalResultCount": 1,
			"Results": [{"ContributionExtId": "abc123", "House": "Commons"}]
		}`))
	}))
	defer server.Close()

	q := openTestQueue(t)
	h := New(fetcher.New(fetcher.DefaultConfig()), q, Config{HansardBaseURL: server.URL, PageSize: 100})

	date := time.Date(2024, 7, 18, 0, 0, 0, 0, time.UTC)
	first := h.Run(t.Context(), date, date, SelectorHansard)
	second := h.Run(t.Context(), date, date, SelectorHansard)

	require.Empty(t, first.Errors)
	require.Empty(t, second.Errors)
	assert.Equal(t, 1, first.Enqueued) // same id from all four type endpoints
	assert.Equal(t, 0, second.Enqueued)
}

func TestHarvestPQDayPagesUntilExhausted(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		skip := r.URL.Query().Get("skip")
		if skip == "0" {
			_, _ = w.Write([]byte(`{"totalResults": 2, "results": [{"value": {"id": 1}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"totalResults": 2, "results": [{"value": {"id": 2}}]}`))
	}))
	defer server.Close()

	q := openTestQueue(t)
	h := New(fetcher.New(fetcher.DefaultConfig()), q, Config{PQBaseURL: server.URL, PageSize: 1})

	date := time.Date(2024, 7, 18, 0, 0, 0, 0, time.UTC)
	result := h.Run(t.Context(), date, date, SelectorPQs)

	require.Empty(t, result.Errors)
	assert.Equal(t, 2, result.Enqueued) // 2 ids; the answered stream returns the same ids as the tabled one

	stats, err := q.DailyStats("2024-07-18", queue.SourcePQ)
	require.NoError(t, err)
	assert.Equal(t, 2, stats[queue.StatusPending])
}

func TestHarvestOneStreamFailureDoesNotBlockOthers(t *testing.T) {
	hansardServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer hansardServer.Close()

	pqServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"totalResults": 1, "results": [{"value": {"id": 99}}]}`))
	}))
	defer pqServer.Close()

	q := openTestQueue(t)
	cfg := Config{HansardBaseURL: hansardServer.URL, PQBaseURL: pqServer.URL, PageSize: 100}
	h := New(fetcher.New(fetcher.Config{RequestsPerSecond: 100, MaxRetries: 0}), q, cfg)

	date := time.Date(2024, 7, 18, 0, 0, 0, 0, time.UTC)
	result := h.Run(t.Context(), date, date, SelectorAll)

	assert.NotEmpty(t, result.Errors)
	assert.Equal(t, 1, result.Enqueued) // both pq streams succeed despite hansard failing, and share id 99
}
