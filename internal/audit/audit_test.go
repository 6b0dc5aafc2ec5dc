package audit

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

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

func TestCheckDayReportsIncompleteWhenWorkInFlight(t *testing.T) {
	q := openTestQueue(t)
	_, err := q.AddItem("hansard_1", queue.SourceHansard, "2024-07-18", nil)
	require.NoError(t, err)

	a := New(fetcher.New(fetcher.DefaultConfig()), q, DefaultConfig())
	report, err := a.CheckDay(t.Context(), "2024-07-18", queue.SourceHansard)
	require.NoError(t, err)
	assert.Equal(t, StatusIncomplete, report.Status)
}

func TestCheckDayReportsOKWhenAllCompleted(t *testing.T) {
	q := openTestQueue(t)
	_, err := q.AddItem("hansard_1", queue.SourceHansard, "2024-07-18", nil)
	require.NoError(t, err)
	require.NoError(t, q.MarkProcessing([]string{"hansard_1"}))
	require.NoError(t, q.MarkCompleted([]string{"hansard_1"}))

	a := New(fetcher.New(fetcher.DefaultConfig()), q, DefaultConfig())
	report, err := a.CheckDay(t.Context(), "2024-07-18", queue.SourceHansard)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, report.Status)
}

func TestCheckDayReportsMissingWhenUpstreamHasRecordsButLocalIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"TotalResultCount": 5, "Results": []}`))
	}))
	defer server.Close()

	q := openTestQueue(t)
	a := New(fetcher.New(fetcher.DefaultConfig()), q, Config{HansardBaseURL: server.URL})
	report, err := a.CheckDay(t.Context(), "2024-07-18", queue.SourceHansard)
	require.NoError(t, err)
	assert.Equal(t, StatusMissing, report.Status)
	assert.Equal(t, 20, report.UpstreamTotal) // 5 per contribution type x 4 types
}

func TestCheckDayReportsOKWhenEmptyDayUpstreamToo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"TotalResultCount": 0, "Results": []}`))
	}))
	defer server.Close()

	q := openTestQueue(t)
	a := New(fetcher.New(fetcher.DefaultConfig()), q, Config{HansardBaseURL: server.URL})
	report, err := a.CheckDay(t.Context(), "2024-12-25", queue.SourceHansard)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, report.Status)
	assert.Equal(t, 0, report.UpstreamTotal)
}
