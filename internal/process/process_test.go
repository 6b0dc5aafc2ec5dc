package process

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parliamentmcp/internal/chunk"
	"parliamentmcp/internal/fetcher"
	"parliamentmcp/internal/queue"
	"parliamentmcp/internal/records"
	"parliamentmcp/internal/vectorstore"
)

type fakeDenseEmbedder struct{ dim int }

func (f fakeDenseEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, f.dim)
		vec[0] = float32(i + 1)
		out[i] = vec
	}
	return out, nil
}

type fakeStore struct {
	mu     sync.Mutex
	points map[string][]vectorstore.Point
	fail   bool
}

func newFakeStore() *fakeStore { return &fakeStore{points: map[string][]vectorstore.Point{}} }

func (f *fakeStore) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	if f.fail {
		return assert.AnError
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[collection] = append(f.points[collection], points...)
	return nil
}

func openTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func hansardMetadataJSON(t *testing.T, contributionText string) json.RawMessage {
	t.Helper()
	item := map[string]any{
		"ContributionExtId":     "ext-1",
		"DebateSectionExtId":    "debate-1",
		"ContributionTextFull":  contributionText,
		"OrderInDebateSection":  1,
	}
	itemRaw, err := json.Marshal(item)
	require.NoError(t, err)
	meta, err := json.Marshal(map[string]any{"id": "ext-1", "type": "Spoken", "item_data": json.RawMessage(itemRaw)})
	require.NoError(t, err)
	return meta
}

func TestRunOnceCompletesValidHansardBatch(t *testing.T) {
	q := openTestQueue(t)
	meta := hansardMetadataJSON(t, "The minister rose to answer the question about housing policy in full detail today.")
	inserted, err := q.AddItem("hansard_ext-1", queue.SourceHansard, "2024-07-18", meta)
	require.NoError(t, err)
	require.True(t, inserted)

	store := newFakeStore()
	cfg := DefaultConfig()
	cfg.HansardContributionsCollection = "hansard"
	cfg.ParliamentaryQuestionsCollection = "pq"
	cfg.ChunkOptions = chunk.Options{MaxWords: 300, Overlap: 1}

	p := New(fetcher.New(fetcher.DefaultConfig()), q, fakeDenseEmbedder{dim: 4}, store, cfg)

	claimed, err := p.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats[queue.StatusCompleted])
	assert.Equal(t, 0, stats[queue.StatusFailed])
	assert.NotEmpty(t, store.points["hansard"])
}

func TestRunOnceFailsItemWithUnknownField(t *testing.T) {
	q := openTestQueue(t)
	itemRaw, err := json.Marshal(map[string]any{"ContributionExtId": "ext-2", "NotARealField": true})
	require.NoError(t, err)
	meta, err := json.Marshal(map[string]any{"id": "ext-2", "type": "Spoken", "item_data": json.RawMessage(itemRaw)})
	require.NoError(t, err)
	_, err = q.AddItem("hansard_ext-2", queue.SourceHansard, "2024-07-18", meta)
	require.NoError(t, err)

	store := newFakeStore()
	p := New(fetcher.New(fetcher.DefaultConfig()), q, fakeDenseEmbedder{dim: 4}, store, DefaultConfig())

	claimed, err := p.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats[queue.StatusFailed])
	assert.Equal(t, 0, stats[queue.StatusCompleted])
}

func TestRunOnceBatchUpsertFailureFailsAllClaimedItems(t *testing.T) {
	q := openTestQueue(t)
	for i, text := range []string{"alpha", "beta"} {
		meta := hansardMetadataJSON(t, text+" has enough words to form a sentence chunk for testing purposes today.")
		_, err := q.AddItem("hansard_ext-"+string(rune('a'+i)), queue.SourceHansard, "2024-07-18", meta)
		require.NoError(t, err)
	}

	store := newFakeStore()
	store.fail = true
	cfg := DefaultConfig()
	cfg.HansardContributionsCollection = "hansard"
	cfg.ParliamentaryQuestionsCollection = "pq"
	p := New(fetcher.New(fetcher.DefaultConfig()), q, fakeDenseEmbedder{dim: 4}, store, cfg)

	claimed, err := p.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, claimed)

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats[queue.StatusFailed])
}

func TestRunOnceEmptyQueueReturnsZero(t *testing.T) {
	q := openTestQueue(t)
	store := newFakeStore()
	p := New(fetcher.New(fetcher.DefaultConfig()), q, fakeDenseEmbedder{dim: 4}, store, DefaultConfig())

	claimed, err := p.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, claimed)
}

func TestRunOnceResolvesDebateParentsFromOverviewAPI(t *testing.T) {
	overviewServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"Id": 1, "Title": "Main Debate", "ParentId": null, "ExternalId": "root-ext"},
			{"Id": 2, "Title": "Sub Debate", "ParentId": 1, "ExternalId": "debate-1"}
		]`))
	}))
	defer overviewServer.Close()

	q := openTestQueue(t)
	itemRaw, err := json.Marshal(map[string]any{
		"ContributionExtId":    "ext-3",
		"DebateSectionExtId":   "debate-1",
		"SittingDate":          "2024-07-18T00:00:00Z",
		"House":                "Commons",
		"ContributionTextFull": "A sufficiently long contribution about housing policy to produce a chunk.",
		"OrderInDebateSection": 1,
	})
	require.NoError(t, err)
	meta, err := json.Marshal(map[string]any{"id": "ext-3", "type": "Spoken", "item_data": json.RawMessage(itemRaw)})
	require.NoError(t, err)
	_, err = q.AddItem("hansard_ext-3", queue.SourceHansard, "2024-07-18", meta)
	require.NoError(t, err)

	store := newFakeStore()
	cfg := DefaultConfig()
	cfg.HansardBaseURL = overviewServer.URL
	cfg.HansardContributionsCollection = "hansard"
	cfg.ParliamentaryQuestionsCollection = "pq"

	p := New(fetcher.New(fetcher.DefaultConfig()), q, fakeDenseEmbedder{dim: 4}, store, cfg)
	claimed, err := p.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)

	require.NotEmpty(t, store.points["hansard"])
	payload := store.points["hansard"][0].Payload
	parents, ok := payload["debate_parents"].([]records.DebateParent)
	require.True(t, ok)
	require.Len(t, parents, 2)
	assert.Equal(t, "Main Debate", parents[0].Title)
	assert.Equal(t, "Sub Debate", parents[1].Title)
}
