// Package process drains the work queue, hydrates full records, resolves
// Hansard debate hierarchy, chunks and embeds the result, and upserts points
// to the vector store. Grounded on the original robust_loader.py Processor
// class, including its debate-parent tree walk over the Hansard overview
// API and its batch-fails-together error policy.
package process

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"parliamentmcp/internal/chunk"
	"parliamentmcp/internal/embedding"
	"parliamentmcp/internal/fetcher"
	"parliamentmcp/internal/observability"
	"parliamentmcp/internal/queue"
	"parliamentmcp/internal/records"
	"parliamentmcp/internal/vectorstore"
)

// Config controls batch size, chunking, and upstream endpoints.
type Config struct {
	BatchSize      int
	HansardBaseURL string
	PQBaseURL      string
	ChunkOptions   chunk.Options

	HansardContributionsCollection   string
	ParliamentaryQuestionsCollection string

	UpsertSubBatchSize int
}

func DefaultConfig() Config {
	return Config{
		BatchSize:          50,
		HansardBaseURL:     "https://hansard-api.parliament.uk",
		PQBaseURL:          "https://questions-statements.parliament.uk/api",
		ChunkOptions:       chunk.DefaultOptions(),
		UpsertSubBatchSize: 100,
	}
}

// DenseEmbedderAPI is the subset of *embedding.DenseEmbedder the processor
// needs; an interface so tests can substitute a fake embedder.
type DenseEmbedderAPI interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorUpserter is the subset of *vectorstore.Store the processor needs.
type VectorUpserter interface {
	Upsert(ctx context.Context, collection string, points []vectorstore.Point) error
}

// Processor wires the fetcher, embedders, vector store, and queue together.
type Processor struct {
	fetcher *fetcher.Fetcher
	queue   *queue.Queue
	dense   DenseEmbedderAPI
	store   VectorUpserter
	cfg     Config

	overviewMu    sync.Mutex
	overviewCache map[string]map[int]overviewSection
}

func New(f *fetcher.Fetcher, q *queue.Queue, dense DenseEmbedderAPI, store VectorUpserter, cfg Config) *Processor {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.HansardBaseURL == "" {
		cfg.HansardBaseURL = def.HansardBaseURL
	}
	if cfg.PQBaseURL == "" {
		cfg.PQBaseURL = def.PQBaseURL
	}
	if cfg.ChunkOptions.MaxWords == 0 {
		cfg.ChunkOptions = def.ChunkOptions
	}
	if cfg.UpsertSubBatchSize <= 0 {
		cfg.UpsertSubBatchSize = def.UpsertSubBatchSize
	}
	return &Processor{
		fetcher:       f,
		queue:         q,
		dense:         dense,
		store:         store,
		cfg:           cfg,
		overviewCache: map[string]map[int]overviewSection{},
	}
}

// chunkRef ties one generated ChunkDict back to the queue item and collection
// it belongs to, so completion/failure can be reported per owning item.
type chunkRef struct {
	records.ChunkDict
	ownerID    string
	collection string
}

// RunOnce drains a single batch of up to cfg.BatchSize PENDING items,
// returning how many were claimed (0 means the queue is empty).
func (p *Processor) RunOnce(ctx context.Context) (int, error) {
	log := observability.LoggerWithTrace(ctx).With().Str("component", "processor").Logger()

	items, err := p.queue.GetPendingBatch(p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("get pending batch: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}
	timer := prometheus.NewTimer(observability.BatchDuration)
	defer timer.ObserveDuration()

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	if err := p.queue.MarkProcessing(ids); err != nil {
		return 0, fmt.Errorf("mark processing: %w", err)
	}

	var hansardItems, pqItems []queue.Item
	for _, it := range items {
		switch it.SourceType {
		case queue.SourceHansard:
			hansardItems = append(hansardItems, it)
		case queue.SourcePQ:
			pqItems = append(pqItems, it)
		}
	}

	var refs []chunkRef
	ownedByID := map[string]bool{}
	sourceOf := map[string]queue.SourceType{}

	for _, it := range hansardItems {
		contribution, err := p.hydrateHansard(ctx, it)
		if err != nil {
			log.Warn().Err(err).Str("id", it.ID).Msg("hansard item failed validation")
			if markErr := p.queue.MarkFailed(it.ID, err.Error()); markErr != nil {
				return len(items), fmt.Errorf("mark failed %s: %w", it.ID, markErr)
			}
			observability.QueueItemsFailed.WithLabelValues(string(queue.SourceHansard)).Inc()
			continue
		}
		ownedByID[it.ID] = true
		sourceOf[it.ID] = queue.SourceHansard
		for _, c := range contribution.ToChunks(func(text string) []string { return chunk.Sentence(text, p.cfg.ChunkOptions) }) {
			refs = append(refs, chunkRef{ChunkDict: c, ownerID: it.ID, collection: p.cfg.HansardContributionsCollection})
		}
	}

	for _, it := range pqItems {
		pq, err := p.hydratePQ(ctx, it)
		if err != nil {
			log.Warn().Err(err).Str("id", it.ID).Msg("pq item failed")
			if markErr := p.queue.MarkFailed(it.ID, err.Error()); markErr != nil {
				return len(items), fmt.Errorf("mark failed %s: %w", it.ID, markErr)
			}
			observability.QueueItemsFailed.WithLabelValues(string(queue.SourcePQ)).Inc()
			continue
		}
		ownedByID[it.ID] = true
		sourceOf[it.ID] = queue.SourcePQ
		for _, c := range pq.ToChunks(func(text string) []string { return chunk.Sentence(text, p.cfg.ChunkOptions) }) {
			refs = append(refs, chunkRef{ChunkDict: c, ownerID: it.ID, collection: p.cfg.ParliamentaryQuestionsCollection})
		}
	}

	if len(ownedByID) == 0 {
		// Every claimed item failed hydration individually; nothing to embed
		// or upsert, and the batch itself did not fail.
		return len(items), nil
	}

	if err := p.embedAndUpsert(ctx, refs); err != nil {
		log.Error().Err(err).Msg("batch upsert failed, failing all claimed items")
		for id := range ownedByID {
			if markErr := p.queue.MarkFailed(id, err.Error()); markErr != nil {
				return len(items), fmt.Errorf("mark failed %s: %w", id, markErr)
			}
			observability.QueueItemsFailed.WithLabelValues(string(sourceOf[id])).Inc()
		}
		return len(items), nil
	}

	completedIDs := make([]string, 0, len(ownedByID))
	for id := range ownedByID {
		completedIDs = append(completedIDs, id)
		observability.QueueItemsCompleted.WithLabelValues(string(sourceOf[id])).Inc()
	}
	if err := p.queue.MarkCompleted(completedIDs); err != nil {
		return len(items), fmt.Errorf("mark completed: %w", err)
	}
	log.Info().Int("claimed", len(items)).Int("completed", len(completedIDs)).Int("chunks", len(refs)).Msg("batch processed")
	return len(items), nil
}

// RunLoop drains batches until limit batches have run (limit <= 0 means
// unlimited) or ctx is cancelled; when the queue is empty it waits 30
// seconds and checks again. A cancelled context leaves the in-flight
// batch's items PROCESSING; they are swept back to PENDING by a subsequent
// reset.
func (p *Processor) RunLoop(ctx context.Context, limit int) error {
	batches := 0
	for {
		if limit > 0 && batches >= limit {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		claimed, err := p.RunOnce(ctx)
		if err != nil {
			return err
		}
		if claimed == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(30 * time.Second):
			}
			continue
		}
		batches++
	}
}

type hansardMetadata struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	ItemData json.RawMessage `json:"item_data"`
}

func (p *Processor) hydrateHansard(ctx context.Context, item queue.Item) (*records.Contribution, error) {
	var meta hansardMetadata
	if err := json.Unmarshal(item.Metadata, &meta); err != nil {
		return nil, fmt.Errorf("decode queue metadata: %w", err)
	}
	contribution, err := records.DecodeContribution(meta.ItemData)
	if err != nil {
		return nil, err
	}
	if contribution.SittingDate != nil && contribution.House != nil && contribution.DebateSectionExtID != nil {
		parents, err := p.resolveDebateParents(ctx, contribution.SittingDate.Format("2006-01-02"), *contribution.House, *contribution.DebateSectionExtID)
		if err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("id", item.ID).Msg("debate parent resolution failed, continuing without hierarchy")
		} else {
			contribution.DebateParents = parents
		}
	}
	return contribution, nil
}

type pqMetadata struct {
	ID int `json:"id"`
}

func (p *Processor) hydratePQ(ctx context.Context, item queue.Item) (*records.ParliamentaryQuestion, error) {
	var meta pqMetadata
	if err := json.Unmarshal(item.Metadata, &meta); err != nil {
		return nil, fmt.Errorf("decode queue metadata: %w", err)
	}
	endpoint := fmt.Sprintf("%s/writtenquestions/questions/%s", p.cfg.PQBaseURL, strconv.Itoa(meta.ID))
	resp, err := p.fetcher.Get(ctx, endpoint, url.Values{"expandMember": {"true"}})
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(resp.Body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode pq detail response: %w", err)
	}
	return records.DecodePQ(wrapper.Value)
}

// embedAndUpsert computes dense+sparse vectors for every chunk and upserts
// them to their owning collection. Any failure here is a whole-batch
// failure; the caller marks every owning item FAILED.
func (p *Processor) embedAndUpsert(ctx context.Context, refs []chunkRef) error {
	if len(refs) == 0 {
		return nil
	}

	texts := make([]string, len(refs))
	for i, r := range refs {
		texts[i] = r.Text
	}

	sparse := embedding.NewSparseEmbedder()
	for _, t := range texts {
		sparse.Observe(t)
	}

	dense, err := p.dense.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(dense) != len(refs) {
		return fmt.Errorf("embedding returned %d vectors for %d chunks", len(dense), len(refs))
	}

	byCollection := map[string][]vectorstore.Point{}
	for i, r := range refs {
		sv := sparse.Embed(r.Text)
		payload := make(map[string]any, len(r.Payload)+3)
		for k, v := range r.Payload {
			payload[k] = v
		}
		payload["text"] = r.Text
		payload["chunk_type"] = r.ChunkType
		payload["chunk_id"] = r.ChunkID

		byCollection[r.collection] = append(byCollection[r.collection], vectorstore.Point{
			ID:      r.ChunkID,
			Dense:   dense[i],
			Sparse:  vectorstore.SparseVector{Indices: sv.Indices, Values: sv.Values},
			Payload: payload,
		})
	}

	for collection, points := range byCollection {
		for start := 0; start < len(points); start += p.cfg.UpsertSubBatchSize {
			end := start + p.cfg.UpsertSubBatchSize
			if end > len(points) {
				end = len(points)
			}
			if err := p.store.Upsert(ctx, collection, points[start:end]); err != nil {
				return fmt.Errorf("upsert to %s: %w", collection, err)
			}
		}
	}
	return nil
}

// overviewSection is one node of a sitting day's debate-section tree, as
// returned by the Hansard overview API.
type overviewSection struct {
	ID         int    `json:"Id"`
	Title      string `json:"Title"`
	ParentID   *int   `json:"ParentId"`
	ExternalID string `json:"ExternalId"`
}

// resolveDebateParents fetches (and caches) a sitting day's section tree,
// locates the section matching debateSectionExtID, and walks the ParentID
// chain upward, returning the ancestor chain ordered root to leaf.
func (p *Processor) resolveDebateParents(ctx context.Context, date, house, debateSectionExtID string) ([]records.DebateParent, error) {
	sections, err := p.overviewSections(ctx, date, house)
	if err != nil {
		return nil, err
	}

	var leaf *overviewSection
	for id := range sections {
		s := sections[id]
		if s.ExternalID == debateSectionExtID {
			leaf = &s
			break
		}
	}
	if leaf == nil {
		return nil, fmt.Errorf("debate section %s not found in overview for %s %s", debateSectionExtID, house, date)
	}

	var chain []records.DebateParent
	cur := leaf
	for cur != nil {
		chain = append(chain, records.DebateParent{ID: cur.ID, Title: cur.Title, ParentID: cur.ParentID, ExternalID: cur.ExternalID})
		if cur.ParentID == nil {
			break
		}
		next, ok := sections[*cur.ParentID]
		if !ok {
			break
		}
		cur = &next
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func (p *Processor) overviewSections(ctx context.Context, date, house string) (map[int]overviewSection, error) {
	key := date + "|" + house

	p.overviewMu.Lock()
	if cached, ok := p.overviewCache[key]; ok {
		p.overviewMu.Unlock()
		return cached, nil
	}
	p.overviewMu.Unlock()

	endpoint := fmt.Sprintf("%s/overview/sectionsforday.json", p.cfg.HansardBaseURL)
	resp, err := p.fetcher.Get(ctx, endpoint, url.Values{"date": {date}, "house": {house}})
	if err != nil {
		return nil, fmt.Errorf("fetch overview: %w", err)
	}
	var list []overviewSection
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return nil, fmt.Errorf("decode overview: %w", err)
	}
	byID := make(map[int]overviewSection, len(list))
	for _, s := range list {
		byID[s.ID] = s
	}

	p.overviewMu.Lock()
	p.overviewCache[key] = byID
	p.overviewMu.Unlock()
	return byID, nil
}
