// Package harvest enumerates Hansard contribution and Parliamentary Question
// ids for a date range and enqueues them for processing. Grounded on the
// original robust_loader.py Harvester class; enqueue idempotence and the
// per-stream isolation ("one stream's failure doesn't cancel the others")
// are carried over verbatim.
package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"parliamentmcp/internal/fetcher"
	"parliamentmcp/internal/observability"
	"parliamentmcp/internal/queue"
)

// Selector chooses which upstream streams a harvest run covers.
type Selector string

const (
	SelectorAll     Selector = "all"
	SelectorHansard Selector = "hansard"
	SelectorPQs     Selector = "pqs"
)

func (s Selector) includesHansard() bool { return s == SelectorAll || s == SelectorHansard }
func (s Selector) includesPQs() bool     { return s == SelectorAll || s == SelectorPQs }

// contributionTypes are the four Hansard search endpoints paged per day.
var contributionTypes = []string{"Spoken", "Written", "Corrections", "Petitions"}

// Config points the harvester at the upstream APIs and sets its paging size.
type Config struct {
	HansardBaseURL string
	PQBaseURL      string
	PageSize       int
}

// DefaultConfig matches the upstream APIs' documented bases and a take=100 page size.
func DefaultConfig() Config {
	return Config{
		HansardBaseURL: "https://hansard-api.parliament.uk",
		PQBaseURL:      "https://questions-statements.parliament.uk/api",
		PageSize:       100,
	}
}

// Harvester enumerates upstream ids and enqueues them. It owns no retry
// policy of its own; the underlying fetcher already retries transient
// failures, so a harvest-level failure means the stream is genuinely stuck.
type Harvester struct {
	fetcher *fetcher.Fetcher
	queue   *queue.Queue
	cfg     Config
}

func New(f *fetcher.Fetcher, q *queue.Queue, cfg Config) *Harvester {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	if cfg.HansardBaseURL == "" {
		cfg.HansardBaseURL = DefaultConfig().HansardBaseURL
	}
	if cfg.PQBaseURL == "" {
		cfg.PQBaseURL = DefaultConfig().PQBaseURL
	}
	return &Harvester{fetcher: f, queue: q, cfg: cfg}
}

// Result summarizes one harvest run: how many items were newly enqueued, and
// any per-stream errors encountered (a stream's error never blocks its
// siblings).
type Result struct {
	Enqueued int
	Errors   []error
}

// Run enqueues every item visible between start and end (inclusive) for the
// streams selector names. Each (date, stream) pair runs in its own
// goroutine; a plain sync.WaitGroup is used rather than errgroup specifically
// so that one stream's error never cancels its siblings.
func (h *Harvester) Run(ctx context.Context, start, end time.Time, selector Selector) Result {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		enqueued int
		errs     []error
	)
	record := func(n int, err error) {
		mu.Lock()
		defer mu.Unlock()
		enqueued += n
		if err != nil {
			errs = append(errs, err)
		}
	}

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		date := d
		if selector.includesHansard() {
			for _, ct := range contributionTypes {
				wg.Add(1)
				contributionType := ct
				go func() {
					defer wg.Done()
					n, err := h.harvestHansardDay(ctx, date, contributionType)
					if err != nil {
						err = fmt.Errorf("hansard %s %s: %w", contributionType, date.Format("2006-01-02"), err)
					}
					record(n, err)
				}()
			}
		}
		if selector.includesPQs() {
			for _, kind := range []string{"tabled", "answered"} {
				wg.Add(1)
				pqKind := kind
				go func() {
					defer wg.Done()
					n, err := h.harvestPQDay(ctx, date, pqKind)
					if err != nil {
						err = fmt.Errorf("pq %s %s: %w", pqKind, date.Format("2006-01-02"), err)
					}
					record(n, err)
				}()
			}
		}
	}
	wg.Wait()
	return Result{Enqueued: enqueued, Errors: errs}
}

type hansardSearchResponse struct {
	TotalResultCount int               `json:"TotalResultCount"`
	Results          []json.RawMessage `json:"Results"`
}

type hansardResultIDs struct {
	ContributionExtID *string `json:"ContributionExtId"`
	ID                *int    `json:"Id"`
}

func (h *Harvester) harvestHansardDay(ctx context.Context, date time.Time, contributionType string) (int, error) {
	log := observability.LoggerWithTrace(ctx).With().
		Str("component", "harvester").Str("stream", "hansard").
		Str("type", contributionType).Str("date", date.Format("2006-01-02")).Logger()

	dateStr := date.Format("2006-01-02")
	endpoint := fmt.Sprintf("%s/search/contributions/%s.json", h.cfg.HansardBaseURL, contributionType)

	enqueued := 0
	skip := 0
	for {
		params := url.Values{
			"orderBy":   {"SittingDateAsc"},
			"startDate": {dateStr},
			"endDate":   {dateStr},
			"take":      {fmt.Sprint(h.cfg.PageSize)},
			"skip":      {fmt.Sprint(skip)},
		}
		resp, err := h.fetcher.Get(ctx, endpoint, params)
		if err != nil {
			return enqueued, err
		}
		var page hansardSearchResponse
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			return enqueued, fmt.Errorf("decode hansard search page: %w", err)
		}
		if len(page.Results) == 0 {
			break
		}
		for _, raw := range page.Results {
			var ids hansardResultIDs
			if err := json.Unmarshal(raw, &ids); err != nil {
				log.Warn().Err(err).Msg("skipping unparseable hansard result")
				continue
			}
			externalID := ""
			if ids.ContributionExtID != nil {
				externalID = *ids.ContributionExtID
			} else if ids.ID != nil {
				externalID = fmt.Sprint(*ids.ID)
			} else {
				log.Warn().Msg("hansard result has no ContributionExtId or Id, skipping")
				continue
			}
			id := fmt.Sprintf("hansard_%s", externalID)
			metadata, err := json.Marshal(map[string]any{
				"id":        externalID,
				"type":      contributionType,
				"item_data": json.RawMessage(raw),
			})
			if err != nil {
				return enqueued, fmt.Errorf("marshal metadata: %w", err)
			}
			inserted, err := h.queue.AddItem(id, queue.SourceHansard, dateStr, metadata)
			if err != nil {
				return enqueued, err
			}
			if inserted {
				enqueued++
				observability.QueueItemsEnqueued.WithLabelValues(string(queue.SourceHansard)).Inc()
			}
		}
		skip += h.cfg.PageSize
		if skip >= page.TotalResultCount {
			break
		}
	}
	log.Debug().Int("enqueued", enqueued).Msg("harvested hansard day")
	return enqueued, nil
}

type pqSearchResponse struct {
	TotalResults int `json:"totalResults"`
	Results      []struct {
		Value json.RawMessage `json:"value"`
	} `json:"results"`
}

type pqResultID struct {
	ID int `json:"id"`
}

func (h *Harvester) harvestPQDay(ctx context.Context, date time.Time, kind string) (int, error) {
	log := observability.LoggerWithTrace(ctx).With().
		Str("component", "harvester").Str("stream", "pq").
		Str("kind", kind).Str("date", date.Format("2006-01-02")).Logger()

	dateStr := date.Format("2006-01-02")
	endpoint := fmt.Sprintf("%s/writtenquestions/questions", h.cfg.PQBaseURL)

	enqueued := 0
	skip := 0
	for {
		params := url.Values{
			"take": {fmt.Sprint(h.cfg.PageSize)},
			"skip": {fmt.Sprint(skip)},
		}
		switch kind {
		case "tabled":
			params.Set("tabledWhenFrom", dateStr)
			params.Set("tabledWhenTo", dateStr)
		case "answered":
			params.Set("answeredWhenFrom", dateStr)
			params.Set("answeredWhenTo", dateStr)
		}

		resp, err := h.fetcher.Get(ctx, endpoint, params)
		if err != nil {
			return enqueued, err
		}
		var page pqSearchResponse
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			return enqueued, fmt.Errorf("decode pq search page: %w", err)
		}
		if len(page.Results) == 0 {
			break
		}
		for _, result := range page.Results {
			var ids pqResultID
			if err := json.Unmarshal(result.Value, &ids); err != nil {
				log.Warn().Err(err).Msg("skipping unparseable pq result")
				continue
			}
			id := fmt.Sprintf("pq_%d", ids.ID)
			metadata, err := json.Marshal(map[string]any{
				"id":   ids.ID,
				"type": kind,
			})
			if err != nil {
				return enqueued, fmt.Errorf("marshal metadata: %w", err)
			}
			inserted, err := h.queue.AddItem(id, queue.SourcePQ, dateStr, metadata)
			if err != nil {
				return enqueued, err
			}
			if inserted {
				enqueued++
				observability.QueueItemsEnqueued.WithLabelValues(string(queue.SourcePQ)).Inc()
			}
		}
		skip += h.cfg.PageSize
		if skip >= page.TotalResults {
			break
		}
	}
	log.Debug().Int("enqueued", enqueued).Msg("harvested pq day")
	return enqueued, nil
}
