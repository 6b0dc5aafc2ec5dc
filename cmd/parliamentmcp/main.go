// Command parliamentmcp operates the Hansard/Parliamentary Questions
// ingestion pipeline: schema setup, harvesting, processing, and auditing.
// Each subcommand is a thin wrapper around the corresponding internal
// package; see internal/harvest, internal/process, internal/audit.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parliamentmcp/internal/audit"
	"parliamentmcp/internal/config"
	"parliamentmcp/internal/embedding"
	"parliamentmcp/internal/fetcher"
	"parliamentmcp/internal/harvest"
	"parliamentmcp/internal/observability"
	"parliamentmcp/internal/process"
	"parliamentmcp/internal/queue"
	"parliamentmcp/internal/vectorstore"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "init-db":
		runInitDB(ctx, cfg)
	case "harvest":
		runHarvest(ctx, cfg, os.Args[2:])
	case "process":
		runProcess(ctx, cfg, os.Args[2:])
	case "reset":
		runReset(cfg)
	case "retry-failed":
		runRetryFailed(cfg)
	case "audit":
		runAudit(ctx, cfg, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: parliamentmcp <command> [flags]

commands:
  init-db                                    create vector store collections and indexes
  harvest -start-date D -end-date D [-type all|hansard|pqs]
  process [-batch-size N] [-loop] [-limit N] [-metrics-addr :PORT]
  reset                                      sweep PROCESSING items back to PENDING
  retry-failed                               sweep FAILED items back to PENDING
  audit -start-date D -end-date D [-type all|hansard|pqs]`)
}

func openQueue(cfg config.Settings) *queue.Queue {
	q, err := queue.Open(cfg.QueueDBPath)
	if err != nil {
		log.Fatalf("open queue: %v", err)
	}
	return q
}

func newVectorStore(ctx context.Context, cfg config.Settings) *vectorstore.Store {
	store, err := vectorstore.New(vectorstore.Config{
		URL:                              cfg.QdrantURL,
		APIKey:                           cfg.QdrantAPIKey,
		HansardContributionsCollection:   cfg.HansardContributionsCollection,
		ParliamentaryQuestionsCollection: cfg.ParliamentaryQuestionsCollection,
		EmbeddingDimensions:              cfg.EmbeddingDimensions,
	})
	if err != nil {
		log.Fatalf("connect vector store: %v", err)
	}
	return store
}

func runInitDB(ctx context.Context, cfg config.Settings) {
	store := newVectorStore(ctx, cfg)
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}
	fmt.Println("collections and indexes ready")
}

func parseDateRangeFlags(fs *flag.FlagSet, args []string) (start, end time.Time, selector harvest.Selector) {
	startStr := fs.String("start-date", "", "YYYY-MM-DD")
	endStr := fs.String("end-date", "", "YYYY-MM-DD")
	typeStr := fs.String("type", "all", "all|hansard|pqs")
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	if *startStr == "" || *endStr == "" {
		log.Fatal("-start-date and -end-date are required")
	}
	var err error
	start, err = time.Parse("2006-01-02", *startStr)
	if err != nil {
		log.Fatalf("invalid -start-date: %v", err)
	}
	end, err = time.Parse("2006-01-02", *endStr)
	if err != nil {
		log.Fatalf("invalid -end-date: %v", err)
	}
	selector = harvest.Selector(*typeStr)
	return
}

func runHarvest(ctx context.Context, cfg config.Settings, args []string) {
	fs := flag.NewFlagSet("harvest", flag.ExitOnError)
	start, end, selector := parseDateRangeFlags(fs, args)

	q := openQueue(cfg)
	defer q.Close()
	f := fetcher.New(fetcher.Config{RequestsPerSecond: cfg.HTTPMaxRatePerSecond})

	h := harvest.New(f, q, harvest.DefaultConfig())
	result := h.Run(ctx, start, end, selector)
	fmt.Printf("enqueued %d items\n", result.Enqueued)
	for _, err := range result.Errors {
		fmt.Fprintf(os.Stderr, "stream error: %v\n", err)
	}
	if len(result.Errors) > 0 {
		os.Exit(1)
	}
}

func runProcess(ctx context.Context, cfg config.Settings, args []string) {
	fs := flag.NewFlagSet("process", flag.ExitOnError)
	batchSize := fs.Int("batch-size", 50, "items per batch")
	loop := fs.Bool("loop", false, "keep draining until interrupted")
	limit := fs.Int("limit", 0, "max batches to run (0 = unlimited while -loop)")
	metricsAddr := fs.String("metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parse flags: %v", err)
	}

	if *metricsAddr != "" {
		go func() {
			if err := observability.StartMetricsServer(ctx, *metricsAddr); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	q := openQueue(cfg)
	defer q.Close()
	if n, err := q.ResetProcessing(); err != nil {
		log.Fatalf("reset processing on startup: %v", err)
	} else if n > 0 {
		fmt.Printf("recovered %d items stuck in PROCESSING\n", n)
	}

	f := fetcher.New(fetcher.Config{RequestsPerSecond: cfg.HTTPMaxRatePerSecond})
	dense := embedding.NewDenseEmbedder(embedding.DenseConfig{
		APIKey:           cfg.EmbeddingAPIKey,
		BaseURL:          cfg.EmbeddingBaseURL,
		Model:            cfg.EmbeddingModel,
		Dimensions:       cfg.EmbeddingDimensions,
		MaxRatePerSecond: cfg.EmbeddingMaxRatePerSecond,
	})
	store := newVectorStore(ctx, cfg)
	defer store.Close()

	procCfg := process.DefaultConfig()
	procCfg.BatchSize = *batchSize
	procCfg.HansardContributionsCollection = cfg.HansardContributionsCollection
	procCfg.ParliamentaryQuestionsCollection = cfg.ParliamentaryQuestionsCollection
	p := process.New(f, q, dense, store, procCfg)

	if *loop {
		if err := p.RunLoop(ctx, *limit); err != nil && ctx.Err() == nil {
			log.Fatalf("process loop: %v", err)
		}
		return
	}

	// Without -loop, drain exactly what's pending right now (bounded by
	// -limit if given), then stop rather than waiting for new work to arrive.
	batches := 0
	for {
		if *limit > 0 && batches >= *limit {
			break
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		claimed, err := p.RunOnce(ctx)
		if err != nil {
			log.Fatalf("process batch: %v", err)
		}
		if claimed == 0 {
			break
		}
		batches++
	}
	fmt.Printf("processed %d batches\n", batches)
}

func runReset(cfg config.Settings) {
	q := openQueue(cfg)
	defer q.Close()
	n, err := q.ResetProcessing()
	if err != nil {
		log.Fatalf("reset: %v", err)
	}
	fmt.Printf("reset %d items from PROCESSING to PENDING\n", n)
}

func runRetryFailed(cfg config.Settings) {
	q := openQueue(cfg)
	defer q.Close()
	n, err := q.RetryFailed()
	if err != nil {
		log.Fatalf("retry-failed: %v", err)
	}
	fmt.Printf("reset %d items from FAILED to PENDING\n", n)
}

func runAudit(ctx context.Context, cfg config.Settings, args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	start, end, selector := parseDateRangeFlags(fs, args)

	q := openQueue(cfg)
	defer q.Close()
	f := fetcher.New(fetcher.Config{RequestsPerSecond: cfg.HTTPMaxRatePerSecond})

	a := audit.New(f, q, audit.DefaultConfig())
	reports, err := a.Run(ctx, start, end, selector)
	if err != nil {
		log.Fatalf("audit: %v", err)
	}

	incomplete := 0
	for _, r := range reports {
		fmt.Printf("%s %-8s %-10s %s\n", r.Date, r.SourceType, r.Status, r.Detail)
		if r.Status != audit.StatusOK {
			incomplete++
		}
	}
	if incomplete > 0 {
		os.Exit(1)
	}
}
