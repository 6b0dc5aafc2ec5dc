package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks queue throughput and upstream rate-limiter behaviour across
// a harvest/process/audit run. Grounded on the prometheus/client_golang
// counter+histogram usage in the pack's service examples.
var (
	QueueItemsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parliamentmcp_queue_items_enqueued_total",
		Help: "Items added to the work queue by the harvester, by source type.",
	}, []string{"source_type"})

	QueueItemsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parliamentmcp_queue_items_completed_total",
		Help: "Items marked COMPLETED by the processor, by source type.",
	}, []string{"source_type"})

	QueueItemsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parliamentmcp_queue_items_failed_total",
		Help: "Items marked FAILED by the processor, by source type.",
	}, []string{"source_type"})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parliamentmcp_process_batch_duration_seconds",
		Help:    "Wall-clock time spent processing one claimed batch, from claim to commit.",
		Buckets: prometheus.DefBuckets,
	})

	UpstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parliamentmcp_upstream_request_duration_seconds",
		Help:    "Time spent waiting on the fetcher's rate limiter plus the request itself, by host.",
		Buckets: prometheus.DefBuckets,
	}, []string{"host"})
)

// StartMetricsServer serves /metrics on addr until ctx is cancelled. The
// caller runs this in its own goroutine; a nil return from ListenAndServe
// after shutdown is expected and not logged as an error.
func StartMetricsServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
