package metrics

import (
	"context"
	"sync"
	"time"

	"studysync/internal/models"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "studysync"

const (
	OutcomeSynced  = "synced"
	OutcomeRetried = "retried"
	OutcomeFailed  = "failed"
)

var (
	once sync.Once

	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery attempts by outcome.",
		},
		[]string{"outcome"},
	)

	passes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "passes_total",
		Help:      "Completed sync passes.",
	})

	passDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pass_duration_seconds",
		Help:      "Wall time of a sync pass.",
		Buckets:   prometheus.DefBuckets,
	})

	swept = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "swept_actions_total",
		Help:      "Synced actions removed by the cleanup sweeper.",
	})

	online = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "online",
		Help:      "1 when the remote endpoint is reachable.",
	})
)

// Register registers the package collectors with the default registry. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(deliveries, passes, passDuration, swept, online)
	})
}

func IncDelivery(outcome string) {
	deliveries.WithLabelValues(outcome).Inc()
}

func ObservePass(d time.Duration) {
	passes.Inc()
	passDuration.Observe(d.Seconds())
}

func AddSwept(n int) {
	if n > 0 {
		swept.Add(float64(n))
	}
}

func SetOnline(v bool) {
	if v {
		online.Set(1)
		return
	}
	online.Set(0)
}

// StatusSource is anything that can count the queue by status.
type StatusSource interface {
	Status(ctx context.Context) (models.StatusCounts, error)
}

// QueueCollector reports queue depth per status on every scrape.
type QueueCollector struct {
	source  StatusSource
	timeout time.Duration
	desc    *prometheus.Desc
}

func NewQueueCollector(source StatusSource) *QueueCollector {
	return &QueueCollector{
		source:  source,
		timeout: 5 * time.Second,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "queue_actions"),
			"Queued actions by status.",
			[]string{"status"}, nil,
		),
	}
}

func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	counts, err := c.source.Status(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.desc, err)
		return
	}
	for status, n := range map[models.ActionStatus]int{
		models.ActionPending: counts.Pending,
		models.ActionSyncing: counts.Syncing,
		models.ActionSynced:  counts.Synced,
		models.ActionFailed:  counts.Failed,
	} {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), string(status))
	}
}
