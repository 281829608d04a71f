package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics метрики командного бота
type Metrics struct {
	CommandsProcessed    *prometheus.CounterVec
	ErrorsTotal          prometheus.Counter
	UpdateProcessingTime prometheus.Histogram
}

// NewMetrics создает метрики и регистрирует их в reg. С nil reg метрики не регистрируются.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CommandsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studysync",
			Subsystem: "bot",
			Name:      "commands_total",
			Help:      "Bot commands handled, by command.",
		}, []string{"command"}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "studysync",
			Subsystem: "bot",
			Name:      "errors_total",
			Help:      "Commands that failed or panicked.",
		}),
		UpdateProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "studysync",
			Subsystem: "bot",
			Name:      "update_processing_seconds",
			Help:      "Time spent processing updates.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
