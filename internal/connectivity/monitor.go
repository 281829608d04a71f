package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"studysync/internal/config"
	"studysync/internal/domain"
	"studysync/internal/events"
	"studysync/internal/logging"
	"studysync/internal/metrics"

	"github.com/rs/zerolog"
)

// Monitor tracks whether the remote service is reachable and notifies
// subscribers when it comes back.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	callbacks []func()

	probeURL   string
	interval   time.Duration
	httpClient *http.Client
	publisher  domain.EventPublisher
	logger     *zerolog.Logger
}

// NewMonitor creates a monitor. publisher may be nil.
func NewMonitor(cfg config.ConnectivityConfig, publisher domain.EventPublisher, logger *zerolog.Logger) *Monitor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	m := &Monitor{
		online:     cfg.AssumeOnline,
		probeURL:   cfg.ProbeURL,
		interval:   cfg.Interval,
		httpClient: &http.Client{Timeout: timeout},
		publisher:  publisher,
		logger:     logging.Component(logger, "connectivity"),
	}
	metrics.SetOnline(m.online)
	return m
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnOnline registers callback to run on every offline to online transition.
func (m *Monitor) OnOnline(callback func()) {
	if callback == nil {
		return
	}
	m.mu.Lock()
	m.callbacks = append(m.callbacks, callback)
	m.mu.Unlock()
}

// SetOnline records the current reachability. Callbacks run only when the
// state flips from offline to online, and never under the lock.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	var callbacks []func()
	if online {
		callbacks = append(callbacks, m.callbacks...)
	}
	m.mu.Unlock()

	metrics.SetOnline(online)
	if online {
		m.logger.Info().Msg("Remote reachable")
	} else {
		m.logger.Warn().Msg("Remote unreachable")
	}
	if m.publisher != nil {
		payload := events.ConnectivityPayload{Online: online, At: time.Now().UTC()}
		if err := m.publisher.PublishJSON(events.EventConnectivityChanged, payload); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to publish connectivity event")
		}
	}

	for _, cb := range callbacks {
		cb()
	}
}

// Probe sends one HEAD request to the probe URL. Any HTTP response counts as online.
func (m *Monitor) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		m.logger.Error().Err(err).Str("url", m.probeURL).Msg("Invalid probe url")
		return false
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Debug().Err(err).Msg("Probe failed")
		return false
	}
	resp.Body.Close()
	return true
}

// Start probes on every interval until ctx is done. Without a probe URL it
// returns at once and the state is driven by SetOnline only.
func (m *Monitor) Start(ctx context.Context) {
	if m.probeURL == "" {
		m.logger.Info().Msg("No probe url configured, connectivity is set manually")
		return
	}
	interval := m.interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	m.SetOnline(m.Probe(ctx))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetOnline(m.Probe(ctx))
		}
	}
}
