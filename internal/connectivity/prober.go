package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/messcheck/messcheck/internal/models"
)

// Default prober configuration
const (
	// DefaultProbeInterval is the default delay between reachability probes.
	DefaultProbeInterval = 15 * time.Second
	// DefaultProbeTimeout bounds a single probe request.
	DefaultProbeTimeout = 5 * time.Second
)

// Prober feeds a Monitor from an HTTP reachability probe. It is the
// environment-signal adapter: any HTTP response counts as reachable, any
// transport error counts as unreachable.
type Prober struct {
	monitor  *Monitor
	url      string
	interval time.Duration
	client   *http.Client
}

// NewProber creates a Prober that checks url every interval and updates monitor.
func NewProber(monitor *Monitor, url string, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Prober{
		monitor:  monitor,
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: DefaultProbeTimeout},
	}
}

// ProbeOnce performs a single reachability check and updates the monitor.
// Called once at startup so the cached state starts freshly probed.
func (p *Prober) ProbeOnce(ctx context.Context) models.ConnectivityState {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		slog.Error("Prober.ProbeOnce: building probe request failed", "error", err, "url", p.url)
		p.monitor.SetOffline()
		return models.ConnectivityOffline
	}

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Debug("Prober.ProbeOnce: probe failed", "error", err, "url", p.url)
		p.monitor.SetOffline()
		return models.ConnectivityOffline
	}
	resp.Body.Close()

	slog.Debug("Prober.ProbeOnce: probe succeeded", "url", p.url, "status", resp.StatusCode)
	p.monitor.SetOnline()
	return models.ConnectivityOnline
}

// Run starts the probe loop. It blocks until the context is cancelled.
func (p *Prober) Run(ctx context.Context) {
	slog.Info("Prober.Run: starting connectivity prober", "url", p.url, "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Prober.Run: stopping")
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}
