package sensors

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oszuidwest/zwfm-voiceagent/internal/metrics"
	"github.com/oszuidwest/zwfm-voiceagent/internal/util"
)

// Config configures the data sources of a Provider.
type Config struct {
	Latitude         float64
	Longitude        float64
	LocationName     string // Defaults to LocationLabel(Latitude, Longitude)
	WeatherURL       string // Defaults to DefaultWeatherURL
	ThingSpeakURL    string // Defaults to DefaultThingSpeakURL
	ThingSpeakChan   int
	ThingSpeakAPIKey string
	Results          int
	HTTPClient       *http.Client
}

// Provider caches the latest field snapshot and refreshes it on demand.
// It is safe for concurrent use.
type Provider struct {
	weather   *WeatherClient
	telemetry *ThingSpeakClient
	metrics   *metrics.Metrics

	// refreshing holds one token per running refresh so results are
	// applied in order.
	refreshing chan struct{}

	mu       sync.RWMutex
	last     Snapshot
	onUpdate func(Snapshot)
}

// NewProvider returns a Provider whose cached snapshot only carries the location.
func NewProvider(cfg Config, m *metrics.Metrics) *Provider {
	if cfg.WeatherURL == "" {
		cfg.WeatherURL = DefaultWeatherURL
	}
	if cfg.ThingSpeakURL == "" {
		cfg.ThingSpeakURL = DefaultThingSpeakURL
	}
	if cfg.LocationName == "" {
		cfg.LocationName = LocationLabel(cfg.Latitude, cfg.Longitude)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &Provider{
		weather: &WeatherClient{
			BaseURL:   cfg.WeatherURL,
			Latitude:  cfg.Latitude,
			Longitude: cfg.Longitude,
			HTTP:      client,
		},
		telemetry: &ThingSpeakClient{
			BaseURL: cfg.ThingSpeakURL,
			Channel: cfg.ThingSpeakChan,
			APIKey:  cfg.ThingSpeakAPIKey,
			Results: cfg.Results,
			HTTP:    client,
		},
		metrics:    m,
		refreshing: make(chan struct{}, 1),
		last:       Snapshot{LocationName: cfg.LocationName},
	}
}

// SetOnUpdate registers fn to receive every snapshot produced by Refresh.
func (p *Provider) SetOnUpdate(fn func(Snapshot)) {
	p.mu.Lock()
	p.onUpdate = fn
	p.mu.Unlock()
}

// Last returns the most recent snapshot without fetching.
func (p *Provider) Last() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// Refresh fetches weather and telemetry concurrently and merges whatever
// succeeded into the cached snapshot. The returned snapshot is always the
// updated cache; err reports the first source that failed. When ctx ends
// while another refresh is still running, the cached snapshot is returned
// with ctx's error.
func (p *Provider) Refresh(ctx context.Context) (Snapshot, error) {
	select {
	case p.refreshing <- struct{}{}:
	case <-ctx.Done():
		return p.Last(), ctx.Err()
	}
	defer func() { <-p.refreshing }()

	var (
		g         errgroup.Group
		weather   *Weather
		telemetry *Telemetry
	)
	g.Go(func() error {
		w, err := p.weather.Fetch(ctx)
		p.metrics.SensorFetch("weather", err)
		if err != nil {
			return util.WrapError("fetch weather", err)
		}
		weather = &w
		return nil
	})
	g.Go(func() error {
		t, err := p.telemetry.Fetch(ctx)
		p.metrics.SensorFetch("thingspeak", err)
		if err != nil {
			return util.WrapError("fetch telemetry", err)
		}
		telemetry = &t
		return nil
	})
	err := g.Wait()

	now := time.Now()
	p.mu.Lock()
	snap := p.last
	if weather != nil {
		snap.Temperature = weather.Temperature
		snap.Humidity = weather.Humidity
		snap.WeatherUpdated = now
	}
	if telemetry != nil {
		l := telemetry.Latest
		snap.SoilMoisture = l.SoilMoisture
		snap.NPKNitrogen = l.Nitrogen
		snap.NPKPhosphorus = l.Phosphorus
		snap.NPKPotassium = l.Potassium
		snap.NPKAverage = npkAverage(l.Nitrogen, l.Phosphorus, l.Potassium)
		snap.TelemetryUpdated = now
	}
	if weather != nil || telemetry != nil {
		snap.CapturedAt = now
	}
	p.last = snap
	onUpdate := p.onUpdate
	p.mu.Unlock()

	if err != nil {
		slog.Warn("sensor refresh incomplete, keeping last known values", "error", err)
	}
	if onUpdate != nil && (weather != nil || telemetry != nil) {
		onUpdate(snap)
	}
	return snap, err
}

// Run refreshes the snapshot every interval until ctx is cancelled.
// The first refresh happens immediately.
func (p *Provider) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		refreshCtx, cancel := context.WithTimeout(ctx, interval)
		_, _ = p.Refresh(refreshCtx)
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
