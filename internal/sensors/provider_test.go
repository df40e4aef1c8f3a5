package sensors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const forecastBody = `{"current":{"time":"2025-01-10T14:00","temperature_2m":27.4,"relative_humidity_2m":64}}`

const feedsBody = `{
  "channel": {"id": 42},
  "feeds": [
    {"created_at":"2025-01-10T13:00:00Z","entry_id":1,"field1":"30","field4":"10","field5":"20","field6":"30"},
    {"created_at":"2025-01-10T13:30:00Z","entry_id":2,"field1":"nan","field4":null,"field5":"","field6":"33"},
    {"created_at":"2025-01-10T14:00:00Z","entry_id":3,"field1":"50","field4":"14","field5":"22","field6":null}
  ]
}`

type fakeSources struct {
	weatherStatus   atomic.Int32
	telemetryStatus atomic.Int32
	lastQuery       atomic.Value
}

func newSourceServer(t *testing.T) (*httptest.Server, *fakeSources) {
	t.Helper()
	src := &fakeSources{}
	src.weatherStatus.Store(http.StatusOK)
	src.telemetryStatus.Store(http.StatusOK)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/forecast", func(w http.ResponseWriter, r *http.Request) {
		src.lastQuery.Store(r.URL.RawQuery)
		if code := int(src.weatherStatus.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		_, _ = w.Write([]byte(forecastBody))
	})
	mux.HandleFunc("/channels/42/feeds.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		assert.Equal(t, "3", r.URL.Query().Get("results"))
		if code := int(src.telemetryStatus.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		_, _ = w.Write([]byte(feedsBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, src
}

func newTestProvider(srv *httptest.Server) *Provider {
	return NewProvider(Config{
		Latitude:         DefaultLatitude,
		Longitude:        DefaultLongitude,
		WeatherURL:       srv.URL,
		ThingSpeakURL:    srv.URL,
		ThingSpeakChan:   42,
		ThingSpeakAPIKey: "secret",
		Results:          3,
	}, nil)
}

func TestProviderRefresh(t *testing.T) {
	srv, src := newSourceServer(t)
	p := newTestProvider(srv)

	snap, err := p.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Coordinates: 22.562600°, 88.363000°", snap.LocationName)
	assert.InDelta(t, 27.4, snap.Temperature, 1e-9)
	assert.InDelta(t, 64, snap.Humidity, 1e-9)
	assert.InDelta(t, 50, snap.SoilMoisture, 1e-9)
	assert.InDelta(t, 14, snap.NPKNitrogen, 1e-9)
	assert.InDelta(t, 22, snap.NPKPhosphorus, 1e-9)
	assert.InDelta(t, 33, snap.NPKPotassium, 1e-9)
	assert.InDelta(t, 23, snap.NPKAverage, 1e-9)
	assert.True(t, snap.HasTelemetry())
	assert.Equal(t, snap, p.Last())

	assert.Contains(t, src.lastQuery.Load(), "current=temperature_2m%2Crelative_humidity_2m")
	assert.Contains(t, src.lastQuery.Load(), "latitude=22.5626")
}

func TestProviderPartialFailureKeepsLastKnown(t *testing.T) {
	srv, src := newSourceServer(t)
	p := newTestProvider(srv)

	_, err := p.Refresh(context.Background())
	require.NoError(t, err)

	src.telemetryStatus.Store(http.StatusServiceUnavailable)
	snap, err := p.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch telemetry")

	assert.InDelta(t, 50, snap.SoilMoisture, 1e-9, "telemetry from the previous refresh is kept")
	assert.InDelta(t, 27.4, snap.Temperature, 1e-9)
}

func TestProviderAllFailed(t *testing.T) {
	srv, src := newSourceServer(t)
	src.weatherStatus.Store(http.StatusInternalServerError)
	src.telemetryStatus.Store(http.StatusInternalServerError)
	p := newTestProvider(srv)

	var updates int
	p.SetOnUpdate(func(Snapshot) { updates++ })

	snap, err := p.Refresh(context.Background())
	require.Error(t, err)
	assert.False(t, snap.HasTelemetry())
	assert.True(t, snap.CapturedAt.IsZero())
	assert.Zero(t, updates)
}

func TestProviderOnUpdate(t *testing.T) {
	srv, _ := newSourceServer(t)
	p := newTestProvider(srv)

	var got Snapshot
	p.SetOnUpdate(func(s Snapshot) { got = s })

	snap, err := p.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestRefreshHonorsDeadlineWhileAnotherRuns(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/forecast", func(w http.ResponseWriter, _ *http.Request) {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		<-release
		_, _ = w.Write([]byte(forecastBody))
	})
	mux.HandleFunc("/channels/42/feeds.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(feedsBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	p := newTestProvider(srv)

	background := make(chan error, 1)
	go func() {
		_, err := p.Refresh(context.Background())
		background <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	begin := time.Now()
	snap, err := p.Refresh(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(begin), time.Second)
	assert.Equal(t, p.Last(), snap)

	close(release)
	require.NoError(t, <-background)
	assert.InDelta(t, 27.4, p.Last().Temperature, 1e-9)
}

func TestSummarize(t *testing.T) {
	one := "10"
	two := "20"
	bad := "x"
	tel := summarize([]feed{
		{CreatedAt: "2025-01-10T13:00:00Z", Field1: &one},
		{CreatedAt: "2025-01-10T14:00:00Z", Field1: &bad},
		{CreatedAt: "2025-01-10T12:00:00Z", Field1: &two},
	})

	assert.Equal(t, 3, tel.Entries)
	assert.InDelta(t, 20, tel.Latest.SoilMoisture, 1e-9)
	assert.InDelta(t, 15, tel.Average.SoilMoisture, 1e-9)
	assert.Zero(t, tel.Latest.Nitrogen)
	assert.Equal(t, 14, tel.LatestAt.Hour())
}
