package sensors

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultThingSpeakURL is the ThingSpeak API base URL.
const DefaultThingSpeakURL = "https://api.thingspeak.com"

// Readings holds one value per soil sensor.
type Readings struct {
	SoilMoisture float64 `json:"soilMoisture"`
	Nitrogen     float64 `json:"nitrogen"`
	Phosphorus   float64 `json:"phosphorus"`
	Potassium    float64 `json:"potassium"`
}

// Telemetry summarizes a window of channel feeds.
type Telemetry struct {
	Latest   Readings  // Most recent valid value per field
	Average  Readings  // Mean of valid values per field
	Entries  int       // Feed entries in the window
	LatestAt time.Time // Timestamp of the newest entry
}

// ThingSpeakClient reads soil telemetry from a ThingSpeak channel.
// Field 1 carries soil moisture, fields 4, 5 and 6 carry N, P and K.
type ThingSpeakClient struct {
	BaseURL string
	Channel int
	APIKey  string
	Results int
	HTTP    *http.Client
}

type feedsResponse struct {
	Feeds []feed `json:"feeds"`
}

type feed struct {
	CreatedAt string  `json:"created_at"`
	Field1    *string `json:"field1"`
	Field4    *string `json:"field4"`
	Field5    *string `json:"field5"`
	Field6    *string `json:"field6"`
}

// Fetch returns the summarized telemetry of the last Results entries.
func (c *ThingSpeakClient) Fetch(ctx context.Context) (Telemetry, error) {
	q := url.Values{}
	if c.APIKey != "" {
		q.Set("api_key", c.APIKey)
	}
	results := c.Results
	if results <= 0 {
		results = DefaultResults
	}
	q.Set("results", strconv.Itoa(results))

	var body feedsResponse
	rawURL := fmt.Sprintf("%s/channels/%d/feeds.json?%s", c.BaseURL, c.Channel, q.Encode())
	if err := getJSON(ctx, c.HTTP, rawURL, &body); err != nil {
		return Telemetry{}, err
	}
	if len(body.Feeds) == 0 {
		return Telemetry{}, fmt.Errorf("channel %d has no feed entries", c.Channel)
	}
	return summarize(body.Feeds), nil
}

// fieldStats accumulates valid numeric values of one field, oldest first.
type fieldStats struct {
	sum    float64
	count  int
	latest float64
}

func (s *fieldStats) add(raw *string) {
	if raw == nil {
		return
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(*raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	s.sum += v
	s.count++
	s.latest = v
}

func (s *fieldStats) mean() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}

// summarize reduces feeds, ordered oldest first, to latest and mean values.
func summarize(feeds []feed) Telemetry {
	var soil, n, p, k fieldStats
	var latestAt time.Time
	for _, f := range feeds {
		soil.add(f.Field1)
		n.add(f.Field4)
		p.add(f.Field5)
		k.add(f.Field6)
		if t, err := time.Parse(time.RFC3339, f.CreatedAt); err == nil && t.After(latestAt) {
			latestAt = t
		}
	}
	return Telemetry{
		Latest: Readings{
			SoilMoisture: soil.latest,
			Nitrogen:     n.latest,
			Phosphorus:   p.latest,
			Potassium:    k.latest,
		},
		Average: Readings{
			SoilMoisture: soil.mean(),
			Nitrogen:     n.mean(),
			Phosphorus:   p.mean(),
			Potassium:    k.mean(),
		},
		Entries:  len(feeds),
		LatestAt: latestAt,
	}
}
