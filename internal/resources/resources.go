// Package resources produces the paid payloads served behind the gateway:
// mock weather, stock quotes, and news feeds. Payloads are deterministic
// within a five-minute window so repeated paid calls observe stable data.
package resources

import (
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"time"
)

// Coordinates of the supported weather cities.
var Cities = map[string][2]float64{
	"new haven":     {41.31, -72.92},
	"new york":      {40.71, -74.01},
	"san francisco": {37.77, -122.42},
	"miami":         {25.76, -80.19},
	"chicago":       {41.88, -87.63},
	"london":        {51.51, -0.13},
	"tokyo":         {35.68, 139.69},
}

// Symbols supported by the stock feed, with base prices.
var Symbols = map[string]float64{
	"BTC": 67000, "ETH": 3400, "AAPL": 228, "GOOGL": 182,
	"TSLA": 250, "MSFT": 430, "NVDA": 130, "STX": 1.9,
}

// Topics supported by the news feed.
var Topics = []string{"crypto", "ai", "finance", "research"}

var conditions = []string{"Sunny", "Partly Cloudy", "Cloudy", "Rainy", "Snowy", "Windy", "Foggy"}

// windowedRand seeds a generator from the key and the current five-minute
// window, so payloads rotate slowly but are stable between rotations.
func windowedRand(key string, now time.Time) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(key))
	window := now.Unix() / 300
	return rand.New(rand.NewSource(int64(h.Sum64()) ^ window))
}

// Weather is one city's current conditions.
type Weather struct {
	City         string     `json:"city"`
	Coordinates  [2]float64 `json:"coordinates"`
	TemperatureF int        `json:"temperature_f"`
	HumidityPct  int        `json:"humidity_pct"`
	WindMPH      int        `json:"wind_mph"`
	Condition    string     `json:"condition"`
	Forecast3H   string     `json:"forecast_3h"`
	Timestamp    time.Time  `json:"timestamp"`
}

// GenerateWeather returns conditions for a city. Unknown cities get zeroed
// coordinates but still produce a payload.
func GenerateWeather(city string, now time.Time) Weather {
	key := strings.ToLower(city)
	rng := windowedRand("weather:"+key, now)
	return Weather{
		City:         titleCase(key),
		Coordinates:  Cities[key],
		TemperatureF: 20 + rng.Intn(76),
		HumidityPct:  30 + rng.Intn(61),
		WindMPH:      rng.Intn(31),
		Condition:    conditions[rng.Intn(len(conditions))],
		Forecast3H:   conditions[rng.Intn(len(conditions))],
		Timestamp:    now.UTC(),
	}
}

// Quote is one symbol's simulated market state.
type Quote struct {
	Symbol       string    `json:"symbol"`
	PriceUSD     float64   `json:"price_usd"`
	Change24hPct float64   `json:"change_24h_pct"`
	VolumeUSD    int64     `json:"volume_usd"`
	Timestamp    time.Time `json:"timestamp"`
}

// GenerateQuote returns a simulated quote for a symbol. Unknown symbols
// trade near 10 USD.
func GenerateQuote(symbol string, now time.Time) Quote {
	sym := strings.ToUpper(symbol)
	base, ok := Symbols[sym]
	if !ok {
		base = 10
	}
	rng := windowedRand("stocks:"+sym, now)
	changePct := (rng.Float64() - 0.5) * 12 // -6%..+6%
	return Quote{
		Symbol:       sym,
		PriceUSD:     round2(base * (1 + changePct/100)),
		Change24hPct: round2(changePct),
		VolumeUSD:    int64(rng.Intn(900_000_000)) + 100_000_000,
		Timestamp:    now.UTC(),
	}
}

// Article is one news item.
type Article struct {
	Title       string    `json:"title"`
	Topic       string    `json:"topic"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

var headlines = map[string][]string{
	"crypto": {
		"Lightning Network capacity reaches new high",
		"Major exchange adds taproot address support",
		"Bitcoin fees drop as mempool clears",
	},
	"ai": {
		"Autonomous agents start paying for their own data",
		"New benchmark measures tool-use reliability",
		"Pay-per-request APIs reshape model economics",
	},
	"finance": {
		"Micropayment rails cut settlement costs",
		"Machine-to-machine commerce volume doubles",
		"Streaming payments gain enterprise traction",
	},
	"research": {
		"Study maps incentive design for agent markets",
		"Hash-locked payments formally verified",
		"Survey: metered APIs outgrow subscriptions",
	},
}

var sources = []string{"Satoshi Wire", "Agent Daily", "Protocol Post", "Mempool Report"}

// GenerateNews returns up to limit articles for a topic; an empty topic
// mixes all topics.
func GenerateNews(topic string, limit int, now time.Time) []Article {
	topics := Topics
	if topic != "" {
		topics = []string{strings.ToLower(topic)}
	}
	if limit <= 0 {
		limit = 5
	}

	rng := windowedRand("news:"+strings.Join(topics, ","), now)
	var out []Article
	for len(out) < limit {
		t := topics[rng.Intn(len(topics))]
		pool := headlines[t]
		if len(pool) == 0 {
			pool = headlines["research"]
			t = "research"
		}
		out = append(out, Article{
			Title:       pool[rng.Intn(len(pool))],
			Topic:       t,
			Source:      sources[rng.Intn(len(sources))],
			PublishedAt: now.UTC().Add(-time.Duration(rng.Intn(48)) * time.Hour),
		})
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
