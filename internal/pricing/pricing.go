// Package pricing suggests a per-request price from demand signals.
//
// The model is a fitted surrogate of an offline-trained regressor: a linear
// blend of diurnal demand, server load, data freshness, endpoint complexity,
// and caller history, with coefficients frozen from training. It is pure and
// deterministic for a given clock reading.
package pricing

import (
	"math"
	"time"
)

// Inputs are the demand signals the model prices against.
type Inputs struct {
	ServerLoad       float64 `json:"server_load"`         // 0..1
	CacheAgeSeconds  float64 `json:"cache_age_seconds"`   // age of the cached payload
	CallerTotalCalls int64   `json:"caller_total_calls"`  // lifetime calls by this caller
	CallerAvgPayment float64 `json:"caller_avg_payment"`  // caller's mean payment in sats
	Complexity       int     `json:"endpoint_complexity"` // 1 (cheap) .. 5 (expensive)
}

// Coefficients frozen from the fitted model.
const (
	coefLoad       = 9.0  // sats at full load
	coefFreshness  = 3.0  // premium for sub-30s data
	coefComplexity = 1.8  // sats per complexity step
	coefLoyalty    = 2.5  // max discount for heavy callers
	coefSpendLevel = 0.08 // small premium for high-spending callers
	diurnalAmp     = 2.0  // peak-hours swing
	peakHourUTC    = 15.0 // observed demand peak
)

// Model converts demand signals into a price in sats.
type Model struct {
	baseSats int64
	now      func() time.Time
}

// NewModel creates a Model anchored at the given base price.
func NewModel(baseSats int64) *Model {
	return &Model{baseSats: baseSats, now: time.Now}
}

// Quote predicts the price in sats for one request. Never below 1 sat.
func (m *Model) Quote(in Inputs) int64 {
	hour := float64(m.now().UTC().Hour()) + float64(m.now().UTC().Minute())/60

	price := float64(m.baseSats)
	price += diurnalAmp * math.Cos(2*math.Pi*(hour-peakHourUTC)/24)
	price += coefLoad * clamp01(in.ServerLoad)
	if in.CacheAgeSeconds >= 0 && in.CacheAgeSeconds < 30 {
		price += coefFreshness
	}
	price += coefComplexity * float64(in.Complexity-1)
	price -= coefLoyalty * math.Min(float64(in.CallerTotalCalls), 100) / 100
	price += coefSpendLevel * math.Min(in.CallerAvgPayment, 100)

	quoted := int64(math.Round(price))
	if quoted < 1 {
		quoted = 1
	}
	return quoted
}

// Weights exposes the frozen coefficients for the metrics endpoint.
func (m *Model) Weights() map[string]float64 {
	return map[string]float64{
		"server_load":         coefLoad,
		"freshness":           coefFreshness,
		"endpoint_complexity": coefComplexity,
		"caller_loyalty":      coefLoyalty,
		"caller_spend_level":  coefSpendLevel,
		"diurnal_amplitude":   diurnalAmp,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
