// Package dashboard serves the SOPR analytics HTTP API: windowed series,
// summary metrics, exports, and health. Responses are cached with a TTL so
// repeated dashboard refreshes do not hammer the warehouse.
package dashboard

import (
	"math"

	"github.com/onchainlab/sopr-analytics/internal/models"
)

// Market sentiment labels derived from the latest SOPR reading.
const (
	SentimentProfitTaking = "profit_taking"
	SentimentNeutral      = "neutral"
	SentimentMildFear     = "mild_fear"
	SentimentCapitulation = "capitulation"
)

// Metrics summarizes a SOPR and price window for the dashboard header.
type Metrics struct {
	// CurrentSopr is the most recent SOPR reading in the window
	CurrentSopr float64 `json:"current_sopr"`

	// AverageSopr is the mean SOPR over the window
	AverageSopr float64 `json:"average_sopr"`

	// AboveThresholdDays counts days at or above the break-even threshold
	AboveThresholdDays int `json:"above_threshold_days"`

	// CurrentPrice is the most recent price in the window, zero if the
	// price window was empty
	CurrentPrice float64 `json:"current_price"`

	// PriceChangePct is the percent change from the first to the last price
	// in the window. Zero when fewer than two prices are available.
	PriceChangePct float64 `json:"price_change_pct"`

	// Sentiment is the label derived from CurrentSopr
	Sentiment string `json:"sentiment"`

	// Days is the number of SOPR observations in the window
	Days int `json:"days"`
}

// ComputeMetrics derives summary metrics from the two windowed series.
// Both series are expected in ascending date order. A nil result means the
// SOPR window was empty.
func ComputeMetrics(sopr []models.SoprObservation, prices []models.PriceObservation, threshold float64) *Metrics {
	if len(sopr) == 0 {
		return nil
	}

	var sum float64
	var above int
	for _, obs := range sopr {
		sum += obs.Sopr
		if obs.Sopr >= threshold {
			above++
		}
	}

	current := sopr[len(sopr)-1].Sopr

	m := &Metrics{
		CurrentSopr:        current,
		AverageSopr:        round4(sum / float64(len(sopr))),
		AboveThresholdDays: above,
		Sentiment:          ClassifySentiment(current),
		Days:               len(sopr),
	}

	if len(prices) > 0 {
		m.CurrentPrice = prices[len(prices)-1].Price
	}
	if len(prices) >= 2 {
		first := prices[0].Price
		last := prices[len(prices)-1].Price
		if first != 0 {
			m.PriceChangePct = round2((last - first) / first * 100)
		}
	}

	return m
}

// ClassifySentiment maps a SOPR reading to a sentiment label.
// Readings well above break-even indicate holders realizing profits;
// readings well below indicate losses being locked in.
func ClassifySentiment(sopr float64) string {
	switch {
	case sopr >= 1.05:
		return SentimentProfitTaking
	case sopr >= 1.0:
		return SentimentNeutral
	case sopr >= 0.95:
		return SentimentMildFear
	default:
		return SentimentCapitulation
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
