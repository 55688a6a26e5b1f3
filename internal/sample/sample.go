// Package sample provides deterministic synthetic SOPR and price series.
// The dashboard serves these in place of warehouse data when sample mode is
// requested or when a live query fails, so the rest of the system can be
// exercised without a live data dependency or query cost.
package sample

import (
	"math"
	"math/rand"
	"time"

	"github.com/onchainlab/sopr-analytics/internal/models"
)

const (
	// walkSeed fixes the random walk so every process generates the same
	// series. Reproducibility is a hard requirement: callers and tests rely
	// on bit-identical output for a given day count.
	walkSeed = 42

	// SOPR oscillates around break-even in a tight band.
	walkStart = 1.0
	walkFloor = 0.85
	walkCeil  = 1.15
	walkStep  = 0.03

	// Linear ramp parameters for the synthetic price series.
	priceBase = 42000.0
	priceStep = 100.0
)

// SoprSeries generates dayCount consecutive calendar days ending today, each
// paired with a SOPR value from a bounded random walk: start at 1.0, add a
// uniform delta in [-0.03, +0.03] per day, clamp to [0.85, 1.15], round to 4
// decimal places. The walk is seeded with a fixed constant so repeated calls
// produce identical values.
//
// The walk is anchored at today and steps backward in time: walk step i pairs
// with the date i days ago, so the value for a given calendar date does not
// depend on dayCount.
//
// The returned series is ordered by ascending date. The function is pure and
// safe for concurrent use.
func SoprSeries(dayCount int) []models.SoprObservation {
	if dayCount <= 0 {
		return nil
	}

	rng := rand.New(rand.NewSource(walkSeed))
	end := models.DateOnly(time.Now())

	series := make([]models.SoprObservation, dayCount)
	current := walkStart
	for i := 0; i < dayCount; i++ {
		delta := (rng.Float64()*2 - 1) * walkStep
		current = clamp(current+delta, walkFloor, walkCeil)
		series[dayCount-1-i] = models.SoprObservation{
			Date: end.AddDate(0, 0, -i),
			Sopr: round4(current),
		}
	}

	return series
}

// PriceSeries generates dayCount consecutive calendar days ending today, each
// paired with a deterministic linearly increasing price. No randomness is
// involved; the series is ordered by ascending date.
func PriceSeries(dayCount int) []models.PriceObservation {
	if dayCount <= 0 {
		return nil
	}

	end := models.DateOnly(time.Now())

	series := make([]models.PriceObservation, dayCount)
	for i := 0; i < dayCount; i++ {
		series[i] = models.PriceObservation{
			Date:  end.AddDate(0, 0, i-dayCount+1),
			Price: priceBase + float64(i)*priceStep,
		}
	}

	return series
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
