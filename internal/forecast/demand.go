package forecast

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"price-tracker/internal/storage"
)

const (
	defaultDemand     = 0.5
	minDemandPoints   = 3
	demandFloor       = 0.1
	demandCeiling     = 0.9
	trendWeight       = 0.6
	volatilityWeight  = 0.4
	defaultDemandSpan = 30 * 24 * time.Hour
)

// DemandScore is a heuristic in [0.1, 0.9]: falling, stable prices score high.
// Fewer than three prices, or a zero starting price, yield 0.5.
func DemandScore(prices []float64) float64 {
	if len(prices) < minDemandPoints {
		return defaultDemand
	}
	first, last := prices[0], prices[len(prices)-1]
	if first == 0 {
		return defaultDemand
	}

	trend := math.Max(0, 1-(last-first)/first)

	volatility := 0.0
	mean, std := stat.MeanStdDev(prices, nil)
	if mean != 0 && !math.IsNaN(std) {
		volatility = math.Max(0, 1-std/mean)
	}

	score := trendWeight*trend + volatilityWeight*volatility
	if math.IsNaN(score) {
		return defaultDemand
	}
	return math.Max(demandFloor, math.Min(demandCeiling, score))
}

// DemandScorer computes DemandScore over a product's recent window.
type DemandScorer struct {
	series storage.SeriesStore
	window time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// NewDemandScorer constructs a DemandScorer.
func NewDemandScorer(series storage.SeriesStore, window time.Duration, logger zerolog.Logger) *DemandScorer {
	if window <= 0 {
		window = defaultDemandSpan
	}
	return &DemandScorer{
		series: series,
		window: window,
		logger: logger.With().Str("component", "demand_scorer").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Score never fails: storage errors fall back to the default score.
func (d *DemandScorer) Score(ctx context.Context, productID uuid.UUID) float64 {
	series, err := d.series.QueryRange(ctx, productID, d.now().Add(-d.window))
	if err != nil {
		d.logger.Warn().Err(err).Str("product_id", productID.String()).Msg("demand score falls back to default")
		return defaultDemand
	}
	prices := make([]float64, len(series))
	for i, obs := range series {
		prices[i] = obs.Price.InexactFloat64()
	}
	return DemandScore(prices)
}

// PriceChangePercent is (last-first)/first*100 over the series, or nil with
// fewer than two observations or a zero first price.
func PriceChangePercent(series []storage.PriceObservation) *decimal.Decimal {
	if len(series) < 2 {
		return nil
	}
	first := series[0].Price
	if first.IsZero() {
		return nil
	}
	change := series[len(series)-1].Price.Sub(first).Div(first).Mul(decimal.NewFromInt(100)).Round(2)
	return &change
}
