// Package forecast produces short-horizon price forecasts and demand scores.
package forecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-tracker/internal/features"
	"price-tracker/internal/storage"
)

const (
	// deltaWindow is how many recent day-over-day deltas feed the extrapolation.
	deltaWindow = 3
	// minHoldoutRows is the row count from which a held-out split is used.
	minHoldoutRows = 10
	minTestRows    = 2
)

var (
	envelopeLow  = decimal.RequireFromString("0.5")
	envelopeHigh = decimal.NewFromInt(2)
)

// Options parameterise the forecaster.
type Options struct {
	Lookback          time.Duration
	HoldoutFraction   float64
	DefaultConfidence float64
	ModelID           string
	ModelVersion      string
}

// Prediction is one forecast point.
type Prediction struct {
	Date       time.Time
	Price      decimal.Decimal
	Confidence float64
}

// Result is the output of Predict.
type Result struct {
	Predictions []Prediction
	LastPrice   decimal.Decimal
	Confidence  float64
	// HeldOut reports whether Confidence came from a held-out split.
	HeldOut bool
}

// Predict forecasts horizonDays calendar days after today from a chronologically
// ordered series. It keeps no state between calls. ok is false when the series
// is too short to build features.
func Predict(series []storage.PriceObservation, horizonDays int, opts Options, today time.Time) (Result, bool) {
	if horizonDays <= 0 || len(series) == 0 {
		return Result{}, false
	}

	points := make([]features.Point, len(series))
	for i, obs := range series {
		points[i] = features.Point{Time: obs.RecordedAt, Price: obs.Price.InexactFloat64()}
	}
	matrix := features.Build(points)
	if matrix.Empty() {
		return Result{}, false
	}

	confidence, heldOut := estimateConfidence(matrix.Rows, opts)

	last := series[len(series)-1].Price
	step := averageDelta(series, deltaWindow)
	low := last.Mul(envelopeLow)
	high := last.Mul(envelopeHigh)

	day := truncateDay(today)
	predictions := make([]Prediction, 0, horizonDays)
	for offset := 1; offset <= horizonDays; offset++ {
		price := last.Add(step.Mul(decimal.NewFromInt(int64(offset))))
		price = decimal.Min(decimal.Max(price, low), high).Round(2)
		predictions = append(predictions, Prediction{
			Date:       day.AddDate(0, 0, offset),
			Price:      price,
			Confidence: confidence,
		})
	}

	return Result{
		Predictions: predictions,
		LastPrice:   last,
		Confidence:  confidence,
		HeldOut:     heldOut,
	}, true
}

// estimateConfidence fits the regression and scores it on a chronological holdout.
// Without enough rows for a holdout the default confidence is used.
func estimateConfidence(rows []features.Row, opts Options) (float64, bool) {
	fallback := clampUnit(opts.DefaultConfidence)

	if len(rows) < minHoldoutRows || opts.HoldoutFraction <= 0 {
		if _, err := fitLinear(rows); err != nil {
			return 0, false
		}
		return fallback, false
	}

	test := int(math.Round(float64(len(rows)) * opts.HoldoutFraction))
	if test < minTestRows {
		test = minTestRows
	}
	train := len(rows) - test

	model, err := fitLinear(rows[:train])
	if err != nil {
		return 0, false
	}
	return model.fitQuality(rows[train:]), true
}

// averageDelta is the mean day-over-day change over the last n pairs of daily
// closes. A close is the last price of a UTC calendar day; a gap of several days
// is spread evenly so the result stays a per-day step.
func averageDelta(series []storage.PriceObservation, n int) decimal.Decimal {
	closes := dailyCloses(series)
	if len(closes) < 2 {
		return decimal.Zero
	}
	start := len(closes) - 1 - n
	if start < 0 {
		start = 0
	}
	sum := decimal.Zero
	count := 0
	for i := start + 1; i < len(closes); i++ {
		days := int64(closes[i].day.Sub(closes[i-1].day).Hours() / 24)
		if days < 1 {
			days = 1
		}
		sum = sum.Add(closes[i].price.Sub(closes[i-1].price).Div(decimal.NewFromInt(days)))
		count++
	}
	return sum.Div(decimal.NewFromInt(int64(count)))
}

type dailyClose struct {
	day   time.Time
	price decimal.Decimal
}

func dailyCloses(series []storage.PriceObservation) []dailyClose {
	closes := make([]dailyClose, 0, len(series))
	for _, obs := range series {
		day := truncateDay(obs.RecordedAt)
		if n := len(closes); n > 0 && closes[n-1].day.Equal(day) {
			closes[n-1].price = obs.Price
			continue
		}
		closes = append(closes, dailyClose{day: day, price: obs.Price})
	}
	return closes
}

// Forecaster loads a product's series, predicts, and persists the forecasts.
type Forecaster struct {
	series    storage.SeriesStore
	forecasts storage.ForecastStore
	demand    *DemandScorer
	opts      Options
	logger    zerolog.Logger
	now       func() time.Time
}

// NewForecaster constructs a Forecaster.
func NewForecaster(opts Options, series storage.SeriesStore, forecasts storage.ForecastStore, demand *DemandScorer, logger zerolog.Logger) *Forecaster {
	if opts.Lookback <= 0 {
		opts.Lookback = 60 * 24 * time.Hour
	}
	if opts.ModelID == "" {
		opts.ModelID = "linear_regression"
	}
	if opts.ModelVersion == "" {
		opts.ModelVersion = "1.0"
	}
	return &Forecaster{
		series:    series,
		forecasts: forecasts,
		demand:    demand,
		opts:      opts,
		logger:    logger.With().Str("component", "forecaster").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Forecast predicts horizonDays ahead for productID and upserts the results.
// Insufficient history yields an empty slice and no error.
func (f *Forecaster) Forecast(ctx context.Context, productID uuid.UUID, horizonDays int) ([]Prediction, error) {
	now := f.now()
	series, err := f.series.QueryRange(ctx, productID, now.Add(-f.opts.Lookback))
	if err != nil {
		return nil, fmt.Errorf("load series: %w", err)
	}

	result, ok := Predict(series, horizonDays, f.opts, now)
	if !ok {
		f.logger.Debug().Str("product_id", productID.String()).Int("observations", len(series)).Msg("insufficient history for forecast")
		return []Prediction{}, nil
	}

	demand := defaultDemand
	if f.demand != nil {
		demand = f.demand.Score(ctx, productID)
	}

	for _, p := range result.Predictions {
		err := f.forecasts.UpsertForecast(ctx, storage.Forecast{
			ProductID:       productID,
			TargetDate:      p.Date,
			PredictedPrice:  p.Price,
			PredictedDemand: demand,
			Confidence:      p.Confidence,
			ModelID:         f.opts.ModelID,
			ModelVersion:    f.opts.ModelVersion,
		})
		if err != nil {
			return nil, fmt.Errorf("upsert forecast for %s: %w", p.Date.Format(time.DateOnly), err)
		}
	}

	f.logger.Info().
		Str("product_id", productID.String()).
		Int("horizon_days", horizonDays).
		Float64("confidence", result.Confidence).
		Bool("held_out", result.HeldOut).
		Float64("demand", demand).
		Msg("forecast stored")

	return result.Predictions, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
