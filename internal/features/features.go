// Package features turns a price series into a regression-ready matrix.
package features

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

const (
	// MinObservations is the shortest series Build accepts.
	MinObservations = 5
	// MinRows is the fewest usable rows Build returns.
	MinRows = 3
	// MaxLag is the deepest lag; rows before it are dropped.
	MaxLag = 3
)

// Names lists the feature columns in Row.Values order.
var Names = []string{
	"lag_1",
	"lag_2",
	"lag_3",
	"rolling_mean_3",
	"rolling_mean_7",
	"rolling_std_3",
	"day_of_week",
	"day_of_month",
	"month",
}

// Point is one observation of the input series.
type Point struct {
	Time  time.Time
	Price float64
}

// Row is one labelled sample: features derived from prior observations and the price at Time.
type Row struct {
	Time   time.Time
	Target float64
	Values []float64
}

// Matrix is the result of Build. A zero Matrix is Empty.
type Matrix struct {
	Rows []Row
}

// Empty reports whether the matrix has no usable rows.
func (m Matrix) Empty() bool {
	return len(m.Rows) == 0
}

// Len returns the number of rows.
func (m Matrix) Len() int {
	return len(m.Rows)
}

// Targets returns the label column.
func (m Matrix) Targets() []float64 {
	out := make([]float64, len(m.Rows))
	for i, r := range m.Rows {
		out[i] = r.Target
	}
	return out
}

// Build derives lag, rolling and calendar features from a chronologically ordered series.
// Rolling windows cover the observations before each row, allowing partial windows.
// It returns an Empty matrix for series shorter than MinObservations or when fewer
// than MinRows survive dropping the first MaxLag rows.
func Build(series []Point) Matrix {
	if len(series) < MinObservations {
		return Matrix{}
	}

	prices := make([]float64, len(series))
	for i, p := range series {
		prices[i] = p.Price
	}

	rows := make([]Row, 0, len(series)-MaxLag)
	for i := MaxLag; i < len(series); i++ {
		ts := series[i].Time.UTC()
		values := []float64{
			prices[i-1],
			prices[i-2],
			prices[i-3],
			trailingMean(prices, i, 3),
			trailingMean(prices, i, 7),
			trailingStd(prices, i, 3),
			float64(ts.Weekday()),
			float64(ts.Day()),
			float64(ts.Month()),
		}
		if !allFinite(values) {
			continue
		}
		rows = append(rows, Row{Time: ts, Target: prices[i], Values: values})
	}

	if len(rows) < MinRows {
		return Matrix{}
	}
	return Matrix{Rows: rows}
}

// trailingMean averages up to window values strictly before end.
func trailingMean(prices []float64, end, window int) float64 {
	start := max(end-window, 0)
	if start >= end {
		return math.NaN()
	}
	return stat.Mean(prices[start:end], nil)
}

// trailingStd is the sample standard deviation of up to window values before end.
func trailingStd(prices []float64, end, window int) float64 {
	start := max(end-window, 0)
	if end-start < 2 {
		return math.NaN()
	}
	return stat.StdDev(prices[start:end], nil)
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
