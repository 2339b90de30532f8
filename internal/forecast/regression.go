package forecast

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"price-tracker/internal/features"
)

const rankTolerance = 1e-10

var errSingular = errors.New("forecast: design matrix has no usable rank")

// scaler standardises feature columns with statistics from the training rows only.
type scaler struct {
	mean  []float64
	scale []float64
}

func fitScaler(rows []features.Row) scaler {
	cols := len(rows[0].Values)
	s := scaler{mean: make([]float64, cols), scale: make([]float64, cols)}
	column := make([]float64, len(rows))
	for j := 0; j < cols; j++ {
		for i, r := range rows {
			column[i] = r.Values[j]
		}
		mean, std := stat.MeanStdDev(column, nil)
		if math.IsNaN(std) || std == 0 {
			std = 1
		}
		s.mean[j] = mean
		s.scale[j] = std
	}
	return s
}

// design builds the standardised matrix with a leading intercept column.
func (s scaler) design(rows []features.Row) *mat.Dense {
	cols := len(s.mean) + 1
	x := mat.NewDense(len(rows), cols, nil)
	for i, r := range rows {
		x.Set(i, 0, 1)
		for j, v := range r.Values {
			x.Set(i, j+1, (v-s.mean[j])/s.scale[j])
		}
	}
	return x
}

// linearModel is an ordinary least squares fit on standardised features.
type linearModel struct {
	scaler scaler
	coef   *mat.VecDense
}

// fitLinear solves the minimum-norm least squares problem via SVD, so rank-deficient
// designs (constant calendar columns, collinear lags) still produce a model.
func fitLinear(rows []features.Row) (linearModel, error) {
	sc := fitScaler(rows)
	x := sc.design(rows)
	y := mat.NewVecDense(len(rows), targets(rows))

	var svd mat.SVD
	if ok := svd.Factorize(x, mat.SVDThin); !ok {
		return linearModel{}, errors.New("forecast: svd factorization failed")
	}
	rank := svd.Rank(rankTolerance)
	if rank == 0 {
		return linearModel{}, errSingular
	}

	var coef mat.VecDense
	svd.SolveVecTo(&coef, y, rank)
	return linearModel{scaler: sc, coef: &coef}, nil
}

func (m linearModel) predict(rows []features.Row) []float64 {
	x := m.scaler.design(rows)
	var out mat.VecDense
	out.MulVec(x, m.coef)
	return out.RawVector().Data
}

// fitQuality is the coefficient of determination of the model on rows, clamped to [0, 1].
func (m linearModel) fitQuality(rows []features.Row) float64 {
	return clampUnit(stat.RSquaredFrom(m.predict(rows), targets(rows), nil))
}

func targets(rows []features.Row) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.Target
	}
	return out
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
