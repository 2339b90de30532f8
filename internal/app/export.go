package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	chart "github.com/wcharczuk/go-chart/v2"

	"price-tracker/internal/storage"
)

// Export writes a product's price history and forecasts as CSV and/or PNG.
// Without a product id it exports the product list as CSV and/or JSON.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	id, err := parseOptionalID(opts.ProductID)
	if err != nil {
		return err
	}

	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if id == uuid.Nil {
		return a.exportProducts(ctx, repo, opts)
	}

	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	var from time.Time
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	product, err := repo.GetProduct(ctx, id)
	if err != nil {
		return err
	}

	series, err := repo.QueryRange(ctx, id, from)
	if err != nil {
		return err
	}
	history := series[:0]
	for _, obs := range series {
		if !obs.RecordedAt.After(to) {
			history = append(history, obs)
		}
	}

	forecasts, err := repo.ListForecasts(ctx, id, a.Config.Forecast.ModelID, time.Now().UTC().Truncate(24*time.Hour))
	if err != nil {
		return err
	}

	if len(history) == 0 && len(forecasts) == 0 {
		a.Logger.Info().Str("product_id", id.String()).Msg("no price history found for export window")
		return nil
	}

	downsampled := downsampleSeries(history, opts.MaxPoints)
	a.Logger.Info().Int("total", len(history)).Int("exported", len(downsampled)).Int("forecasts", len(forecasts)).Msg("exporting price history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, downsampled, forecasts); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, product, downsampled, forecasts); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) exportProducts(ctx context.Context, repo storage.Repository, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.JSONPath == "" {
		return errors.New("at least one of --csv or --json must be provided")
	}

	products, err := repo.ListProducts(ctx, storage.ProductFilter{OwnerID: opts.OwnerID})
	if err != nil {
		return err
	}
	a.Logger.Info().Int("products", len(products)).Msg("exporting products")

	if opts.CSVPath != "" {
		if err := writeProductsCSV(opts.CSVPath, products); err != nil {
			return err
		}
	}
	if opts.JSONPath != "" {
		if err := writeProductsJSON(opts.JSONPath, products); err != nil {
			return err
		}
	}
	return nil
}

func downsampleSeries(series []storage.PriceObservation, max int) []storage.PriceObservation {
	if max <= 1 || len(series) <= max {
		return series
	}

	result := make([]storage.PriceObservation, 0, max)
	step := float64(len(series)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(series) {
			idx = len(series) - 1
		}
		result = append(result, series[idx])
	}
	return result
}

func writeHistoryCSV(path string, history []storage.PriceObservation, forecasts []storage.Forecast) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "kind", "price", "currency", "source", "predicted_demand", "confidence"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, obs := range history {
		record := []string{
			obs.RecordedAt.UTC().Format(time.RFC3339),
			"observed",
			obs.Price.String(),
			obs.Currency,
			string(obs.Source),
			"",
			"",
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	for _, f := range forecasts {
		record := []string{
			f.TargetDate.UTC().Format(time.RFC3339),
			"forecast",
			formatDecimal(f.PredictedPrice, 2),
			"",
			f.ModelID,
			strconv.FormatFloat(f.PredictedDemand, 'f', 2, 64),
			strconv.FormatFloat(f.Confidence, 'f', 2, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeHistoryPNG(path string, product storage.Product, history []storage.PriceObservation, forecasts []storage.Forecast) error {
	if len(history)+len(forecasts) < 2 {
		return errors.New("at least two points are needed to draw a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	series := make([]chart.Series, 0, 2)
	if len(history) > 0 {
		x := make([]time.Time, len(history))
		y := make([]float64, len(history))
		for i, obs := range history {
			x[i] = obs.RecordedAt
			y[i] = obs.Price.InexactFloat64()
		}
		series = append(series, chart.TimeSeries{Name: "Observed", XValues: x, YValues: y})
	}
	if len(forecasts) > 0 {
		x := make([]time.Time, len(forecasts))
		y := make([]float64, len(forecasts))
		for i, f := range forecasts {
			x[i] = f.TargetDate
			y[i] = f.PredictedPrice.InexactFloat64()
		}
		series = append(series, chart.TimeSeries{
			Name:    "Forecast",
			XValues: x,
			YValues: y,
			Style: chart.Style{
				StrokeDashArray: []float64{5.0, 5.0},
			},
		})
	}

	currency := product.Currency
	if currency == "" {
		currency = "INR"
	}
	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  product.Name,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           fmt.Sprintf("Price (%s)", currency),
			ValueFormatter: priceFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func writeProductsCSV(path string, products []storage.Product) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"product_id", "name", "url", "current_price", "currency", "is_active", "created_at"}); err != nil {
		return err
	}
	for _, p := range products {
		price := ""
		if p.CurrentPrice != nil {
			price = p.CurrentPrice.String()
		}
		record := []string{
			p.ID.String(),
			p.Name,
			p.URL,
			price,
			p.Currency,
			strconv.FormatBool(p.Active),
			p.CreatedAt.UTC().Format(time.DateTime),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

type productExport struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	URL          string   `json:"url"`
	CurrentPrice *float64 `json:"current_price"`
	Currency     string   `json:"currency"`
	IsActive     bool     `json:"is_active"`
	CreatedAt    string   `json:"created_at"`
}

func writeProductsJSON(path string, products []storage.Product) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	rows := make([]productExport, 0, len(products))
	for _, p := range products {
		row := productExport{
			ID:        p.ID.String(),
			Name:      p.Name,
			URL:       p.URL,
			Currency:  p.Currency,
			IsActive:  p.Active,
			CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
		}
		if p.CurrentPrice != nil {
			v := p.CurrentPrice.InexactFloat64()
			row.CurrentPrice = &v
		}
		rows = append(rows, row)
	}

	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
