package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"

	"price-tracker/internal/forecast"
	"price-tracker/internal/storage"
)

const changeWindow = 30 * 24 * time.Hour

func (a *App) newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(a.Out)
	return t
}

// ShowProducts prints tracked products with their 30 day price change.
func (a *App) ShowProducts(ctx context.Context, opts ShowOptions) error {
	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	products, err := repo.ListProducts(ctx, storage.ProductFilter{OwnerID: opts.OwnerID})
	if err != nil {
		return err
	}
	if len(products) == 0 {
		fmt.Fprintln(a.Out, "no products found")
		return nil
	}
	products = limitRows(products, opts.Limit)

	since := time.Now().UTC().Add(-changeWindow)
	t := a.newTable()
	t.AppendHeader(table.Row{"ID", "Name", "Owner", "Price", "30d Change", "Active", "Last Scraped (UTC)"})
	for _, p := range products {
		series, err := repo.QueryRange(ctx, p.ID, since)
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{
			p.ID.String(),
			sanitizeInline(p.Name),
			p.OwnerID,
			formatPrice(p.CurrentPrice, p.Currency),
			formatChange(forecast.PriceChangePercent(series)),
			p.Active,
			formatTime(p.LastScrapedAt),
		})
	}
	t.Render()
	return nil
}

// ShowAlerts prints alerts, optionally for one product.
func (a *App) ShowAlerts(ctx context.Context, opts ShowOptions) error {
	id, err := parseOptionalID(opts.ProductID)
	if err != nil {
		return err
	}
	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	alerts, err := repo.ListAlerts(ctx, id)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}
	alerts = limitRows(alerts, opts.Limit)

	t := a.newTable()
	t.AppendHeader(table.Row{"ID", "Product", "Type", "Threshold", "State", "Email", "Web", "Triggered (UTC)"})
	for _, alert := range alerts {
		t.AppendRow(table.Row{
			alert.ID,
			alert.ProductID.String(),
			string(alert.Kind),
			alert.Threshold.String(),
			string(alert.State),
			alert.EmailNotify,
			alert.WebNotify,
			formatTime(alert.TriggeredAt),
		})
	}
	t.Render()
	return nil
}

// ShowAttempts prints recent scrape attempts.
func (a *App) ShowAttempts(ctx context.Context, opts ShowOptions) error {
	id, err := parseOptionalID(opts.ProductID)
	if err != nil {
		return err
	}
	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	attempts, err := repo.ListRecentAttempts(ctx, id, opts.Limit)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		fmt.Fprintln(a.Out, "no scrape attempts found")
		return nil
	}

	t := a.newTable()
	t.AppendHeader(table.Row{"Started (UTC)", "Product", "Status", "Price", "Latency", "Retries", "Error"})
	for _, attempt := range attempts {
		errMsg := ""
		if attempt.Error != nil {
			errMsg = sanitizeInline(*attempt.Error)
		}
		t.AppendRow(table.Row{
			attempt.StartedAt.UTC().Format(time.RFC3339),
			attempt.ProductID.String(),
			string(attempt.Status),
			formatPrice(attempt.Price, ""),
			attempt.Latency.Round(time.Millisecond).String(),
			attempt.RetryCount,
			errMsg,
		})
	}
	t.Render()
	return nil
}

// ShowForecasts prints upcoming forecasts of one product.
func (a *App) ShowForecasts(ctx context.Context, opts ShowOptions) error {
	id, err := parseOptionalID(opts.ProductID)
	if err != nil {
		return err
	}
	if id == uuid.Nil {
		return errors.New("--product-id is required")
	}
	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	today := time.Now().UTC().Truncate(24 * time.Hour)
	forecasts, err := repo.ListForecasts(ctx, id, "", today)
	if err != nil {
		return err
	}
	if len(forecasts) == 0 {
		fmt.Fprintln(a.Out, "no forecasts found")
		return nil
	}
	forecasts = limitRows(forecasts, opts.Limit)

	t := a.newTable()
	t.AppendHeader(table.Row{"Date", "Price", "Demand", "Confidence", "Model"})
	for _, f := range forecasts {
		t.AppendRow(table.Row{
			f.TargetDate.Format(time.DateOnly),
			formatDecimal(f.PredictedPrice, 2),
			fmt.Sprintf("%.2f", f.PredictedDemand),
			fmt.Sprintf("%.2f", f.Confidence),
			f.ModelID + "@" + f.ModelVersion,
		})
	}
	t.Render()
	return nil
}

func limitRows[T any](rows []T, limit int) []T {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

func formatPrice(d *decimal.Decimal, currency string) string {
	if d == nil {
		return "-"
	}
	if currency == "" {
		return formatDecimal(*d, 2)
	}
	return formatDecimal(*d, 2) + " " + currency
}

func formatChange(pct *decimal.Decimal) string {
	if pct == nil {
		return "-"
	}
	sign := ""
	if pct.IsPositive() {
		sign = "+"
	}
	return sign + formatDecimal(*pct, 2) + "%"
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
