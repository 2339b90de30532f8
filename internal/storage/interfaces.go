package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

// ProductFilter narrows product listings. Zero values match everything.
type ProductFilter struct {
	OwnerID    string
	ActiveOnly bool
}

// ProductStore persists tracked products.
type ProductStore interface {
	CreateProduct(ctx context.Context, p Product) (Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)
	FindActiveByUser(ctx context.Context, ownerID string) ([]Product, error)
	UpdateScrapedPrice(ctx context.Context, id uuid.UUID, price decimal.Decimal, scrapedAt time.Time) error
	SetProductActive(ctx context.Context, id uuid.UUID, active bool) error
	DeleteProduct(ctx context.Context, id uuid.UUID) error
}

// SeriesStore is the append-only per-product price series.
type SeriesStore interface {
	AppendObservation(ctx context.Context, obs PriceObservation) (AppendResult, error)
	QueryRange(ctx context.Context, productID uuid.UUID, since time.Time) ([]PriceObservation, error)
	MarkObservationInvalid(ctx context.Context, id int64) error
}

// PriceRecorder stores a scraped price as an observation and as the product's
// current price. Either both writes land or neither does.
type PriceRecorder interface {
	RecordPrice(ctx context.Context, obs PriceObservation) (AppendResult, error)
}

// AttemptLog records scrape attempts. BeginAttempt writes a complete failed row
// that FinishAttempt later upgrades.
type AttemptLog interface {
	BeginAttempt(ctx context.Context, productID uuid.UUID, startedAt time.Time) (int64, error)
	FinishAttempt(ctx context.Context, attempt ScrapeAttempt) error
	ListRecentAttempts(ctx context.Context, productID uuid.UUID, limit int) ([]ScrapeAttempt, error)
}

// ForecastStore persists forecasts keyed by (product, target date, model id).
type ForecastStore interface {
	UpsertForecast(ctx context.Context, f Forecast) error
	ListForecasts(ctx context.Context, productID uuid.UUID, modelID string, from time.Time) ([]Forecast, error)
}

// AlertStore persists user alerts.
type AlertStore interface {
	CreateAlert(ctx context.Context, a Alert) (Alert, error)
	GetAlert(ctx context.Context, id int64) (Alert, error)
	ListAlerts(ctx context.Context, productID uuid.UUID) ([]Alert, error)
	ListActiveAlerts(ctx context.Context, productID uuid.UUID) ([]Alert, error)
	// MarkAlertTriggered moves an active alert to triggered and reports whether it did.
	MarkAlertTriggered(ctx context.Context, id int64, at time.Time) (bool, error)
	DisableAlert(ctx context.Context, id int64) error
	DeleteAlert(ctx context.Context, id int64) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Repository aggregates every store the pipeline needs.
type Repository interface {
	ProductStore
	SeriesStore
	PriceRecorder
	AttemptLog
	ForecastStore
	AlertStore
	Close()
}

// normalizeTimestamp truncates to the precision PostgreSQL keeps so duplicate
// detection agrees across backends.
func normalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
