package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"price-tracker/internal/extractor"
	"price-tracker/internal/storage"
)

// AddProductOptions describe a new tracked product.
type AddProductOptions struct {
	OwnerID      string
	OwnerEmail   string
	Name         string
	URL          string
	Currency     string
	Threshold    *decimal.Decimal
	InitialPrice *decimal.Decimal
}

// AddProduct registers a product. A threshold also creates a price_drop alert,
// and an initial price is recorded as the first observation.
func (a *App) AddProduct(ctx context.Context, opts AddProductOptions) (storage.Product, error) {
	opts.OwnerID = strings.TrimSpace(opts.OwnerID)
	opts.Name = strings.TrimSpace(opts.Name)
	opts.URL = strings.TrimSpace(opts.URL)
	if opts.OwnerID == "" || opts.Name == "" || opts.URL == "" {
		return storage.Product{}, errors.New("owner, name and url are required")
	}
	if !extractor.NewClassifier(nil).Classify(opts.URL).Supported() {
		return storage.Product{}, fmt.Errorf("%w: please enter a valid URL from Amazon or Flipkart", extractor.ErrUnsupportedSite)
	}
	if opts.Threshold != nil && !opts.Threshold.IsPositive() {
		return storage.Product{}, errors.New("alert threshold must be a positive number")
	}
	if opts.Threshold != nil && !fitsCents(*opts.Threshold) {
		return storage.Product{}, errors.New("alert threshold allows at most 2 decimal places")
	}
	if opts.InitialPrice != nil && !opts.InitialPrice.IsPositive() {
		return storage.Product{}, errors.New("initial price must be a positive number")
	}

	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return storage.Product{}, err
	}
	defer closeStore()

	currency := strings.ToUpper(strings.TrimSpace(opts.Currency))
	if currency == "" {
		currency = storage.DefaultCurrency
	}

	product, err := repo.CreateProduct(ctx, storage.Product{
		OwnerID:        opts.OwnerID,
		OwnerEmail:     strings.TrimSpace(opts.OwnerEmail),
		Name:           opts.Name,
		URL:            opts.URL,
		Currency:       currency,
		AlertThreshold: opts.Threshold,
		Active:         true,
	})
	if err != nil {
		return storage.Product{}, err
	}

	if opts.Threshold != nil {
		if _, err := repo.CreateAlert(ctx, storage.Alert{
			ProductID:   product.ID,
			OwnerID:     product.OwnerID,
			Kind:        storage.AlertPriceDrop,
			Threshold:   *opts.Threshold,
			EmailNotify: true,
			WebNotify:   true,
		}); err != nil {
			return product, fmt.Errorf("create threshold alert: %w", err)
		}
	}

	if opts.InitialPrice != nil {
		at := time.Now().UTC()
		if _, err := repo.RecordPrice(ctx, storage.PriceObservation{
			ProductID:  product.ID,
			Price:      *opts.InitialPrice,
			Currency:   product.Currency,
			RecordedAt: at,
			Source:     storage.SourceInitial,
			Valid:      true,
		}); err != nil {
			return product, fmt.Errorf("record initial price: %w", err)
		}
		product.CurrentPrice = opts.InitialPrice
		product.LastScrapedAt = &at
	}

	a.Logger.Info().Str("product_id", product.ID.String()).Str("owner_id", product.OwnerID).Msg("product added")
	return product, nil
}

// ToggleProduct flips the active flag and returns the new value.
func (a *App) ToggleProduct(ctx context.Context, rawID string) (bool, error) {
	id, err := parseID(rawID)
	if err != nil {
		return false, err
	}
	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return false, err
	}
	defer closeStore()

	product, err := repo.GetProduct(ctx, id)
	if err != nil {
		return false, err
	}
	active := !product.Active
	if err := repo.SetProductActive(ctx, id, active); err != nil {
		return false, err
	}
	return active, nil
}

// DeleteProduct removes a product with its history, forecasts, and alerts.
func (a *App) DeleteProduct(ctx context.Context, rawID string) error {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return repo.DeleteProduct(ctx, id)
}

// InvalidateObservation excludes one observation from queries without deleting it.
func (a *App) InvalidateObservation(ctx context.Context, id int64) error {
	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return repo.MarkObservationInvalid(ctx, id)
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid product id %q: %w", raw, err)
	}
	return id, nil
}

func parseOptionalID(raw string) (uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return uuid.Nil, nil
	}
	return parseID(raw)
}
