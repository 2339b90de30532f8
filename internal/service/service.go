package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"price-tracker/internal/forecast"
	"price-tracker/internal/scheduler"
	"price-tracker/internal/scraper"
	"price-tracker/internal/storage"
)

// PriceScraper scrapes one product page. Failures are carried in the Result.
type PriceScraper interface {
	Scrape(ctx context.Context, product storage.Product) scraper.Result
}

// PriceForecaster refreshes the stored forecasts of one product.
type PriceForecaster interface {
	Forecast(ctx context.Context, productID uuid.UUID, horizonDays int) ([]forecast.Prediction, error)
}

// AlertEvaluator runs the active alerts of one product.
type AlertEvaluator interface {
	EvaluateProduct(ctx context.Context, product storage.Product) (int, error)
}

// Options tune the update pipeline.
type Options struct {
	HorizonDays int
	BulkDelay   time.Duration
	StaleAfter  time.Duration
	LockKey     int64
}

// UpdateOptions select what one update run processes.
type UpdateOptions struct {
	// ProductID restricts the run to one product regardless of staleness.
	ProductID       uuid.UUID
	Force           bool
	DryRun          bool
	SkipPredictions bool
	Source          storage.ObservationSource
}

// Summary counts per-product outcomes of one update run.
type Summary struct {
	Selected    int
	Updated     int
	Failed      int
	Duplicates  int
	Predictions int
	AlertsFired int
	// Planned lists the selected products; it is the only output of a dry run.
	Planned []storage.Product
}

// Service orchestrates scraping, persistence, forecasting, and alerting.
type Service struct {
	opts       Options
	scheduler  *scheduler.Scheduler
	repo       storage.Repository
	scraper    PriceScraper
	forecaster PriceForecaster
	evaluator  AlertEvaluator
	locker     storage.AdvisoryLocker
	logger     zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs the price update service. forecaster and evaluator may be nil.
func New(opts Options, sched *scheduler.Scheduler, repo storage.Repository, scr PriceScraper, forecaster PriceForecaster, evaluator AlertEvaluator, logger zerolog.Logger) *Service {
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = 7
	}

	var locker storage.AdvisoryLocker
	if l, ok := repo.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		opts:       opts,
		scheduler:  sched,
		repo:       repo,
		scraper:    scr,
		forecaster: forecaster,
		evaluator:  evaluator,
		locker:     locker,
		logger:     logger.With().Str("component", "service").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
		sleep:      sleepContext,
	}
}

// Run begins the scheduled update loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick 执行一次定时更新：抢占咨询锁后处理所有过期的活跃商品。
func (s *Service) ProcessTick(ctx context.Context, tick time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", tick).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	summary, err := s.UpdatePrices(ctx, UpdateOptions{Source: storage.SourceScheduled})
	s.logger.Info().Time("tick", tick).
		Int("selected", summary.Selected).
		Int("updated", summary.Updated).
		Int("failed", summary.Failed).
		Int("predictions", summary.Predictions).
		Int("alerts_fired", summary.AlertsFired).
		Msg("scheduled update finished")
	return err
}

// UpdatePrices runs the pipeline over the selected products one at a time,
// pausing BulkDelay between products.
func (s *Service) UpdatePrices(ctx context.Context, opts UpdateOptions) (Summary, error) {
	products, err := s.selectProducts(ctx, opts)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Selected: len(products), Planned: products}
	if opts.DryRun {
		return summary, nil
	}

	source := opts.Source
	if source == "" {
		source = storage.SourceBulk
		if opts.ProductID != uuid.Nil {
			source = storage.SourceManual
		}
	}

	var errs []error
	for i, product := range products {
		if i > 0 && s.opts.BulkDelay > 0 {
			if err := s.sleep(ctx, s.opts.BulkDelay); err != nil {
				return summary, errors.Join(append(errs, err)...)
			}
		}

		updated, err := s.updateOne(ctx, product, source, &summary)
		if err != nil {
			errs = append(errs, err)
		}
		if updated == nil {
			summary.Failed++
			continue
		}
		summary.Updated++

		if !opts.SkipPredictions && s.forecaster != nil {
			predictions, err := s.forecaster.Forecast(ctx, updated.ID, s.opts.HorizonDays)
			if err != nil {
				s.logger.Error().Err(err).Str("product_id", product.ID.String()).Msg("forecast failed")
			}
			summary.Predictions += len(predictions)
		}

		if s.evaluator != nil {
			fired, err := s.evaluator.EvaluateProduct(ctx, *updated)
			if err != nil {
				s.logger.Error().Err(err).Str("product_id", product.ID.String()).Msg("alert evaluation failed")
			}
			summary.AlertsFired += fired
		}
	}

	return summary, errors.Join(errs...)
}

// updateOne scrapes and persists one product. It returns the refreshed
// product, or nil when no price was recorded.
func (s *Service) updateOne(ctx context.Context, product storage.Product, source storage.ObservationSource, summary *Summary) (*storage.Product, error) {
	res := s.scraper.Scrape(ctx, product)
	if !res.OK() {
		s.logger.Warn().
			Str("product_id", product.ID.String()).
			Str("url", product.URL).
			Str("error_kind", string(res.Failure.Kind)).
			Str("detail", res.Failure.Detail).
			Msg("could not update price")
		return nil, nil
	}

	price := *res.Price
	at := s.now()
	outcome, err := s.repo.RecordPrice(ctx, storage.PriceObservation{
		ProductID:  product.ID,
		Price:      price,
		Currency:   product.Currency,
		RecordedAt: at,
		Source:     source,
		Valid:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("record price of %s: %w", product.ID, err)
	}
	product.CurrentPrice = &price
	product.LastScrapedAt = &at
	if outcome == storage.AppendDuplicate {
		summary.Duplicates++
		s.logger.Info().Str("product_id", product.ID.String()).Time("recorded_at", at).Msg("observation already recorded, skipped")
	}

	s.logger.Info().
		Str("product_id", product.ID.String()).
		Str("price", price.String()).
		Bool("rendered", res.Rendered).
		Str("source", string(source)).
		Msg("price updated")
	return &product, nil
}

func (s *Service) selectProducts(ctx context.Context, opts UpdateOptions) ([]storage.Product, error) {
	if opts.ProductID != uuid.Nil {
		product, err := s.repo.GetProduct(ctx, opts.ProductID)
		if err != nil {
			return nil, fmt.Errorf("load product %s: %w", opts.ProductID, err)
		}
		return []storage.Product{product}, nil
	}

	products, err := s.repo.ListProducts(ctx, storage.ProductFilter{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list active products: %w", err)
	}
	if opts.Force || s.opts.StaleAfter <= 0 {
		return products, nil
	}

	cutoff := s.now().Add(-s.opts.StaleAfter)
	stale := products[:0]
	for _, p := range products {
		if p.LastScrapedAt == nil || p.LastScrapedAt.Before(cutoff) {
			stale = append(stale, p)
		}
	}
	return stale, nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
