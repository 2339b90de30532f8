// Package scraper wires the fetcher and extractor into one audited scrape.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"price-tracker/internal/extractor"
	"price-tracker/internal/fetcher"
	"price-tracker/internal/storage"
)

var tracer = otel.Tracer("price-tracker/internal/scraper")

// Options tune retry behaviour.
type Options struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

// Scraper fetches a product page, extracts its price, and records the attempt.
// Distinct products may be scraped concurrently; callers serialise per product.
type Scraper struct {
	opts       Options
	classifier *extractor.Classifier
	fetcher    fetcher.Fetcher
	extractor  *extractor.Extractor
	attempts   storage.AttemptLog
	logger     zerolog.Logger
	now        func() time.Time
}

// New constructs a Scraper.
func New(opts Options, classifier *extractor.Classifier, f fetcher.Fetcher, ex *extractor.Extractor, attempts storage.AttemptLog, logger zerolog.Logger) *Scraper {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if classifier == nil {
		classifier = extractor.NewClassifier(nil)
	}
	if ex == nil {
		ex = extractor.New(nil, logger)
	}
	return &Scraper{
		opts:       opts,
		classifier: classifier,
		fetcher:    f,
		extractor:  ex,
		attempts:   attempts,
		logger:     logger.With().Str("component", "scraper").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Scrape runs one attempt for product. It never returns an error or panics: every
// outcome is written to the attempt log and returned as a Result.
func (s *Scraper) Scrape(ctx context.Context, product storage.Product) (res Result) {
	ctx, span := tracer.Start(ctx, "scraper.Scrape", trace.WithAttributes(
		attribute.String("product.id", product.ID.String()),
		attribute.String("product.url", product.URL),
	))
	defer span.End()

	started := s.now()
	attempt := storage.ScrapeAttempt{
		ProductID: product.ID,
		Status:    storage.AttemptFailed,
		StartedAt: started,
	}

	// The audit row must survive cancellation of the caller.
	auditCtx := context.WithoutCancel(ctx)
	if id, err := s.attempts.BeginAttempt(auditCtx, product.ID, started); err != nil {
		s.logger.Error().Err(err).Str("product_id", product.ID.String()).Msg("failed to record scrape attempt start")
	} else {
		attempt.ID = id
	}

	defer func() {
		if rec := recover(); rec != nil {
			res = Fail(FailureInternal, fmt.Sprintf("panic: %v", rec))
		}
		res.Attempt = s.finish(auditCtx, attempt, res)

		span.SetAttributes(
			attribute.String("scrape.status", string(res.Attempt.Status)),
			attribute.Int("scrape.retry_count", res.Attempt.RetryCount),
			attribute.Bool("scrape.rendered", res.Rendered),
		)
		if res.Failure != nil {
			span.SetStatus(codes.Error, string(res.Failure.Kind))
		}
	}()

	return s.run(ctx, product, &attempt)
}

func (s *Scraper) run(ctx context.Context, product storage.Product, attempt *storage.ScrapeAttempt) Result {
	kind := s.classifier.Classify(product.URL)
	if !kind.Supported() {
		return Fail(FailureUnsupportedSite, fmt.Sprintf("%v: %s", extractor.ErrUnsupportedSite, product.URL))
	}

	var staticErr error
	page, err := s.fetchWithRetry(ctx, product.URL, attempt)
	if err == nil {
		match, extractErr := s.extractor.Extract(page.Body, kind)
		if extractErr == nil {
			return Success(match.Price)
		}
		staticErr = extractErr
	} else {
		staticErr = err
	}

	if !s.extractor.HasFallback() {
		return failureFrom(staticErr, nil)
	}

	s.logger.Debug().Err(staticErr).Str("product_id", product.ID.String()).Msg("fast path failed, rendering page")
	match, renderErr := s.extractor.Render(ctx, product.URL, kind)
	if renderErr == nil {
		res := Success(match.Price)
		res.Rendered = true
		return res
	}
	return failureFrom(staticErr, renderErr)
}

func (s *Scraper) fetchWithRetry(ctx context.Context, url string, attempt *storage.ScrapeAttempt) (fetcher.Page, error) {
	for try := 0; ; try++ {
		page, err := s.fetcher.Fetch(ctx, url)
		if err == nil {
			return page, nil
		}

		var fe *fetcher.FetchError
		if try >= s.opts.MaxRetries || !errors.As(err, &fe) || !fe.Retryable() {
			return fetcher.Page{}, err
		}

		attempt.RetryCount++
		s.logger.Debug().Err(err).Str("url", url).Int("retry", attempt.RetryCount).Msg("retrying fetch")
		if s.opts.RetryBackoff > 0 {
			timer := time.NewTimer(s.opts.RetryBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fetcher.Page{}, err
			case <-timer.C:
			}
		}
	}
}

func (s *Scraper) finish(ctx context.Context, attempt storage.ScrapeAttempt, res Result) storage.ScrapeAttempt {
	completed := s.now()
	attempt.Status = res.attemptStatus()
	attempt.Latency = completed.Sub(attempt.StartedAt)
	attempt.CompletedAt = &completed
	if res.OK() {
		price := *res.Price
		attempt.Price = &price
	}
	if res.Failure != nil {
		detail := string(res.Failure.Kind) + ": " + res.Failure.Detail
		attempt.Error = &detail
	}

	if attempt.ID != 0 {
		if err := s.attempts.FinishAttempt(ctx, attempt); err != nil {
			s.logger.Error().Err(err).Int64("attempt_id", attempt.ID).Msg("failed to record scrape attempt outcome")
		}
	}
	return attempt
}

// failureFrom maps the fast-path error and optional render error to a Failure.
// The fast-path kind wins unless rendering found a price node it could not parse.
func failureFrom(staticErr, renderErr error) Result {
	kind := classify(staticErr)
	detail := staticErr.Error()
	if renderErr != nil {
		detail = fmt.Sprintf("%s; render fallback: %v", detail, renderErr)
		if errors.Is(renderErr, extractor.ErrUnparseable) {
			kind = FailureUnparseable
		}
	}
	return Fail(kind, detail)
}

func classify(err error) FailureKind {
	switch {
	case errors.Is(err, extractor.ErrUnsupportedSite):
		return FailureUnsupportedSite
	case errors.Is(err, extractor.ErrUnparseable):
		return FailureUnparseable
	case errors.Is(err, extractor.ErrNotFound):
		return FailureNotFound
	}
	switch fetcher.KindOf(err) {
	case fetcher.KindTimeout:
		return FailureTimeout
	case fetcher.KindConnection:
		return FailureConnection
	case fetcher.KindHTTPStatus:
		return FailureHTTPStatus
	}
	return FailureInternal
}
