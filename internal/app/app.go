package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"price-tracker/internal/alerting"
	"price-tracker/internal/config"
	"price-tracker/internal/extractor"
	"price-tracker/internal/fetcher"
	"price-tracker/internal/forecast"
	"price-tracker/internal/scheduler"
	"price-tracker/internal/scraper"
	"price-tracker/internal/service"
	"price-tracker/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	// repo overrides the PostgreSQL store when set.
	repo storage.Repository
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) openStore(ctx context.Context) (storage.Repository, func(), error) {
	if a.repo != nil {
		return a.repo, func() {}, nil
	}
	if a.Config.Database.DSN == "" {
		return nil, nil, fmt.Errorf("database.dsn not configured: %w", storage.ErrNotConfigured)
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	return store, store.Close, nil
}

func (a *App) newScraper(attempts storage.AttemptLog) *scraper.Scraper {
	cfg := a.Config.Scraper
	httpFetcher := fetcher.NewHTTP(fetcher.HTTPOptions{
		Timeout:        cfg.RequestTimeout,
		RequestDelay:   cfg.RequestDelay,
		UserAgents:     cfg.UserAgents,
		AcceptLanguage: cfg.AcceptLanguage,
	}, a.Logger)

	var renderer extractor.Renderer
	if a.Config.Render.Enabled {
		r := a.Config.Render
		renderer = extractor.NewRodRenderer(extractor.RodOptions{
			BrowserBin:      r.BrowserBin,
			Headless:        r.Headless,
			NoSandbox:       r.NoSandbox,
			UserAgent:       httpFetcher.UserAgent(),
			PageLoadTimeout: r.PageLoadTimeout,
			ImplicitWait:    r.ImplicitWait,
		}, a.Logger)
	}

	return scraper.New(scraper.Options{
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RequestDelay,
	}, extractor.NewClassifier(nil), httpFetcher, extractor.New(renderer, a.Logger), attempts, a.Logger)
}

func (a *App) newForecaster(repo storage.Repository) (*forecast.Forecaster, *forecast.DemandScorer) {
	cfg := a.Config.Forecast
	demand := forecast.NewDemandScorer(repo, cfg.DemandWindow, a.Logger)
	return forecast.NewForecaster(forecast.Options{
		Lookback:          cfg.Lookback,
		HoldoutFraction:   cfg.HoldoutFraction,
		DefaultConfidence: cfg.DefaultConfidence,
		ModelID:           cfg.ModelID,
		ModelVersion:      cfg.ModelVersion,
	}, repo, repo, demand, a.Logger), demand
}

func (a *App) newChannels() alerting.Channels {
	var channels alerting.Channels
	if !a.Config.Alerting.Enabled {
		return channels
	}
	if mail := a.Config.Alerting.Email; mail.Enabled {
		channels.Email = alerting.NewEmailNotifier(alerting.EmailOptions{
			Host:     mail.Host,
			Port:     mail.Port,
			Username: mail.Username,
			Password: mail.Password,
			From:     mail.From,
			Timeout:  mail.Timeout,
		}, a.Logger)
	}
	if tg := a.Config.Alerting.Telegram; tg.Enabled {
		channels.Web = alerting.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, 10*time.Second, a.Logger)
	}
	return channels
}

func (a *App) newService(repo storage.Repository, sched *scheduler.Scheduler) *service.Service {
	forecaster, demand := a.newForecaster(repo)
	evaluator := alerting.NewEvaluator(repo, demand, a.newChannels(), a.Logger)

	return service.New(service.Options{
		HorizonDays: a.Config.Forecast.HorizonDays,
		BulkDelay:   a.Config.Scraper.BulkDelay,
		StaleAfter:  a.Config.Scraper.StaleAfter,
		LockKey:     a.Config.Scheduler.AdvisoryLockKey,
	}, sched, repo, a.newScraper(repo), forecaster, evaluator, a.Logger)
}

// Run executes the long-running price tracking service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		Cron:         a.Config.Scheduler.Cron,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	if err != nil {
		return err
	}

	svc := a.newService(repo, sched)

	a.Logger.Info().Msg("starting price tracking service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("price tracking service stopped")
	return nil
}

// Update runs one pass of the update pipeline and prints its summary.
func (a *App) Update(ctx context.Context, opts service.UpdateOptions) (service.Summary, error) {
	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return service.Summary{}, err
	}
	defer closeStore()

	summary, err := a.newService(repo, nil).UpdatePrices(ctx, opts)
	if summary.Selected == 0 && err == nil {
		fmt.Fprintln(a.Out, "No products to update.")
		return summary, nil
	}

	if opts.DryRun {
		fmt.Fprintf(a.Out, "Found %d products to update. DRY RUN - no changes made.\n", summary.Selected)
		for _, p := range summary.Planned {
			fmt.Fprintf(a.Out, "  - %s (ID: %s)\n", p.Name, p.ID)
		}
		return summary, err
	}

	fmt.Fprintf(a.Out, "Update completed: %d prices updated, %d failed, %d predictions generated, %d alerts triggered.\n",
		summary.Updated, summary.Failed, summary.Predictions, summary.AlertsFired)
	if summary.Failed > 0 {
		fmt.Fprintln(a.Out, "Some prices could not be updated, try again later.")
	}
	return summary, err
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	ProductID string
	OwnerID   string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	JSONPath  string
	MaxPoints int
}

// ShowOptions configure the show commands.
type ShowOptions struct {
	ProductID string
	OwnerID   string
	Limit     int
}

// PredictOptions configure forecast regeneration without scraping.
type PredictOptions struct {
	ProductID string
	DryRun    bool
}
