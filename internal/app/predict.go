package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"price-tracker/internal/storage"
)

// Predict regenerates forecasts from stored history without scraping.
func (a *App) Predict(ctx context.Context, opts PredictOptions) error {
	id, err := parseOptionalID(opts.ProductID)
	if err != nil {
		return err
	}

	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	var products []storage.Product
	if id != uuid.Nil {
		product, err := repo.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		products = []storage.Product{product}
	} else {
		products, err = repo.ListProducts(ctx, storage.ProductFilter{ActiveOnly: true})
		if err != nil {
			return err
		}
	}

	if opts.DryRun {
		a.Logger.Warn().Int("products", len(products)).Msg("预测 dry-run：不会写入数据库")
		for _, p := range products {
			fmt.Fprintf(a.Out, "  - %s (ID: %s)\n", p.Name, p.ID)
		}
		return nil
	}

	forecaster, _ := a.newForecaster(repo)
	horizon := a.Config.Forecast.HorizonDays

	generated, skipped, failed := 0, 0, 0
	for _, product := range products {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		predictions, err := forecaster.Forecast(ctx, product.ID, horizon)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Str("product_id", product.ID.String()).Msg("预测生成失败")
			continue
		}
		if len(predictions) == 0 {
			skipped++
			continue
		}
		generated += len(predictions)
	}

	a.Logger.Info().Int("generated", generated).Int("skipped", skipped).Int("failed", failed).Msg("预测完成")
	fmt.Fprintf(a.Out, "%d predictions generated, %d products skipped for insufficient data.\n", generated, skipped)
	if failed > 0 {
		return errors.New("部分商品预测失败，请检查日志")
	}
	return nil
}
