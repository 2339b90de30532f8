package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"price-tracker/internal/alerting"
	"price-tracker/internal/storage"
)

// AddAlertOptions describe a new alert.
type AddAlertOptions struct {
	ProductID string
	Kind      storage.AlertKind
	Threshold decimal.Decimal
	Email     bool
	Web       bool
}

// AddAlert creates an active alert on a product.
func (a *App) AddAlert(ctx context.Context, opts AddAlertOptions) (storage.Alert, error) {
	id, err := parseID(opts.ProductID)
	if err != nil {
		return storage.Alert{}, err
	}
	if !opts.Kind.Valid() {
		return storage.Alert{}, fmt.Errorf("unknown alert type %q", opts.Kind)
	}
	if !opts.Threshold.IsPositive() {
		return storage.Alert{}, errors.New("threshold value must be a positive number")
	}
	if opts.Kind == storage.AlertDemandSpike && opts.Threshold.GreaterThan(decimal.NewFromInt(1)) {
		return storage.Alert{}, errors.New("demand_spike threshold must be within (0, 1]")
	}
	// thresholds are stored as NUMERIC(12, 2)
	if !fitsCents(opts.Threshold) {
		return storage.Alert{}, errors.New("threshold value allows at most 2 decimal places")
	}
	if !opts.Email && !opts.Web {
		return storage.Alert{}, errors.New("please select at least one notification method")
	}

	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return storage.Alert{}, err
	}
	defer closeStore()

	product, err := repo.GetProduct(ctx, id)
	if err != nil {
		return storage.Alert{}, err
	}

	return repo.CreateAlert(ctx, storage.Alert{
		ProductID:   product.ID,
		OwnerID:     product.OwnerID,
		Kind:        opts.Kind,
		Threshold:   opts.Threshold,
		EmailNotify: opts.Email,
		WebNotify:   opts.Web,
	})
}

// DisableAlert moves an alert to the disabled state.
func (a *App) DisableAlert(ctx context.Context, id int64) error {
	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return repo.DisableAlert(ctx, id)
}

// DeleteAlert removes an alert.
func (a *App) DeleteAlert(ctx context.Context, id int64) error {
	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return repo.DeleteAlert(ctx, id)
}

// SimulateAlert 以给定价格向告警配置的通道发送一次测试通知，不改变告警状态。
func (a *App) SimulateAlert(ctx context.Context, alertID int64, price decimal.Decimal) error {
	channels := a.newChannels()
	if channels.Email == nil && channels.Web == nil {
		return errors.New("未配置任何告警通道")
	}

	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	alert, err := repo.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}
	product, err := repo.GetProduct(ctx, alert.ProductID)
	if err != nil {
		return err
	}

	note := alerting.Notification{
		AlertID:      alert.ID,
		Kind:         alert.Kind,
		ProductID:    product.ID,
		ProductName:  product.Name,
		ProductURL:   product.URL,
		OwnerID:      product.OwnerID,
		OwnerEmail:   product.OwnerEmail,
		CurrentPrice: price,
		Currency:     product.Currency,
		Threshold:    alert.Threshold,
		TriggeredAt:  time.Now().UTC(),
	}

	var errs []error
	if alert.EmailNotify && channels.Email != nil {
		errs = append(errs, channels.Email.Notify(ctx, note))
	}
	if alert.WebNotify && channels.Web != nil {
		errs = append(errs, channels.Web.Notify(ctx, note))
	}
	return errors.Join(errs...)
}

func fitsCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}
