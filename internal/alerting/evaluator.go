package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-tracker/internal/storage"
)

// DemandSource yields the current demand score of a product.
type DemandSource interface {
	Score(ctx context.Context, productID uuid.UUID) float64
}

// Channels routes notifications by the alert's channel flags. Either may be nil.
type Channels struct {
	Email Notifier
	Web   Notifier
}

// Evaluator 负责告警状态机：active → triggered，单向且仅触发一次。
type Evaluator struct {
	alerts   storage.AlertStore
	demand   DemandSource
	channels Channels
	logger   zerolog.Logger
	now      func() time.Time
}

// NewEvaluator 构造告警评估器。demand 为空时 demand_spike 告警永不触发。
func NewEvaluator(alerts storage.AlertStore, demand DemandSource, channels Channels, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		alerts:   alerts,
		demand:   demand,
		channels: channels,
		logger:   logger.With().Str("component", "alert_evaluator").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate checks one alert against the product's current state. It returns
// true only when this call moved the alert from active to triggered.
func (e *Evaluator) Evaluate(ctx context.Context, alert *storage.Alert, product storage.Product) (bool, error) {
	if alert == nil || alert.State != storage.AlertActive || product.CurrentPrice == nil {
		return false, nil
	}
	if alert.ProductID != product.ID {
		return false, fmt.Errorf("alert %d belongs to product %s, not %s", alert.ID, alert.ProductID, product.ID)
	}

	hit, score := e.conditionMet(ctx, alert, *product.CurrentPrice)
	if !hit {
		return false, nil
	}

	at := e.now()
	changed, err := e.alerts.MarkAlertTriggered(ctx, alert.ID, at)
	if err != nil {
		return false, fmt.Errorf("mark alert %d triggered: %w", alert.ID, err)
	}
	if !changed {
		// Another writer already moved it out of active.
		return false, nil
	}

	alert.State = storage.AlertTriggered
	if alert.TriggeredAt == nil {
		alert.TriggeredAt = &at
	}

	e.logger.Info().
		Int64("alert_id", alert.ID).
		Str("product_id", product.ID.String()).
		Str("kind", string(alert.Kind)).
		Str("current_price", product.CurrentPrice.String()).
		Str("threshold", alert.Threshold.String()).
		Msg("告警已触发")

	e.dispatch(ctx, *alert, product, score)
	return true, nil
}

// EvaluateProduct runs every active alert of the product and returns how many fired.
func (e *Evaluator) EvaluateProduct(ctx context.Context, product storage.Product) (int, error) {
	alerts, err := e.alerts.ListActiveAlerts(ctx, product.ID)
	if err != nil {
		return 0, fmt.Errorf("list active alerts: %w", err)
	}

	fired := 0
	var errs []error
	for i := range alerts {
		ok, err := e.Evaluate(ctx, &alerts[i], product)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			fired++
		}
	}
	return fired, errors.Join(errs...)
}

func (e *Evaluator) conditionMet(ctx context.Context, alert *storage.Alert, price decimal.Decimal) (bool, *float64) {
	switch alert.Kind {
	case storage.AlertPriceDrop:
		return price.LessThanOrEqual(alert.Threshold), nil
	case storage.AlertPriceIncrease:
		return price.GreaterThanOrEqual(alert.Threshold), nil
	case storage.AlertDemandSpike:
		if e.demand == nil {
			return false, nil
		}
		score := e.demand.Score(ctx, alert.ProductID)
		return decimal.NewFromFloat(score).GreaterThanOrEqual(alert.Threshold), &score
	default:
		e.logger.Warn().Int64("alert_id", alert.ID).Str("kind", string(alert.Kind)).Msg("未知告警类型，跳过")
		return false, nil
	}
}

func (e *Evaluator) dispatch(ctx context.Context, alert storage.Alert, product storage.Product, score *float64) {
	note := Notification{
		AlertID:      alert.ID,
		Kind:         alert.Kind,
		ProductID:    product.ID,
		ProductName:  product.Name,
		ProductURL:   product.URL,
		OwnerID:      product.OwnerID,
		OwnerEmail:   product.OwnerEmail,
		CurrentPrice: *product.CurrentPrice,
		Currency:     product.Currency,
		Threshold:    alert.Threshold,
		DemandScore:  score,
		TriggeredAt:  *alert.TriggeredAt,
	}

	if alert.EmailNotify && e.channels.Email != nil {
		if err := e.channels.Email.Notify(ctx, note); err != nil {
			e.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("邮件告警发送失败")
		}
	}
	if alert.WebNotify && e.channels.Web != nil {
		if err := e.channels.Web.Notify(ctx, note); err != nil {
			e.logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("Telegram 告警发送失败")
		}
	}
}
