package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is a process-local Repository. It is a test double and backs nothing in production.
type MemoryStore struct {
	mu sync.RWMutex

	products     map[uuid.UUID]Product
	observations map[uuid.UUID][]PriceObservation
	attempts     []ScrapeAttempt
	forecasts    map[forecastKey]Forecast
	alerts       map[int64]Alert

	nextObservationID int64
	nextAttemptID     int64
	nextForecastID    int64
	nextAlertID       int64

	now func() time.Time
}

type forecastKey struct {
	productID  uuid.UUID
	targetDate time.Time
	modelID    string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     make(map[uuid.UUID]Product),
		observations: make(map[uuid.UUID][]PriceObservation),
		forecasts:    make(map[forecastKey]Forecast),
		alerts:       make(map[int64]Alert),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Close is a no-op.
func (m *MemoryStore) Close() {}

func (m *MemoryStore) CreateProduct(_ context.Context, p Product) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if _, exists := m.products[p.ID]; exists {
		return Product{}, fmt.Errorf("insert product: duplicate id %s", p.ID)
	}
	if p.Currency == "" {
		p.Currency = DefaultCurrency
	}
	now := m.now()
	p.CreatedAt, p.UpdatedAt = now, now
	p = cloneProduct(p)
	m.products[p.ID] = p
	return cloneProduct(p), nil
}

func (m *MemoryStore) GetProduct(_ context.Context, id uuid.UUID) (Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return cloneProduct(p), nil
}

func (m *MemoryStore) ListProducts(_ context.Context, filter ProductFilter) ([]Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	products := make([]Product, 0, len(m.products))
	for _, p := range m.products {
		if filter.OwnerID != "" && p.OwnerID != filter.OwnerID {
			continue
		}
		if filter.ActiveOnly && !p.Active {
			continue
		}
		products = append(products, cloneProduct(p))
	}
	sort.Slice(products, func(i, j int) bool {
		if !products[i].CreatedAt.Equal(products[j].CreatedAt) {
			return products[i].CreatedAt.Before(products[j].CreatedAt)
		}
		return products[i].ID.String() < products[j].ID.String()
	})
	return products, nil
}

func (m *MemoryStore) FindActiveByUser(ctx context.Context, ownerID string) ([]Product, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	return m.ListProducts(ctx, ProductFilter{OwnerID: ownerID, ActiveOnly: true})
}

func (m *MemoryStore) UpdateScrapedPrice(_ context.Context, id uuid.UUID, price decimal.Decimal, scrapedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return ErrNotFound
	}
	at := scrapedAt.UTC()
	p.CurrentPrice = &price
	p.LastScrapedAt = &at
	p.UpdatedAt = m.now()
	m.products[id] = p
	return nil
}

func (m *MemoryStore) SetProductActive(_ context.Context, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return ErrNotFound
	}
	p.Active = active
	p.UpdatedAt = m.now()
	m.products[id] = p
	return nil
}

func (m *MemoryStore) DeleteProduct(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[id]; !ok {
		return ErrNotFound
	}
	delete(m.products, id)
	delete(m.observations, id)

	kept := m.attempts[:0]
	for _, a := range m.attempts {
		if a.ProductID != id {
			kept = append(kept, a)
		}
	}
	m.attempts = kept

	for key := range m.forecasts {
		if key.productID == id {
			delete(m.forecasts, key)
		}
	}
	for alertID, a := range m.alerts {
		if a.ProductID == id {
			delete(m.alerts, alertID)
		}
	}
	return nil
}

func (m *MemoryStore) AppendObservation(_ context.Context, obs PriceObservation) (AppendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[obs.ProductID]; !ok {
		return 0, fmt.Errorf("append observation: unknown product %s", obs.ProductID)
	}
	return m.appendLocked(obs), nil
}

func (m *MemoryStore) RecordPrice(_ context.Context, obs PriceObservation) (AppendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[obs.ProductID]
	if !ok {
		return 0, ErrNotFound
	}
	outcome := m.appendLocked(obs)

	price := obs.Price
	at := normalizeTimestamp(obs.RecordedAt)
	p.CurrentPrice = &price
	p.LastScrapedAt = &at
	p.UpdatedAt = m.now()
	m.products[obs.ProductID] = p
	return outcome, nil
}

func (m *MemoryStore) appendLocked(obs PriceObservation) AppendResult {
	obs.RecordedAt = normalizeTimestamp(obs.RecordedAt)

	series := m.observations[obs.ProductID]
	idx := sort.Search(len(series), func(i int) bool {
		return !series[i].RecordedAt.Before(obs.RecordedAt)
	})
	if idx < len(series) && series[idx].RecordedAt.Equal(obs.RecordedAt) {
		return AppendDuplicate
	}

	m.nextObservationID++
	obs.ID = m.nextObservationID
	series = append(series, PriceObservation{})
	copy(series[idx+1:], series[idx:])
	series[idx] = obs
	m.observations[obs.ProductID] = series
	return AppendInserted
}

func (m *MemoryStore) QueryRange(_ context.Context, productID uuid.UUID, since time.Time) ([]PriceObservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]PriceObservation, 0)
	for _, obs := range m.observations[productID] {
		if obs.RecordedAt.Before(since) || !obs.Valid {
			continue
		}
		result = append(result, obs)
	}
	return result, nil
}

func (m *MemoryStore) MarkObservationInvalid(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for productID, series := range m.observations {
		for i := range series {
			if series[i].ID == id {
				series[i].Valid = false
				m.observations[productID] = series
				return nil
			}
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) BeginAttempt(_ context.Context, productID uuid.UUID, startedAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[productID]; !ok {
		return 0, fmt.Errorf("begin attempt: unknown product %s", productID)
	}
	m.nextAttemptID++
	m.attempts = append(m.attempts, ScrapeAttempt{
		ID:        m.nextAttemptID,
		ProductID: productID,
		Status:    AttemptFailed,
		StartedAt: startedAt.UTC(),
	})
	return m.nextAttemptID, nil
}

func (m *MemoryStore) FinishAttempt(_ context.Context, attempt ScrapeAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.attempts {
		if m.attempts[i].ID != attempt.ID {
			continue
		}
		stored := m.attempts[i]
		stored.Status = attempt.Status
		stored.Price = cloneDecimal(attempt.Price)
		stored.Error = cloneString(attempt.Error)
		stored.Latency = attempt.Latency
		stored.RetryCount = attempt.RetryCount
		stored.CompletedAt = cloneTime(attempt.CompletedAt)
		m.attempts[i] = stored
		return nil
	}
	return ErrNotFound
}

func (m *MemoryStore) ListRecentAttempts(_ context.Context, productID uuid.UUID, limit int) ([]ScrapeAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ScrapeAttempt, 0)
	for i := len(m.attempts) - 1; i >= 0; i-- {
		a := m.attempts[i]
		if productID != uuid.Nil && a.ProductID != productID {
			continue
		}
		result = append(result, a)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) UpsertForecast(_ context.Context, f Forecast) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[f.ProductID]; !ok {
		return fmt.Errorf("upsert forecast: unknown product %s", f.ProductID)
	}
	f.TargetDate = truncateDay(f.TargetDate)
	f.PredictedPrice = f.PredictedPrice.Round(2)
	key := forecastKey{productID: f.ProductID, targetDate: f.TargetDate, modelID: f.ModelID}
	now := m.now()
	if existing, ok := m.forecasts[key]; ok {
		f.ID = existing.ID
		f.CreatedAt = existing.CreatedAt
	} else {
		m.nextForecastID++
		f.ID = m.nextForecastID
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	m.forecasts[key] = f
	return nil
}

func (m *MemoryStore) ListForecasts(_ context.Context, productID uuid.UUID, modelID string, from time.Time) ([]Forecast, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	from = truncateDay(from)
	result := make([]Forecast, 0)
	for key, f := range m.forecasts {
		if key.productID != productID || key.targetDate.Before(from) {
			continue
		}
		if modelID != "" && key.modelID != modelID {
			continue
		}
		result = append(result, f)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].TargetDate.Equal(result[j].TargetDate) {
			return result[i].TargetDate.Before(result[j].TargetDate)
		}
		return result[i].ModelID < result[j].ModelID
	})
	return result, nil
}

func (m *MemoryStore) CreateAlert(_ context.Context, a Alert) (Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[a.ProductID]; !ok {
		return Alert{}, fmt.Errorf("insert alert: unknown product %s", a.ProductID)
	}
	if a.State == "" {
		a.State = AlertActive
	}
	m.nextAlertID++
	a.ID = m.nextAlertID
	a.CreatedAt = m.now()
	a.TriggeredAt = cloneTime(a.TriggeredAt)
	m.alerts[a.ID] = a
	return a, nil
}

func (m *MemoryStore) GetAlert(_ context.Context, id int64) (Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.alerts[id]
	if !ok {
		return Alert{}, ErrNotFound
	}
	a.TriggeredAt = cloneTime(a.TriggeredAt)
	return a, nil
}

func (m *MemoryStore) ListAlerts(_ context.Context, productID uuid.UUID) ([]Alert, error) {
	return m.filterAlerts(func(a Alert) bool {
		return productID == uuid.Nil || a.ProductID == productID
	}), nil
}

func (m *MemoryStore) ListActiveAlerts(_ context.Context, productID uuid.UUID) ([]Alert, error) {
	return m.filterAlerts(func(a Alert) bool {
		return a.ProductID == productID && a.State == AlertActive
	}), nil
}

func (m *MemoryStore) MarkAlertTriggered(_ context.Context, id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok || a.State != AlertActive {
		return false, nil
	}
	a.State = AlertTriggered
	if a.TriggeredAt == nil {
		stamp := at.UTC()
		a.TriggeredAt = &stamp
	}
	m.alerts[id] = a
	return true, nil
}

func (m *MemoryStore) DisableAlert(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return ErrNotFound
	}
	a.State = AlertDisabled
	m.alerts[id] = a
	return nil
}

func (m *MemoryStore) DeleteAlert(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.alerts[id]; !ok {
		return ErrNotFound
	}
	delete(m.alerts, id)
	return nil
}

func (m *MemoryStore) filterAlerts(keep func(Alert) bool) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Alert, 0)
	for _, a := range m.alerts {
		if keep(a) {
			a.TriggeredAt = cloneTime(a.TriggeredAt)
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func cloneProduct(p Product) Product {
	p.CurrentPrice = cloneDecimal(p.CurrentPrice)
	p.AlertThreshold = cloneDecimal(p.AlertThreshold)
	p.LastScrapedAt = cloneTime(p.LastScrapedAt)
	return p
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var _ Repository = (*MemoryStore)(nil)
