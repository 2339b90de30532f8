package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	productColumns = `id, owner_id, owner_email, name, url, current_price::text, currency,
        alert_threshold::text, active, created_at, updated_at, last_scraped_at`

	insertProductSQL = `INSERT INTO products (
        id, owner_id, owner_email, name, url, current_price, currency, alert_threshold, active
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    RETURNING ` + productColumns + `;`

	getProductSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1;`

	listProductsSQL = `SELECT ` + productColumns + `
    FROM products
    WHERE ($1 = '' OR owner_id = $1)
      AND (NOT $2 OR active)
    ORDER BY created_at, id;`

	updateScrapedPriceSQL = `UPDATE products
    SET current_price = $2, last_scraped_at = $3, updated_at = NOW()
    WHERE id = $1;`

	setProductActiveSQL = `UPDATE products SET active = $2, updated_at = NOW() WHERE id = $1;`

	deleteProductSQL = `DELETE FROM products WHERE id = $1;`

	appendObservationSQL = `INSERT INTO price_observations (
        product_id, price, currency, recorded_at, source, is_valid
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (product_id, recorded_at) DO NOTHING
    RETURNING id;`

	queryRangeSQL = `SELECT id, product_id, price::text, currency, recorded_at, source, is_valid
    FROM price_observations
    WHERE product_id = $1
      AND recorded_at >= $2
      AND is_valid
    ORDER BY recorded_at, id;`

	markObservationInvalidSQL = `UPDATE price_observations SET is_valid = FALSE WHERE id = $1;`

	beginAttemptSQL = `INSERT INTO scrape_attempts (
        product_id, status, started_at
    ) VALUES (
        $1, 'failed', $2
    )
    RETURNING id;`

	finishAttemptSQL = `UPDATE scrape_attempts
    SET status = $2,
        scraped_price = $3,
        error_message = $4,
        response_time_ms = $5,
        retry_count = $6,
        completed_at = $7
    WHERE id = $1;`

	listRecentAttemptsSQL = `SELECT id, product_id, status, scraped_price::text, error_message,
        response_time_ms, retry_count, started_at, completed_at
    FROM scrape_attempts
    WHERE ($1::uuid IS NULL OR product_id = $1::uuid)
    ORDER BY started_at DESC, id DESC
    LIMIT $2;`

	upsertForecastSQL = `INSERT INTO forecasts (
        product_id, target_date, predicted_price, predicted_demand, confidence, model_id, model_version
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (product_id, target_date, model_id) DO UPDATE
    SET
        predicted_price  = EXCLUDED.predicted_price,
        predicted_demand = EXCLUDED.predicted_demand,
        confidence       = EXCLUDED.confidence,
        model_version    = EXCLUDED.model_version,
        updated_at       = NOW();`

	listForecastsSQL = `SELECT id, product_id, target_date, predicted_price::text, predicted_demand,
        confidence, model_id, model_version, created_at, updated_at
    FROM forecasts
    WHERE product_id = $1
      AND ($2 = '' OR model_id = $2)
      AND target_date >= $3
    ORDER BY target_date, model_id;`

	alertColumns = `id, product_id, owner_id, kind, threshold::text, state, email_notify, web_notify,
        created_at, triggered_at`

	insertAlertSQL = `INSERT INTO alerts (
        product_id, owner_id, kind, threshold, state, email_notify, web_notify
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING ` + alertColumns + `;`

	getAlertSQL = `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1;`

	listAlertsSQL = `SELECT ` + alertColumns + `
    FROM alerts
    WHERE ($1::uuid IS NULL OR product_id = $1::uuid)
    ORDER BY created_at, id;`

	listActiveAlertsSQL = `SELECT ` + alertColumns + `
    FROM alerts
    WHERE product_id = $1 AND state = 'active'
    ORDER BY created_at, id;`

	markAlertTriggeredSQL = `UPDATE alerts
    SET state = 'triggered', triggered_at = COALESCE(triggered_at, $2)
    WHERE id = $1 AND state = 'active';`

	disableAlertSQL = `UPDATE alerts SET state = 'disabled' WHERE id = $1;`

	deleteAlertSQL = `DELETE FROM alerts WHERE id = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store is the PostgreSQL-backed Repository.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Session locks die with the connection anyway.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// CreateProduct inserts p, assigning an id when absent.
func (s *Store) CreateProduct(ctx context.Context, p Product) (Product, error) {
	pool, err := s.getPool()
	if err != nil {
		return Product{}, err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Currency == "" {
		p.Currency = DefaultCurrency
	}

	row := pool.QueryRow(ctx, insertProductSQL,
		p.ID,
		p.OwnerID,
		p.OwnerEmail,
		p.Name,
		p.URL,
		nullableDecimal(p.CurrentPrice),
		p.Currency,
		nullableDecimal(p.AlertThreshold),
		p.Active,
	)
	created, err := scanProduct(row)
	if err != nil {
		return Product{}, fmt.Errorf("insert product: %w", err)
	}
	return created, nil
}

// GetProduct loads a product by id.
func (s *Store) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	pool, err := s.getPool()
	if err != nil {
		return Product{}, err
	}
	p, err := scanProduct(pool.QueryRow(ctx, getProductSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// ListProducts lists products matching filter ordered by creation.
func (s *Store) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listProductsSQL, filter.OwnerID, filter.ActiveOnly)
	if queryErr != nil {
		return nil, fmt.Errorf("list products: %w", queryErr)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		p, scanErr := scanProduct(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		products = append(products, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return products, nil
}

// FindActiveByUser lists the active products owned by ownerID.
func (s *Store) FindActiveByUser(ctx context.Context, ownerID string) ([]Product, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	return s.ListProducts(ctx, ProductFilter{OwnerID: ownerID, ActiveOnly: true})
}

// UpdateScrapedPrice stores a freshly scraped price and stamps the scrape time.
func (s *Store) UpdateScrapedPrice(ctx context.Context, id uuid.UUID, price decimal.Decimal, scrapedAt time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return execOne(ctx, pool, "update scraped price", updateScrapedPriceSQL, id, price.String(), scrapedAt.UTC())
}

// SetProductActive toggles the active flag.
func (s *Store) SetProductActive(ctx context.Context, id uuid.UUID, active bool) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return execOne(ctx, pool, "set product active", setProductActiveSQL, id, active)
}

// DeleteProduct removes a product; observations, attempts, forecasts and alerts cascade.
func (s *Store) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return execOne(ctx, pool, "delete product", deleteProductSQL, id)
}

// AppendObservation inserts obs unless one already exists at the same timestamp.
func (s *Store) AppendObservation(ctx context.Context, obs PriceObservation) (AppendResult, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var id int64
	scanErr := pool.QueryRow(ctx, appendObservationSQL,
		obs.ProductID,
		obs.Price.String(),
		obs.Currency,
		normalizeTimestamp(obs.RecordedAt),
		string(obs.Source),
		obs.Valid,
	).Scan(&id)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return AppendDuplicate, nil
	}
	if scanErr != nil {
		return 0, fmt.Errorf("append observation: %w", scanErr)
	}
	return AppendInserted, nil
}

// RecordPrice appends obs and stamps it as the product's current price in one
// transaction. A duplicate observation still refreshes the product row.
func (s *Store) RecordPrice(ctx context.Context, obs PriceObservation) (AppendResult, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	recordedAt := normalizeTimestamp(obs.RecordedAt)
	var outcome AppendResult
	err = runInTx(ctx, pool, func(tx pgx.Tx) error {
		var id int64
		scanErr := tx.QueryRow(ctx, appendObservationSQL,
			obs.ProductID,
			obs.Price.String(),
			obs.Currency,
			recordedAt,
			string(obs.Source),
			obs.Valid,
		).Scan(&id)
		switch {
		case errors.Is(scanErr, pgx.ErrNoRows):
			outcome = AppendDuplicate
		case scanErr != nil:
			return fmt.Errorf("append observation: %w", scanErr)
		default:
			outcome = AppendInserted
		}

		tag, execErr := tx.Exec(ctx, updateScrapedPriceSQL, obs.ProductID, obs.Price.String(), recordedAt)
		if execErr != nil {
			return fmt.Errorf("update scraped price: %w", execErr)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return outcome, nil
}

// QueryRange returns valid observations recorded at or after since, oldest first.
func (s *Store) QueryRange(ctx context.Context, productID uuid.UUID, since time.Time) ([]PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, queryRangeSQL, productID, since.UTC())
	if queryErr != nil {
		return nil, fmt.Errorf("query range: %w", queryErr)
	}
	defer rows.Close()

	series := make([]PriceObservation, 0)
	for rows.Next() {
		var (
			obs      PriceObservation
			priceStr string
			source   string
		)
		if err := rows.Scan(&obs.ID, &obs.ProductID, &priceStr, &obs.Currency, &obs.RecordedAt, &source, &obs.Valid); err != nil {
			return nil, err
		}
		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse observation price: %w", convErr)
		}
		obs.Price = price
		obs.Source = ObservationSource(source)
		series = append(series, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return series, nil
}

// MarkObservationInvalid flags an observation as an outlier.
func (s *Store) MarkObservationInvalid(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return execOne(ctx, pool, "mark observation invalid", markObservationInvalidSQL, id)
}

// BeginAttempt writes the eager failed row for a scrape.
func (s *Store) BeginAttempt(ctx context.Context, productID uuid.UUID, startedAt time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var id int64
	if err := pool.QueryRow(ctx, beginAttemptSQL, productID, startedAt.UTC()).Scan(&id); err != nil {
		return 0, fmt.Errorf("begin attempt: %w", err)
	}
	return id, nil
}

// FinishAttempt records the final outcome of a scrape.
func (s *Store) FinishAttempt(ctx context.Context, attempt ScrapeAttempt) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if attempt.Error != nil {
		errMsg = *attempt.Error
	}
	var completed interface{}
	if attempt.CompletedAt != nil {
		completed = attempt.CompletedAt.UTC()
	}

	return execOne(ctx, pool, "finish attempt", finishAttemptSQL,
		attempt.ID,
		string(attempt.Status),
		nullableDecimal(attempt.Price),
		errMsg,
		attempt.Latency.Milliseconds(),
		attempt.RetryCount,
		completed,
	)
}

// ListRecentAttempts lists the latest attempts, optionally for a single product.
func (s *Store) ListRecentAttempts(ctx context.Context, productID uuid.UUID, limit int) ([]ScrapeAttempt, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAttemptsSQL, nullableUUID(productID), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent attempts: %w", queryErr)
	}
	defer rows.Close()

	attempts := make([]ScrapeAttempt, 0, limit)
	for rows.Next() {
		var (
			a         ScrapeAttempt
			status    string
			priceStr  *string
			latencyMS int64
		)
		if err := rows.Scan(&a.ID, &a.ProductID, &status, &priceStr, &a.Error, &latencyMS, &a.RetryCount, &a.StartedAt, &a.CompletedAt); err != nil {
			return nil, err
		}
		a.Status = AttemptStatus(status)
		a.Latency = time.Duration(latencyMS) * time.Millisecond
		if a.Price, err = parseNullableDecimal(priceStr); err != nil {
			return nil, fmt.Errorf("parse scraped price: %w", err)
		}
		attempts = append(attempts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return attempts, nil
}

// UpsertForecast inserts or replaces the forecast for (product, target date, model id).
func (s *Store) UpsertForecast(ctx context.Context, f Forecast) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, upsertForecastSQL,
		f.ProductID,
		truncateDay(f.TargetDate),
		f.PredictedPrice.String(),
		f.PredictedDemand,
		f.Confidence,
		f.ModelID,
		f.ModelVersion,
	)
	if execErr != nil {
		return fmt.Errorf("upsert forecast: %w", execErr)
	}
	return nil
}

// ListForecasts lists forecasts for a product from a date onward.
func (s *Store) ListForecasts(ctx context.Context, productID uuid.UUID, modelID string, from time.Time) ([]Forecast, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listForecastsSQL, productID, modelID, truncateDay(from))
	if queryErr != nil {
		return nil, fmt.Errorf("list forecasts: %w", queryErr)
	}
	defer rows.Close()

	forecasts := make([]Forecast, 0)
	for rows.Next() {
		var (
			f        Forecast
			priceStr string
		)
		if err := rows.Scan(&f.ID, &f.ProductID, &f.TargetDate, &priceStr, &f.PredictedDemand, &f.Confidence, &f.ModelID, &f.ModelVersion, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse predicted price: %w", convErr)
		}
		f.PredictedPrice = price
		forecasts = append(forecasts, f)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return forecasts, nil
}

// CreateAlert inserts an alert.
func (s *Store) CreateAlert(ctx context.Context, a Alert) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}
	if a.State == "" {
		a.State = AlertActive
	}
	created, err := scanAlert(pool.QueryRow(ctx, insertAlertSQL,
		a.ProductID,
		a.OwnerID,
		string(a.Kind),
		a.Threshold.String(),
		string(a.State),
		a.EmailNotify,
		a.WebNotify,
	))
	if err != nil {
		return Alert{}, fmt.Errorf("insert alert: %w", err)
	}
	return created, nil
}

// GetAlert loads an alert by id.
func (s *Store) GetAlert(ctx context.Context, id int64) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}
	a, err := scanAlert(pool.QueryRow(ctx, getAlertSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Alert{}, ErrNotFound
	}
	if err != nil {
		return Alert{}, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

// ListAlerts lists alerts, optionally for a single product.
func (s *Store) ListAlerts(ctx context.Context, productID uuid.UUID) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return queryAlerts(ctx, pool, listAlertsSQL, nullableUUID(productID))
}

// ListActiveAlerts lists the active alerts of a product.
func (s *Store) ListActiveAlerts(ctx context.Context, productID uuid.UUID) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return queryAlerts(ctx, pool, listActiveAlertsSQL, productID)
}

// MarkAlertTriggered moves an active alert to triggered.
func (s *Store) MarkAlertTriggered(ctx context.Context, id int64, at time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, markAlertTriggeredSQL, id, at.UTC())
	if execErr != nil {
		return false, fmt.Errorf("mark alert triggered: %w", execErr)
	}
	return tag.RowsAffected() == 1, nil
}

// DisableAlert disables an alert regardless of its state.
func (s *Store) DisableAlert(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return execOne(ctx, pool, "disable alert", disableAlertSQL, id)
}

// DeleteAlert removes an alert.
func (s *Store) DeleteAlert(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return execOne(ctx, pool, "delete alert", deleteAlertSQL, id)
}

func queryAlerts(ctx context.Context, pool *pgxpool.Pool, query string, args ...interface{}) ([]Alert, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]Alert, 0)
	for rows.Next() {
		a, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func runInTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func execOne(ctx context.Context, pool *pgxpool.Pool, op, query string, args ...interface{}) error {
	tag, err := pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p            Product
		priceStr     *string
		thresholdStr *string
		err          error
	)
	if err = row.Scan(
		&p.ID,
		&p.OwnerID,
		&p.OwnerEmail,
		&p.Name,
		&p.URL,
		&priceStr,
		&p.Currency,
		&thresholdStr,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.LastScrapedAt,
	); err != nil {
		return Product{}, err
	}
	if p.CurrentPrice, err = parseNullableDecimal(priceStr); err != nil {
		return Product{}, fmt.Errorf("parse current price: %w", err)
	}
	if p.AlertThreshold, err = parseNullableDecimal(thresholdStr); err != nil {
		return Product{}, fmt.Errorf("parse alert threshold: %w", err)
	}
	return p, nil
}

func scanAlert(row pgx.Row) (Alert, error) {
	var (
		a            Alert
		kind, state  string
		thresholdStr string
	)
	if err := row.Scan(
		&a.ID,
		&a.ProductID,
		&a.OwnerID,
		&kind,
		&thresholdStr,
		&state,
		&a.EmailNotify,
		&a.WebNotify,
		&a.CreatedAt,
		&a.TriggeredAt,
	); err != nil {
		return Alert{}, err
	}
	threshold, err := decimal.NewFromString(thresholdStr)
	if err != nil {
		return Alert{}, fmt.Errorf("parse alert threshold: %w", err)
	}
	a.Kind = AlertKind(kind)
	a.State = AlertState(state)
	a.Threshold = threshold
	return a, nil
}

func nullableDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseNullableDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullableUUID(id uuid.UUID) interface{} {
	if id == uuid.Nil {
		return nil
	}
	return id
}

var (
	_ Repository     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
