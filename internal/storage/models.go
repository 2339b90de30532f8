package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is stored when a product is created without a currency.
const DefaultCurrency = "INR"

// Product is a tracked product page owned by a single user.
type Product struct {
	ID             uuid.UUID
	OwnerID        string
	OwnerEmail     string
	Name           string
	URL            string
	CurrentPrice   *decimal.Decimal
	Currency       string
	AlertThreshold *decimal.Decimal
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastScrapedAt  *time.Time
}

// ObservationSource tags how an observation was recorded.
type ObservationSource string

const (
	SourceManual    ObservationSource = "manual"
	SourceScheduled ObservationSource = "scheduled"
	SourceBulk      ObservationSource = "bulk"
	SourceInitial   ObservationSource = "initial"
)

// PriceObservation is one recorded price. Only Valid changes after insert.
type PriceObservation struct {
	ID         int64
	ProductID  uuid.UUID
	Price      decimal.Decimal
	Currency   string
	RecordedAt time.Time
	Source     ObservationSource
	Valid      bool
}

// AppendResult is the outcome of appending an observation.
type AppendResult int

const (
	AppendInserted AppendResult = iota + 1
	AppendDuplicate
)

func (r AppendResult) String() string {
	switch r {
	case AppendInserted:
		return "inserted"
	case AppendDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// AttemptStatus is the outcome of a scrape attempt.
type AttemptStatus string

const (
	AttemptSuccess AttemptStatus = "success"
	AttemptFailed  AttemptStatus = "failed"
	AttemptPartial AttemptStatus = "partial"
)

// ScrapeAttempt is the audit row written for every scrape invocation.
type ScrapeAttempt struct {
	ID          int64
	ProductID   uuid.UUID
	Status      AttemptStatus
	Price       *decimal.Decimal
	Error       *string
	Latency     time.Duration
	RetryCount  int
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Forecast is the current best estimate for one product and target date.
type Forecast struct {
	ID              int64
	ProductID       uuid.UUID
	TargetDate      time.Time
	PredictedPrice  decimal.Decimal
	PredictedDemand float64
	Confidence      float64
	ModelID         string
	ModelVersion    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AlertKind selects the trigger condition.
type AlertKind string

const (
	AlertPriceDrop     AlertKind = "price_drop"
	AlertPriceIncrease AlertKind = "price_increase"
	AlertDemandSpike   AlertKind = "demand_spike"
)

// Valid reports whether k is a known alert kind.
func (k AlertKind) Valid() bool {
	switch k {
	case AlertPriceDrop, AlertPriceIncrease, AlertDemandSpike:
		return true
	default:
		return false
	}
}

// AlertState is the lifecycle state of an alert.
type AlertState string

const (
	AlertActive    AlertState = "active"
	AlertTriggered AlertState = "triggered"
	AlertDisabled  AlertState = "disabled"
)

// Alert is a user-defined threshold on a product.
type Alert struct {
	ID          int64
	ProductID   uuid.UUID
	OwnerID     string
	Kind        AlertKind
	Threshold   decimal.Decimal
	State       AlertState
	EmailNotify bool
	WebNotify   bool
	CreatedAt   time.Time
	TriggeredAt *time.Time
}
