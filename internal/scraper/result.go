package scraper

import (
	"github.com/shopspring/decimal"

	"price-tracker/internal/storage"
)

// FailureKind classifies why a scrape produced no price.
type FailureKind string

const (
	FailureUnsupportedSite FailureKind = "unsupported_site"
	FailureTimeout         FailureKind = "fetch_timeout"
	FailureConnection      FailureKind = "connection_error"
	FailureHTTPStatus      FailureKind = "http_error"
	FailureNotFound        FailureKind = "extraction_not_found"
	FailureUnparseable     FailureKind = "extraction_unparseable"
	FailureInternal        FailureKind = "internal"
)

// Failure describes an unsuccessful scrape. Detail is for the attempt log, not end users.
type Failure struct {
	Kind   FailureKind
	Detail string
}

// Result is either a price or a Failure, never both.
type Result struct {
	Price    *decimal.Decimal
	Failure  *Failure
	Rendered bool
	Attempt  storage.ScrapeAttempt
}

// Success builds a successful Result.
func Success(price decimal.Decimal) Result {
	return Result{Price: &price}
}

// Fail builds a failed Result.
func Fail(kind FailureKind, detail string) Result {
	return Result{Failure: &Failure{Kind: kind, Detail: detail}}
}

// OK reports whether a price was obtained.
func (r Result) OK() bool {
	return r.Price != nil && r.Failure == nil
}

// Status is the caller-facing outcome: success or failed.
func (r Result) Status() storage.AttemptStatus {
	if r.OK() {
		return storage.AttemptSuccess
	}
	return storage.AttemptFailed
}

// attemptStatus is the outcome recorded in the attempt log. A page whose price
// node matched but could not be parsed is logged as partial.
func (r Result) attemptStatus() storage.AttemptStatus {
	switch {
	case r.OK():
		return storage.AttemptSuccess
	case r.Failure != nil && r.Failure.Kind == FailureUnparseable:
		return storage.AttemptPartial
	default:
		return storage.AttemptFailed
	}
}
