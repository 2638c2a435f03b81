package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateSnapshot is one fetched table of reference-currency exchange rates.
type RateSnapshot struct {
	Base      string                     `json:"base"`
	Date      string                     `json:"date,omitempty"`
	Rates     map[string]decimal.Decimal `json:"rates"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// Fresh reports whether the snapshot is younger than ttl at now.
func (s RateSnapshot) Fresh(now time.Time, ttl time.Duration) bool {
	return !s.UpdatedAt.IsZero() && now.Sub(s.UpdatedAt) < ttl
}
