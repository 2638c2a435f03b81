// Package pricing derives the operator's currency, converts local amounts to
// the reference currency and matches them against the catalog price tiers.
package pricing

import (
	"context"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/markjakearzadon/payentry-bot/internal/catalog"
)

// RateSource returns reference-currency rates keyed by currency code, where
// one unit of the reference currency buys rate units of the keyed currency.
// Implementations never fail; they fall back to a static table instead.
type RateSource interface {
	Rates(ctx context.Context) map[string]decimal.Decimal
}

// Location is the country and currency derived from an operator's geo list.
type Location struct {
	Country  string
	Currency string
}

// Match is a price tier an amount appears to correspond to.
type Match struct {
	Tier  catalog.Tier
	Delta decimal.Decimal
}

type Reconciler struct {
	catalog *catalog.Catalog
	rates   RateSource
}

func NewReconciler(c *catalog.Catalog, rates RateSource) *Reconciler {
	return &Reconciler{catalog: c, rates: rates}
}

var (
	geoSeparators = regexp.MustCompile(`[,|;]`)
	nonLetters    = regexp.MustCompile(`[^A-Z]`)
)

// ResolveCountry takes the first usable country code from a ",", "|" or ";"
// separated list. Unknown or missing codes map to the catalog defaults.
func (r *Reconciler) ResolveCountry(geo string) Location {
	var first string
	for _, tok := range geoSeparators.Split(geo, -1) {
		tok = nonLetters.ReplaceAllString(strings.ToUpper(strings.TrimSpace(tok)), "")
		if tok != "" {
			first = tok
			break
		}
	}

	if first == "" {
		return Location{Country: r.catalog.DefaultCountry, Currency: r.catalog.DefaultCurrency}
	}
	cur, ok := r.catalog.Countries[first]
	if !ok {
		return Location{Country: r.catalog.DefaultCountry, Currency: r.catalog.DefaultCurrency}
	}
	return Location{Country: first, Currency: cur}
}

// ConvertToEUR converts amount from currency into the reference currency,
// rounded to cents with halves away from zero. The amount comes back
// unchanged when no rate is known; converted reports whether a rate was used.
func (r *Reconciler) ConvertToEUR(ctx context.Context, amount decimal.Decimal, currency string) (eur decimal.Decimal, converted bool) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" || currency == catalog.ReferenceCurrency {
		return amount, true
	}

	rate, ok := r.rates.Rates(ctx)[currency]
	if !ok || !rate.IsPositive() {
		return amount, false
	}
	return Convert(amount, rate), true
}

// Convert divides amount by rate and rounds the result to two places.
func Convert(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.DivRound(rate, 2)
}

// MatchTier returns the first tier, in catalog order, whose price lies within
// the tolerance of amount.
func (r *Reconciler) MatchTier(amount decimal.Decimal) (Match, bool) {
	for _, tier := range r.catalog.Tiers {
		delta := amount.Sub(tier.Price).Abs()
		if delta.LessThanOrEqual(r.catalog.Tolerance) {
			return Match{Tier: tier, Delta: delta}, true
		}
	}
	return Match{}, false
}
