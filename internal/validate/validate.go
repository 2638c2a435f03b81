// Package validate turns raw operator input into normalized field values.
package validate

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// DateTimeLayout is the time layout matching the accepted transaction datetime text.
const DateTimeLayout = "2006-01-02 15:04"

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidDateTime = errors.New("invalid datetime")
	ErrNoHandle        = errors.New("no handle in link")
	ErrAmountTooLarge  = errors.New("amount too large")
)

// MaxAmount is the largest amount the payment records can hold.
var MaxAmount = decimal.RequireFromString("9999999999.99")

var (
	moneyPattern    = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)
	dateTimePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}$`)
)

// ParseMoney accepts a positive amount with at most two fractional digits.
// Either "." or "," may be used as the fractional separator. Amounts above
// MaxAmount fail with ErrAmountTooLarge.
func ParseMoney(text string) (decimal.Decimal, error) {
	s := strings.TrimSpace(strings.Replace(text, ",", ".", 1))
	if !moneyPattern.MatchString(s) {
		return decimal.Zero, ErrInvalidAmount
	}
	amount, err := decimal.NewFromString(s)
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	if amount.GreaterThan(MaxAmount) {
		return decimal.Zero, ErrAmountTooLarge
	}
	return amount, nil
}

// ParseDateTime checks the "YYYY-MM-DD HH:mm" shape and returns the trimmed text.
// It does not check that the date exists on the calendar.
func ParseDateTime(text string) (string, error) {
	s := strings.TrimSpace(text)
	if !dateTimePattern.MatchString(s) {
		return "", ErrInvalidDateTime
	}
	return s, nil
}

// IsValidURL reports whether text parses as an absolute URL with a host.
func IsValidURL(text string) bool {
	u, err := url.Parse(strings.TrimSpace(text))
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// MatchesDomain reports whether the link's host is domain or one of its subdomains.
func MatchesDomain(rawURL, domain string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	return hostMatches(u.Hostname(), domain)
}

func hostMatches(host, domain string) bool {
	host, domain = strings.ToLower(host), strings.ToLower(domain)
	return domain != "" && (host == domain || strings.HasSuffix(host, "."+domain))
}

// ExtractHandle returns the first path segment of a link on domain. Query,
// fragment and port never contribute to the handle.
func ExtractHandle(rawURL, domain string) (string, error) {
	s := strings.TrimSpace(rawURL)
	u, err := url.Parse(s)
	if err == nil && u.Host == "" {
		u, err = url.Parse("https://" + s)
	}
	if err != nil || !hostMatches(u.Hostname(), domain) {
		return "", ErrNoHandle
	}
	for _, seg := range strings.Split(u.Path, "/") {
		if seg = strings.TrimSpace(seg); seg != "" {
			return seg, nil
		}
	}
	return "", ErrNoHandle
}
