// Package catalog holds the read-only lists and tables the payment dialog
// offers and checks against: products, payment methods, country currencies
// and price tiers.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// ReferenceCurrency is the currency every amount is normalized to.
const ReferenceCurrency = "EUR"

// Item is one selectable entry of a choice list.
type Item struct {
	Label  string
	Name   string
	Manual bool
}

// Value is the text stored in the draft when the item is chosen.
func (i Item) Value() string {
	if i.Name != "" {
		return i.Name
	}
	return StripDecorations(i.Label)
}

// Tier is a known price point in the reference currency.
type Tier struct {
	Label string
	Price decimal.Decimal
}

// Catalog is loaded once at startup and never mutated.
type Catalog struct {
	Products        []Item
	Methods         []Item
	CustomerDomain  string
	DefaultCountry  string
	DefaultCurrency string
	Countries       map[string]string
	Tiers           []Tier
	Tolerance       decimal.Decimal
	FallbackRates   map[string]decimal.Decimal
}

type itemFile struct {
	Label  string `yaml:"label"`
	Name   string `yaml:"name"`
	Manual bool   `yaml:"manual"`
}

type tierFile struct {
	Label string  `yaml:"label"`
	Price float64 `yaml:"price"`
}

type catalogFile struct {
	Products        []itemFile         `yaml:"products"`
	Methods         []itemFile         `yaml:"methods"`
	CustomerDomain  string             `yaml:"customer_domain"`
	DefaultCountry  string             `yaml:"default_country"`
	DefaultCurrency string             `yaml:"default_currency"`
	Countries       map[string]string  `yaml:"countries"`
	Tiers           []tierFile         `yaml:"tiers"`
	Tolerance       float64            `yaml:"tolerance"`
	FallbackRates   map[string]float64 `yaml:"fallback_rates"`
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultYAML)
}

// Load reads a catalog file, or the built-in one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML catalog.
func Parse(raw []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{
		CustomerDomain:  strings.ToLower(strings.TrimSpace(f.CustomerDomain)),
		DefaultCountry:  f.DefaultCountry,
		DefaultCurrency: strings.ToUpper(f.DefaultCurrency),
		Countries:       make(map[string]string, len(f.Countries)),
		Tolerance:       decimal.NewFromFloat(f.Tolerance),
		FallbackRates:   make(map[string]decimal.Decimal, len(f.FallbackRates)),
	}
	for _, it := range f.Products {
		c.Products = append(c.Products, Item(it))
	}
	for _, it := range f.Methods {
		c.Methods = append(c.Methods, Item(it))
	}
	for code, cur := range f.Countries {
		c.Countries[strings.ToUpper(code)] = strings.ToUpper(cur)
	}
	for _, t := range f.Tiers {
		c.Tiers = append(c.Tiers, Tier{Label: t.Label, Price: decimal.NewFromFloat(t.Price)})
	}
	for cur, rate := range f.FallbackRates {
		c.FallbackRates[strings.ToUpper(cur)] = decimal.NewFromFloat(rate)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) validate() error {
	if len(c.Products) == 0 {
		return errors.New("catalog: no products")
	}
	if len(c.Methods) == 0 {
		return errors.New("catalog: no payment methods")
	}
	if c.CustomerDomain == "" {
		return errors.New("catalog: customer_domain is required")
	}
	if c.DefaultCountry == "" || c.DefaultCurrency == "" {
		return errors.New("catalog: default_country and default_currency are required")
	}
	if c.Tolerance.IsNegative() {
		return errors.New("catalog: tolerance must not be negative")
	}
	for _, it := range append(append([]Item{}, c.Products...), c.Methods...) {
		if strings.TrimSpace(it.Label) == "" {
			return errors.New("catalog: item with empty label")
		}
		if !it.Manual && it.Value() == "" {
			return fmt.Errorf("catalog: item %q has no text once decorations are removed", it.Label)
		}
	}
	for _, rate := range c.FallbackRates {
		if !rate.IsPositive() {
			return errors.New("catalog: fallback rates must be positive")
		}
	}
	return nil
}

// Currencies lists every non-reference currency the country table can yield,
// sorted. It is the set of rates the dialog may need.
func (c *Catalog) Currencies() []string {
	seen := map[string]bool{}
	add := func(cur string) {
		if cur != "" && cur != ReferenceCurrency {
			seen[cur] = true
		}
	}
	for _, cur := range c.Countries {
		add(cur)
	}
	add(c.DefaultCurrency)

	out := make([]string, 0, len(seen))
	for cur := range seen {
		out = append(out, cur)
	}
	sort.Strings(out)
	return out
}

// StripDecorations removes emoji and pictographic symbols from a label and
// collapses the remaining whitespace.
func StripDecorations(label string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '\uFE0F' || r == '\u200D' || r == '\u20E3':
			return -1
		case unicode.Is(unicode.So, r):
			return -1
		case r >= 0x1F3FB && r <= 0x1F3FF, r >= 0x1F1E6 && r <= 0x1F1FF:
			return -1
		}
		return r
	}, label)
	return strings.Join(strings.Fields(cleaned), " ")
}
