package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/markjakearzadon/payentry-bot/internal/catalog"
	"github.com/markjakearzadon/payentry-bot/internal/models"
)

// RateService serves reference-currency exchange rates from a cache, fetching
// them from a frankfurter compatible API when the cache is stale. It never
// fails: when the API is unreachable the static fallback table is returned
// and nothing is cached.
type RateService struct {
	baseURL    string
	client     *http.Client
	cache      RateCache
	ttl        time.Duration
	fallback   map[string]decimal.Decimal
	symbols    []string
	retries    int
	retryDelay time.Duration
	now        func() time.Time
	logger     *zap.Logger

	group singleflight.Group
}

type RateServiceConfig struct {
	BaseURL  string
	TTL      time.Duration
	Cache    RateCache
	Fallback map[string]decimal.Decimal
	// Symbols are the currencies requested from the API. The fallback
	// currencies are always requested too.
	Symbols  []string
	Client   *http.Client
	Logger   *zap.Logger
}

func NewRateService(cfg RateServiceConfig) *RateService {
	s := &RateService{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		client:     cfg.Client,
		cache:      cfg.Cache,
		ttl:        cfg.TTL,
		fallback:   cfg.Fallback,
		symbols:    requestedSymbols(cfg.Symbols, cfg.Fallback),
		retries:    3,
		retryDelay: time.Second,
		now:        time.Now,
		logger:     cfg.Logger,
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: 10 * time.Second}
	}
	if s.cache == nil {
		s.cache = NewMemoryRateCache()
	}
	if s.ttl <= 0 {
		s.ttl = 24 * time.Hour
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

func requestedSymbols(symbols []string, fallback map[string]decimal.Decimal) []string {
	out := slices.Collect(maps.Keys(fallback))
	for _, cur := range symbols {
		cur = strings.ToUpper(strings.TrimSpace(cur))
		if cur != "" && cur != catalog.ReferenceCurrency {
			out = append(out, cur)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Rates returns the rates for the requested currencies, filled in from the
// fallback table where the API has none.
func (s *RateService) Rates(ctx context.Context) map[string]decimal.Decimal {
	snap, ok, err := s.cache.Load(ctx)
	if err != nil {
		s.logger.Warn("rate cache unavailable", zap.Error(err))
	}
	if ok && snap.Fresh(s.now(), s.ttl) {
		return s.merged(snap.Rates)
	}

	v, err, _ := s.group.Do("rates", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()

		snap, err := s.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Save(fetchCtx, snap); err != nil {
			s.logger.Warn("failed to cache rates", zap.Error(err))
		}
		return snap, nil
	})
	if err != nil {
		s.logger.Warn("rates fetch failed, using fallback", zap.Error(err))
		return s.merged(nil)
	}
	return s.merged(v.(models.RateSnapshot).Rates)
}

// merged overlays fetched rates on a copy of the fallback table.
func (s *RateService) merged(fetched map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := maps.Clone(s.fallback)
	if out == nil {
		out = make(map[string]decimal.Decimal, len(fetched))
	}
	for cur, rate := range fetched {
		if rate.IsPositive() {
			out[cur] = rate
		}
	}
	return out
}

// statusError is a non-200 answer from the rates API.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("rates API status %d: %s", e.code, e.body)
}

// rejectsSymbols reports whether the API refused the request outright, which
// frankfurter does when "to" names a currency it does not publish.
func rejectsSymbols(err error) bool {
	var se *statusError
	return errors.As(err, &se) && (se.code == http.StatusNotFound || se.code == http.StatusUnprocessableEntity)
}

type latestResponse struct {
	Base  string                     `json:"base"`
	Date  string                     `json:"date"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

func (s *RateService) fetch(ctx context.Context) (models.RateSnapshot, error) {
	q := url.Values{}
	q.Set("from", catalog.ReferenceCurrency)
	if len(s.symbols) > 0 {
		q.Set("to", strings.Join(s.symbols, ","))
	}
	endpoint := s.baseURL + "/latest?" + q.Encode()
	unfiltered := false

	var lastErr error
	for attempt := 1; attempt <= s.retries; attempt++ {
		snap, err := s.fetchOnce(ctx, endpoint)
		if err == nil {
			s.logger.Info("rates fetched", zap.String("date", snap.Date), zap.Int("currencies", len(snap.Rates)))
			return snap, nil
		}
		lastErr = err
		s.logger.Warn("rates request failed", zap.Int("attempt", attempt), zap.Error(err))

		if !unfiltered && q.Has("to") && rejectsSymbols(err) {
			s.logger.Warn("rates API rejected the currency list, requesting all rates",
				zap.Strings("symbols", s.symbols))
			q.Del("to")
			endpoint = s.baseURL + "/latest?" + q.Encode()
			unfiltered = true
			attempt--
			continue
		}

		if attempt < s.retries {
			select {
			case <-ctx.Done():
				return models.RateSnapshot{}, ctx.Err()
			case <-time.After(s.retryDelay * time.Duration(attempt)):
			}
		}
	}
	return models.RateSnapshot{}, fmt.Errorf("rates request failed after %d attempts: %w", s.retries, lastErr)
}

func (s *RateService) fetchOnce(ctx context.Context, endpoint string) (models.RateSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.RateSnapshot{}, fmt.Errorf("failed to create rates request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return models.RateSnapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.RateSnapshot{}, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	var latest latestResponse
	if err := json.NewDecoder(resp.Body).Decode(&latest); err != nil {
		return models.RateSnapshot{}, fmt.Errorf("failed to decode rates response: %w", err)
	}
	if len(latest.Rates) == 0 {
		return models.RateSnapshot{}, fmt.Errorf("rates response has no rates")
	}

	return models.RateSnapshot{
		Base:      catalog.ReferenceCurrency,
		Date:      latest.Date,
		Rates:     latest.Rates,
		UpdatedAt: s.now(),
	}, nil
}
