package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/henry-banana/tkob-qrorder/circuitbreaker"
)

var ErrNoRate = errors.New("no exchange rate available")

// RateCache is the external keyed cache for fetched rates. The Redis-backed
// cache.Store implements it; tests inject an in-memory fake.
type RateCache interface {
	GetJSON(ctx context.Context, key string, v any) error
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

type Rate struct {
	Rate      float64   `json:"rate"`
	FetchedAt time.Time `json:"fetched_at"`
}

type Conversion struct {
	Amount    float64   `json:"amount"`
	Rate      float64   `json:"rate"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Converter quotes gateway amounts from cached exchange rates. USD->VND
// degrades to a configured static rate when the upstream API is unreachable
// or no API key is configured; any other pair propagates the failure.
type Converter struct {
	cache          RateCache
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	fallbackUSDVND float64
	cacheTTL       time.Duration
	breaker        *circuitbreaker.CircuitBreaker
	logger         *zap.Logger
}

func NewConverter(cache RateCache, baseURL, apiKey string, fallbackUSDVND float64, cacheTTL time.Duration, logger *zap.Logger) *Converter {
	return &Converter{
		cache:          cache,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		baseURL:        baseURL,
		apiKey:         apiKey,
		fallbackUSDVND: fallbackUSDVND,
		cacheTTL:       cacheTTL,
		breaker:        circuitbreaker.New(5, 30*time.Second),
		logger:         logger,
	}
}

type pairResponse struct {
	Result         string  `json:"result"`
	ConversionRate float64 `json:"conversion_rate"`
}

func (c *Converter) GetRate(ctx context.Context, from, to string) (Rate, error) {
	if from == to {
		return Rate{Rate: 1, FetchedAt: time.Now()}, nil
	}

	key := fmt.Sprintf("fx:%s:%s", from, to)

	var cached Rate
	if err := c.cache.GetJSON(ctx, key, &cached); err == nil && cached.Rate > 0 {
		return cached, nil
	}

	rate, err := c.fetchRate(ctx, from, to)
	if err != nil {
		if from == "USD" && to == "VND" && c.fallbackUSDVND > 0 {
			c.logger.Warn("Exchange rate fetch failed, using fallback rate",
				zap.String("pair", from+"/"+to),
				zap.Float64("fallback", c.fallbackUSDVND),
				zap.Error(err),
			)
			return Rate{Rate: c.fallbackUSDVND, FetchedAt: time.Now()}, nil
		}
		return Rate{}, fmt.Errorf("%w: %s/%s: %v", ErrNoRate, from, to, err)
	}

	fresh := Rate{Rate: rate, FetchedAt: time.Now()}
	if err := c.cache.SetJSON(ctx, key, fresh, c.cacheTTL); err != nil {
		c.logger.Warn("Failed to cache exchange rate", zap.String("key", key), zap.Error(err))
	}
	return fresh, nil
}

func (c *Converter) fetchRate(ctx context.Context, from, to string) (float64, error) {
	if c.apiKey == "" {
		return 0, errors.New("no exchange API key configured")
	}

	var rate float64
	err := c.breaker.Execute(ctx, func() error {
		url := fmt.Sprintf("%s/%s/pair/%s/%s", c.baseURL, c.apiKey, from, to)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("rate API returned status %d", resp.StatusCode)
		}

		var body pairResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("decode rate response: %w", err)
		}
		if body.Result != "success" || body.ConversionRate <= 0 {
			return fmt.Errorf("rate API returned result %q", body.Result)
		}

		rate = body.ConversionRate
		return nil
	})
	return rate, err
}

// Convert rounds to the nearest whole unit of the target currency's quote:
// amount * rate. VND has no subunits in this integration.
func (c *Converter) Convert(ctx context.Context, amount float64, from, to string) (Conversion, error) {
	rate, err := c.GetRate(ctx, from, to)
	if err != nil {
		return Conversion{}, err
	}
	return Conversion{
		Amount:    math.Round(amount * rate.Rate),
		Rate:      rate.Rate,
		FetchedAt: rate.FetchedAt,
	}, nil
}

// Prefetch warms the USD->VND rate at startup. Best effort only.
func (c *Converter) Prefetch(ctx context.Context) {
	if _, err := c.GetRate(ctx, "USD", "VND"); err != nil {
		c.logger.Warn("Exchange rate prefetch failed", zap.Error(err))
	}
}
