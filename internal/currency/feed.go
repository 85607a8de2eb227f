// Package currency implements the three-tier Currency Feed (§4):
// in-memory TTL cache, live upstream fetch, persisted last-known-rate
// fallback, grounded on original_source's currency.py.
package currency

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/tulparexpress/autopost-bot/internal/apierr"
	"github.com/tulparexpress/autopost-bot/internal/cache"
	"github.com/tulparexpress/autopost-bot/internal/repository"
)

const (
	cacheTTL      = time.Hour
	cacheCapacity = 10
)

type Feed struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	cache   cache.Cache[decimal.Decimal]
	repo    *repository.CurrencyRepository
}

func New(baseURL string, timeout time.Duration, repo *repository.CurrencyRepository) *Feed {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(2 * time.Second).
		SetRetryMaxWaitTime(30 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "currency_feed",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Feed{
		http:    httpClient,
		breaker: breaker,
		cache:   cache.New[decimal.Decimal](cacheTTL, cacheCapacity),
		repo:    repo,
	}
}

func cacheKey(from, to string) string {
	return strings.ToUpper(from) + ":" + strings.ToUpper(to)
}

type ratesResponse struct {
	Rates map[string]float64 `json:"rates"`
}

// Rate returns the conversion rate from `from` to `to`, trying the
// in-memory cache, the live upstream, and the persisted last-known
// rate in that order. It returns CurrencyUnavailable only once all
// three tiers have failed.
func (f *Feed) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	key := cacheKey(from, to)

	if cached, ok := f.cache.Get(key); ok {
		return cached, nil
	}

	rate, err := f.fetchFromUpstream(ctx, from, to)
	if err == nil {
		f.cache.Set(key, rate)
		if f.repo != nil {
			_ = f.repo.Insert(from, to, rate)
		}
		return rate, nil
	}

	if f.repo != nil {
		if row, dbErr := f.repo.Latest(from, to); dbErr == nil {
			f.cache.Set(key, row.Rate)
			return row.Rate, nil
		}
	}

	return decimal.Zero, &apierr.CurrencyUnavailable{From: from, To: to}
}

func (f *Feed) fetchFromUpstream(ctx context.Context, from, to string) (decimal.Decimal, error) {
	result, err := f.breaker.Execute(func() (interface{}, error) {
		var out ratesResponse
		resp, reqErr := f.http.R().
			SetContext(ctx).
			SetResult(&out).
			Get(fmt.Sprintf("/v4/latest/%s", from))
		if reqErr != nil {
			return nil, &apierr.TransientUpstream{Op: "currency_feed", Err: reqErr}
		}
		if resp.StatusCode() >= 500 {
			return nil, &apierr.TransientUpstream{Op: "currency_feed", Err: fmt.Errorf("upstream returned %d", resp.StatusCode())}
		}
		if resp.StatusCode() >= 400 {
			return nil, &apierr.PermanentUpstream{Op: "currency_feed", StatusCode: resp.StatusCode(), Body: resp.String()}
		}
		rate, ok := out.Rates[to]
		if !ok {
			return nil, &apierr.SchemaMismatch{Source: "currency_feed", Field: to}
		}
		return rate, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(result.(float64)), nil
}
