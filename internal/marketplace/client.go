// Package marketplace defines the shared product-source contract and
// the resty+gobreaker transport both concrete sourcing clients
// (pinduoduo, taobao) build on, following the teacher's GDSService
// pattern (distribution_service/src/services/gds_service.go): a
// resty.Client tuned for retry, wrapped by a named gobreaker.
package marketplace

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/tulparexpress/autopost-bot/internal/apierr"
	"github.com/tulparexpress/autopost-bot/internal/models"
)

// Client is the contract every product source implements (§2).
type Client interface {
	// Source identifies which ProductSource this client populates.
	Source() models.ProductSource
	// Fetch retrieves up to pageSize raw products matching searchTerm.
	Fetch(ctx context.Context, searchTerm string, pageSize int) ([]models.RawProduct, error)
}

// NewTransport builds the shared resty client + circuit breaker pair
// used by a concrete source client, named for log/metric correlation.
func NewTransport(name, baseURL, rapidAPIKey, rapidAPIHost string, timeout time.Duration) (*resty.Client, *gobreaker.CircuitBreaker) {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(2 * time.Second).
		SetRetryMaxWaitTime(30 * time.Second).
		SetHeader("x-rapidapi-key", rapidAPIKey).
		SetHeader("x-rapidapi-host", rapidAPIHost).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(cbName string, from, to gobreaker.State) {
			log.Printf("circuit breaker %q changed from %s to %s", cbName, from, to)
		},
	})

	return httpClient, cb
}

// ClassifyHTTPError maps a resty response/error pair onto the typed
// error taxonomy (§7): 429 is RateLimitExceeded, other 5xx/network
// failures are TransientUpstream, 4xx (other than 429) is
// PermanentUpstream.
func ClassifyHTTPError(source string, resp *resty.Response, err error) error {
	if err != nil {
		return &apierr.TransientUpstream{Op: source, Err: err}
	}
	switch {
	case resp.StatusCode() == 429:
		return &apierr.RateLimitExceeded{Source: source, Limit: 0}
	case resp.StatusCode() >= 500:
		return &apierr.TransientUpstream{Op: source, Err: fmt.Errorf("upstream returned %d", resp.StatusCode())}
	case resp.StatusCode() >= 400:
		return &apierr.PermanentUpstream{Op: source, StatusCode: resp.StatusCode(), Body: resp.String()}
	default:
		return nil
	}
}
