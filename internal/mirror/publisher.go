// Package mirror implements the Mirror Publisher (§4.9): publishing
// the same product carousel to the Instagram Graph API, grounded on
// original_source's instagram_service.py. No Instagram/Facebook Graph
// SDK exists anywhere in the retrieved corpus, so this talks to the
// Graph API's plain HTTP surface directly via resty+gobreaker,
// following the same transport pattern as internal/marketplace and
// internal/broadcast.
package mirror

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/tulparexpress/autopost-bot/internal/apierr"
)

const (
	graphAPIVersion = "v18.0"

	// TokenExpiryWarningDays marks how soon before expiry the token
	// refresh warning fires.
	TokenExpiryWarningDays = 7

	MinCarouselItems = 2
	MaxCarouselItems = 10

	containerCheckInterval = time.Second
	maxContainerChecks     = 30

	maxCaptionCodeUnits = 2200
	maxHashtags         = 15
)

// State is the carousel publish state machine's current step.
// PublishCarousel returns the step at which it stopped, for
// diagnostics; every call starts again from the first step.
type State string

const (
	StateStart            State = "start"
	StateCreatingChildren State = "creating_children"
	StateCreatingCarousel State = "creating_carousel"
	StatePolling          State = "polling"
	StatePublishing       State = "publishing"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// TokenInfo mirrors the Graph API's debug_token response.
type TokenInfo struct {
	IsValid   bool
	ExpiresAt time.Time
	Scopes    []string
}

func (t TokenInfo) IsExpiringSoon() bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return t.ExpiresAt.Before(time.Now().Add(TokenExpiryWarningDays * 24 * time.Hour))
}

type Publisher struct {
	http        *resty.Client
	breaker     *gobreaker.CircuitBreaker
	accessToken string
	accountID   string // cached Instagram Business Account ID
}

func New(baseURL, accessToken string, timeout time.Duration) *Publisher {
	base := baseURL
	if base == "" {
		base = "https://graph.facebook.com"
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(base, "/") + "/" + graphAPIVersion).
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
		Name:        "instagram_mirror",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Publisher{http: httpClient, breaker: breaker, accessToken: accessToken}
}

type graphError struct {
	Message      string `json:"message"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
}

type graphEnvelope struct {
	ID    string      `json:"id"`
	Error *graphError `json:"error"`
}

func (p *Publisher) get(ctx context.Context, endpoint string, params map[string]string, out interface{}) error {
	if params == nil {
		params = map[string]string{}
	}
	params["access_token"] = p.accessToken

	_, err := p.breaker.Execute(func() (interface{}, error) {
		resp, reqErr := p.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(out).
			Get("/" + strings.TrimLeft(endpoint, "/"))
		return nil, classify(resp, reqErr, endpoint)
	})
	return err
}

func (p *Publisher) post(ctx context.Context, endpoint string, params map[string]string) (*graphEnvelope, error) {
	if params == nil {
		params = map[string]string{}
	}
	params["access_token"] = p.accessToken

	result, err := p.breaker.Execute(func() (interface{}, error) {
		var out graphEnvelope
		resp, reqErr := p.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(&out).
			Post("/" + strings.TrimLeft(endpoint, "/"))
		if cerr := classify(resp, reqErr, endpoint); cerr != nil {
			return nil, cerr
		}
		if out.Error != nil {
			return nil, &apierr.PermanentUpstream{Op: "mirror." + endpoint, StatusCode: resp.StatusCode(), Body: out.Error.Message}
		}
		return &out, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*graphEnvelope), nil
}

func classify(resp *resty.Response, err error, op string) error {
	if err != nil {
		return &apierr.TransientUpstream{Op: "mirror." + op, Err: err}
	}
	if resp.StatusCode() >= 500 {
		return &apierr.TransientUpstream{Op: "mirror." + op, Err: fmt.Errorf("status %d", resp.StatusCode())}
	}
	if resp.StatusCode() >= 400 {
		return &apierr.PermanentUpstream{Op: "mirror." + op, StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

// TokenStatus checks the configured access token's validity and
// expiry via the debug_token endpoint.
func (p *Publisher) TokenStatus(ctx context.Context) (TokenInfo, error) {
	var out struct {
		Data struct {
			IsValid   bool     `json:"is_valid"`
			ExpiresAt int64    `json:"expires_at"`
			Scopes    []string `json:"scopes"`
		} `json:"data"`
	}
	if err := p.get(ctx, "debug_token", map[string]string{"input_token": p.accessToken}, &out); err != nil {
		return TokenInfo{}, err
	}

	info := TokenInfo{IsValid: out.Data.IsValid, Scopes: out.Data.Scopes}
	if out.Data.ExpiresAt > 0 {
		info.ExpiresAt = time.Unix(out.Data.ExpiresAt, 0)
	}
	return info, nil
}

// SetAccountID pre-seeds the cached Instagram Business Account ID,
// skipping the me/accounts lookup in AccountID when the caller already
// knows it (e.g. from configuration).
func (p *Publisher) SetAccountID(accountID string) {
	p.accountID = accountID
}

// AccountID resolves and caches the Instagram Business Account ID
// linked to the configured page token.
func (p *Publisher) AccountID(ctx context.Context) (string, error) {
	if p.accountID != "" {
		return p.accountID, nil
	}

	var out struct {
		Data []struct {
			Name                   string `json:"name"`
			InstagramBusinessAccount *struct {
				ID string `json:"id"`
			} `json:"instagram_business_account"`
		} `json:"data"`
	}
	if err := p.get(ctx, "me/accounts", map[string]string{"fields": "instagram_business_account,name"}, &out); err != nil {
		return "", err
	}

	for _, page := range out.Data {
		if page.InstagramBusinessAccount != nil && page.InstagramBusinessAccount.ID != "" {
			p.accountID = page.InstagramBusinessAccount.ID
			return p.accountID, nil
		}
	}
	return "", &apierr.BusinessRule{Rule: "no Instagram Business Account linked to any Facebook Page"}
}

// BuildCaption trims hashtags first, then the body, to respect the
// platform's combined caption budget (§4.9's 2200-code-unit limit,
// ≤15 hashtags).
func BuildCaption(body string, hashtags []string) string {
	if len(hashtags) > maxHashtags {
		hashtags = hashtags[:maxHashtags]
	}

	caption := body
	if len(hashtags) > 0 {
		caption = body + "\n\n" + strings.Join(hashtags, " ")
	}

	for len([]rune(caption)) > maxCaptionCodeUnits && len(hashtags) > 0 {
		hashtags = hashtags[:len(hashtags)-1]
		caption = body
		if len(hashtags) > 0 {
			caption = body + "\n\n" + strings.Join(hashtags, " ")
		}
	}

	runes := []rune(caption)
	if len(runes) > maxCaptionCodeUnits {
		caption = string(runes[:maxCaptionCodeUnits-1]) + "…"
	}
	return caption
}

// PublishCarousel drives the four-step carousel publish flow:
// per-image containers, the carousel container, a poll loop waiting
// for FINISHED, then the publish call. It returns the published
// media ID.
func (p *Publisher) PublishCarousel(ctx context.Context, imageURLs []string, caption string) (string, State, error) {
	if len(imageURLs) < MinCarouselItems {
		return "", StateFailed, &apierr.BusinessRule{Rule: fmt.Sprintf("carousel requires at least %d images, got %d", MinCarouselItems, len(imageURLs))}
	}
	if len(imageURLs) > MaxCarouselItems {
		return "", StateFailed, &apierr.BusinessRule{Rule: fmt.Sprintf("carousel allows at most %d images, got %d", MaxCarouselItems, len(imageURLs))}
	}

	accountID, err := p.AccountID(ctx)
	if err != nil {
		return "", StateFailed, err
	}

	childIDs := make([]string, 0, len(imageURLs))
	for _, url := range imageURLs {
		env, cerr := p.post(ctx, accountID+"/media", map[string]string{
			"image_url":        url,
			"is_carousel_item": "true",
		})
		if cerr != nil {
			return "", StateCreatingChildren, cerr
		}
		childIDs = append(childIDs, env.ID)
	}

	carouselEnv, err := p.post(ctx, accountID+"/media", map[string]string{
		"media_type": "CAROUSEL",
		"children":   strings.Join(childIDs, ","),
		"caption":    caption,
	})
	if err != nil {
		return "", StateCreatingCarousel, err
	}
	carouselID := carouselEnv.ID

	if err := p.waitForContainer(ctx, carouselID); err != nil {
		return "", StatePolling, err
	}

	publishEnv, err := p.post(ctx, accountID+"/media_publish", map[string]string{"creation_id": carouselID})
	if err != nil {
		return "", StatePublishing, err
	}

	return publishEnv.ID, StateDone, nil
}

func (p *Publisher) waitForContainer(ctx context.Context, containerID string) error {
	for i := 0; i < maxContainerChecks; i++ {
		var out struct {
			StatusCode string `json:"status_code"`
		}
		if err := p.get(ctx, containerID, map[string]string{"fields": "status_code"}, &out); err != nil {
			return err
		}

		switch out.StatusCode {
		case "FINISHED":
			return nil
		case "ERROR":
			return &apierr.PermanentUpstream{Op: "mirror.container_status", StatusCode: 0, Body: "container processing failed"}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(containerCheckInterval):
		}
	}
	return &apierr.TransientUpstream{Op: "mirror.container_status", Err: fmt.Errorf("container %s not ready after %d checks", containerID, maxContainerChecks)}
}
