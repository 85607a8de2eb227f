// Package broadcast implements the Broadcast Publisher (§4.8): a
// Telegram-Bot-API-shaped HTTP client, grounded on original_source's
// telegram_service.py, rebuilt on resty+gobreaker since no Telegram
// bot SDK exists anywhere in the retrieved corpus (aiogram is
// Python-only) — see the design notes for the stdlib/HTTP-surface
// justification.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"github.com/tulparexpress/autopost-bot/internal/apierr"
)

const (
	MaxCaptionLength  = 1024
	MaxMessageLength  = 4096
	MaxMediaGroupSize = 10
)

type Publisher struct {
	http      *resty.Client
	breaker   *gobreaker.CircuitBreaker
	channelID string
}

func New(baseURL, botToken, channelID string, timeout time.Duration) *Publisher {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/") + "/bot" + botToken).
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
		Name:        "telegram_broadcast",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Publisher{http: httpClient, breaker: breaker, channelID: channelID}
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
	Result struct {
		MessageID int `json:"message_id"`
	} `json:"result"`
}

type mediaGroupResponse struct {
	OK     bool `json:"ok"`
	Result []struct {
		MessageID int `json:"message_id"`
	} `json:"result"`
}

// truncate cuts s to at most max runes (not bytes): Telegram's limits
// and this bot's Cyrillic captions are both measured in code points,
// and byte-offset slicing would routinely split a multi-byte rune.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

// SendMessage posts a standalone text message and returns its
// message_id.
func (p *Publisher) SendMessage(ctx context.Context, text string) (int, error) {
	text = truncate(text, MaxMessageLength)

	result, err := p.breaker.Execute(func() (interface{}, error) {
		var out apiResponse
		resp, reqErr := p.http.R().
			SetContext(ctx).
			SetFormData(map[string]string{
				"chat_id":    p.channelID,
				"text":       text,
				"parse_mode": "HTML",
			}).
			SetResult(&out).
			SetError(&out).
			Post("/sendMessage")
		if cerr := classifyResponse(resp, reqErr); cerr != nil {
			return nil, cerr
		}
		if !out.OK {
			return nil, &apierr.PermanentUpstream{Op: "broadcast.sendMessage", StatusCode: resp.StatusCode(), Body: out.Description}
		}
		return out.Result.MessageID, nil
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

// SendMessageTo posts a standalone text message to an arbitrary chat
// (a user's private chat, not the broadcast channel), used by the
// payment flow to deliver QR codes and paid-invoice confirmations.
func (p *Publisher) SendMessageTo(ctx context.Context, chatID, text string) (int, error) {
	text = truncate(text, MaxMessageLength)

	result, err := p.breaker.Execute(func() (interface{}, error) {
		var out apiResponse
		resp, reqErr := p.http.R().
			SetContext(ctx).
			SetFormData(map[string]string{
				"chat_id":    chatID,
				"text":       text,
				"parse_mode": "HTML",
			}).
			SetResult(&out).
			Post("/sendMessage")
		if cerr := classifyResponse(resp, reqErr); cerr != nil {
			return nil, cerr
		}
		if !out.OK {
			return nil, &apierr.PermanentUpstream{Op: "broadcast.sendMessage", StatusCode: resp.StatusCode(), Body: out.Description}
		}
		return out.Result.MessageID, nil
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

// DeleteMessage removes a previously sent message, used to clear a
// user's QR code once an invoice finalises.
func (p *Publisher) DeleteMessage(ctx context.Context, chatID string, messageID int) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		var out apiResponse
		resp, reqErr := p.http.R().
			SetContext(ctx).
			SetFormData(map[string]string{
				"chat_id":    chatID,
				"message_id": fmt.Sprintf("%d", messageID),
			}).
			SetResult(&out).
			Post("/deleteMessage")
		if cerr := classifyResponse(resp, reqErr); cerr != nil {
			return nil, cerr
		}
		if !out.OK {
			return nil, &apierr.PermanentUpstream{Op: "broadcast.deleteMessage", StatusCode: resp.StatusCode(), Body: out.Description}
		}
		return nil, nil
	})
	return err
}

// SendPhoto posts a single photo with an optional caption.
func (p *Publisher) SendPhoto(ctx context.Context, photoPath, caption string) (int, error) {
	if _, statErr := os.Stat(photoPath); statErr != nil {
		return 0, &apierr.PermanentUpstream{Op: "broadcast.sendPhoto", StatusCode: 0, Body: "photo not found: " + photoPath}
	}
	caption = truncate(caption, MaxCaptionLength)

	result, err := p.breaker.Execute(func() (interface{}, error) {
		var out apiResponse
		resp, reqErr := p.http.R().
			SetContext(ctx).
			SetFile("photo", photoPath).
			SetFormData(map[string]string{
				"chat_id":    p.channelID,
				"caption":    caption,
				"parse_mode": "HTML",
			}).
			SetResult(&out).
			Post("/sendPhoto")
		if cerr := classifyResponse(resp, reqErr); cerr != nil {
			return nil, cerr
		}
		if !out.OK {
			return nil, &apierr.PermanentUpstream{Op: "broadcast.sendPhoto", StatusCode: resp.StatusCode(), Body: out.Description}
		}
		return out.Result.MessageID, nil
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

type MediaItem struct {
	Path    string
	Caption string
}

// SendMediaGroup posts up to 10 photos as a single carousel post.
// Each item carries its own caption; a non-empty mainCaption replaces
// the first item's caption. It returns the message_id of the first item, which
// callers persist as broadcast_message_id.
func (p *Publisher) SendMediaGroup(ctx context.Context, items []MediaItem, mainCaption string) (int, error) {
	if len(items) == 0 {
		return 0, &apierr.BusinessRule{Rule: "media group requires at least one image"}
	}
	if len(items) > MaxMediaGroupSize {
		return 0, &apierr.BusinessRule{Rule: fmt.Sprintf("media group exceeds max size %d", MaxMediaGroupSize)}
	}

	req := p.http.R().SetContext(ctx)

	type mediaEntry struct {
		Type      string `json:"type"`
		Media     string `json:"media"`
		Caption   string `json:"caption,omitempty"`
		ParseMode string `json:"parse_mode,omitempty"`
	}
	media := make([]mediaEntry, len(items))
	for i, item := range items {
		if _, statErr := os.Stat(item.Path); statErr != nil {
			return 0, &apierr.PermanentUpstream{Op: "broadcast.sendMediaGroup", StatusCode: 0, Body: "photo not found: " + item.Path}
		}
		attachName := fmt.Sprintf("file%d", i)
		req.SetFile(attachName, item.Path)

		caption := item.Caption
		if i == 0 && mainCaption != "" {
			caption = mainCaption
		}
		entry := mediaEntry{Type: "photo", Media: "attach://" + attachName}
		if caption != "" {
			entry.Caption = truncate(caption, MaxCaptionLength)
			entry.ParseMode = "HTML"
		}
		media[i] = entry
	}

	mediaJSON, err := json.Marshal(media)
	if err != nil {
		return 0, &apierr.Fatal{Stage: "broadcast.sendMediaGroup", Err: err}
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		var out mediaGroupResponse
		resp, reqErr := req.
			SetFormData(map[string]string{
				"chat_id": p.channelID,
				"media":   string(mediaJSON),
			}).
			SetResult(&out).
			Post("/sendMediaGroup")
		if cerr := classifyResponse(resp, reqErr); cerr != nil {
			return nil, cerr
		}
		if !out.OK || len(out.Result) == 0 {
			return nil, &apierr.PermanentUpstream{Op: "broadcast.sendMediaGroup", StatusCode: resp.StatusCode(), Body: resp.String()}
		}
		return out.Result[0].MessageID, nil
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

// NotifyOperators fans the same text out to every configured admin
// chat ID, returning the first successful message_id. Individual
// failures are collected but don't abort the fan-out.
func (p *Publisher) NotifyOperators(ctx context.Context, adminChatIDs []string, text string) (int, error) {
	var firstID int
	var errs []string
	for _, chatID := range adminChatIDs {
		var out apiResponse
		resp, reqErr := p.http.R().
			SetContext(ctx).
			SetFormData(map[string]string{
				"chat_id":    chatID,
				"text":       text,
				"parse_mode": "HTML",
			}).
			SetResult(&out).
			Post("/sendMessage")
		if cerr := classifyResponse(resp, reqErr); cerr != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", chatID, cerr))
			continue
		}
		if !out.OK {
			errs = append(errs, fmt.Sprintf("%s: %s", chatID, out.Description))
			continue
		}
		if firstID == 0 {
			firstID = out.Result.MessageID
		}
	}
	if firstID == 0 {
		return 0, &apierr.TransientUpstream{Op: "broadcast.notify_operators", Err: fmt.Errorf("all operators failed: %s", strings.Join(errs, "; "))}
	}
	return firstID, nil
}

func classifyResponse(resp *resty.Response, err error) error {
	if err != nil {
		return &apierr.TransientUpstream{Op: "broadcast", Err: err}
	}
	if resp.StatusCode() == 429 {
		return &apierr.RateLimitExceeded{Source: "broadcast", Limit: 0}
	}
	if resp.StatusCode() >= 500 {
		return &apierr.TransientUpstream{Op: "broadcast", Err: fmt.Errorf("status %d", resp.StatusCode())}
	}
	return nil
}
