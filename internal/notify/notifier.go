// Package notify fans success and failure summaries out to the
// configured operator channels (§4.2 Stage 10), reusing the Broadcast
// Publisher's transport instead of opening a second Telegram client —
// grounded on original_source's telegram_service.py notify_owner,
// generalized to cover both the pipeline's run summary and its
// per-stage failure notifications.
package notify

import (
	"context"
	"fmt"
	"time"
)

// Sender is the subset of broadcast.Publisher the notifier depends
// on, kept as a narrow interface so tests can fake it without an HTTP
// server.
type Sender interface {
	NotifyOperators(ctx context.Context, adminChatIDs []string, text string) (int, error)
}

// recommendations gives a canned, stage-keyed remediation hint for
// the operator-facing failure notification (§4.2 Stage 10).
var recommendations = map[string]string{
	"fetch":             "Check marketplace API credentials and RapidAPI quota; cached fallback may be stale.",
	"price_conversion":  "Check currency feed connectivity; verify KGS exchange rate availability.",
	"filter_rank":       "Review min_discount/min_rating thresholds; today's batch may be too thin to pass them.",
	"text_generation":   "Check the LLM provider's API key and quota; fallback captions are used automatically.",
	"image_download":    "Check source CDN reachability; some image hosts may be rate-limiting or blocking.",
	"card_composition":  "Check disk space in the temp image directory and source image integrity.",
	"broadcast_publish":  "Check the bot token and channel permissions; the bot may have been removed as admin.",
	"mirror_publish":    "Check the Instagram access token's validity and expiry; token may need refreshing.",
	"persist":           "Check database connectivity; earlier publish side effects are unaffected.",
}

type Notifier struct {
	sender       Sender
	adminChatIDs []string
}

func New(sender Sender, adminChatIDs []string) *Notifier {
	return &Notifier{sender: sender, adminChatIDs: adminChatIDs}
}

// Success sends the Stage 10 success summary: product count, elapsed
// time, and a link to the broadcast post.
func (n *Notifier) Success(ctx context.Context, productCount int, elapsed time.Duration, broadcastMessageID string) error {
	text := fmt.Sprintf(
		"✅ Автопостинг завершён\n\nТоваров опубликовано: %d\nВремя выполнения: %s\nID сообщения: %s",
		productCount, elapsed.Round(time.Second), broadcastMessageID,
	)
	_, err := n.sender.NotifyOperators(ctx, n.adminChatIDs, text)
	return err
}

// Failure sends the Stage 10 error notification naming the failing
// stage, with a canned recommendation looked up by stage key.
func (n *Notifier) Failure(ctx context.Context, stage string, cause error) error {
	recommendation, ok := recommendations[stage]
	if !ok {
		recommendation = "No specific recommendation available; check application logs for the full error."
	}

	text := fmt.Sprintf(
		"❌ Автопостинг прерван на этапе: %s\n\nОшибка: %v\n\nРекомендация: %s",
		stage, cause, recommendation,
	)
	_, err := n.sender.NotifyOperators(ctx, n.adminChatIDs, text)
	return err
}

// PartialFailure reports a non-fatal degradation (e.g. mirror publish
// failed but the run otherwise succeeded).
func (n *Notifier) PartialFailure(ctx context.Context, stage string, cause error) error {
	recommendation, ok := recommendations[stage]
	if !ok {
		recommendation = "No specific recommendation available; check application logs for the full error."
	}

	text := fmt.Sprintf(
		"⚠️ Автопостинг завершён с предупреждением на этапе: %s\n\nОшибка: %v\n\nРекомендация: %s",
		stage, cause, recommendation,
	)
	_, err := n.sender.NotifyOperators(ctx, n.adminChatIDs, text)
	return err
}

// StageNames is the ordered list of the pipeline's ten stage keys. The
// first nine match the orchestrator's Stage values and the keys of
// recommendations; neither the orchestrator nor the recommendation
// lookup reads this slice.
var StageNames = []string{
	"fetch", "price_conversion", "filter_rank", "text_generation",
	"image_download", "card_composition", "broadcast_publish",
	"mirror_publish", "persist", "notify",
}
