// Package textgen implements the Text Generator (§4.5): an LLM chat
// completion call through OpenRouter, falling back to a canned
// template on any failure, grounded on original_source's
// openai_service.py.
package textgen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tulparexpress/autopost-bot/internal/apierr"
	"github.com/tulparexpress/autopost-bot/internal/models"
)

const systemPrompt = `Ты — переводчик и описатель товаров для Telegram канала.
Твоя задача — ПЕРЕВЕСТИ название товара на русский и написать понятное описание.

ВАЖНО:
1. ПЕРЕВЕДИ название товара на русский язык
2. Опиши ЧТО ЭТО за товар простыми словами
3. ОБЯЗАТЕЛЬНО укажи примерные характеристики (вес, размеры, материал)
4. НЕ пиши цены - они добавятся автоматически`

type Generator struct {
	http            *resty.Client
	model           string
	contactUsername string
}

func New(baseURL, apiKey, model, contactUsername string, timeout time.Duration) *Generator {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetHeader("Content-Type", "application/json")

	return &Generator{http: httpClient, model: model, contactUsername: contactUsername}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate produces a caption for one product. On any upstream
// failure or malformed response it returns the fallback template
// instead of an error — the pipeline never fails Stage 4 (§4.5).
func (g *Generator) Generate(ctx context.Context, p models.Product) string {
	text, err := g.callLLM(ctx, p)
	if err != nil {
		return g.fallback(p)
	}
	return text
}

// GenerateBatch processes products sequentially, matching the
// original's rate-limit-respecting sequential batch call.
func (g *Generator) GenerateBatch(ctx context.Context, products []models.Product) []string {
	out := make([]string, len(products))
	for i, p := range products {
		out[i] = g.Generate(ctx, p)
	}
	return out
}

func (g *Generator) callLLM(ctx context.Context, p models.Product) (string, error) {
	oldPrice := p.OldPriceLocal.IntPart()
	newPrice := p.PriceLocal.IntPart()
	savings := oldPrice - newPrice
	discount := p.DiscountPct
	if discount <= 0 {
		discount = 30
	}

	userPrompt := fmt.Sprintf(
		"Товар: %s\n\nЦЕНЫ:\n- Было: %d сом\n- Стало: %d сом\n- Экономия: %d сом\n- Скидка: %d%%\n\nНапиши короткое цепляющее описание с акцентом на выгоду.",
		p.Title, oldPrice, newPrice, savings, discount,
	)

	req := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:   200,
		Temperature: 0.7,
	}

	var out chatResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return "", &apierr.TransientUpstream{Op: "textgen", Err: err}
	}
	if resp.StatusCode() >= 500 {
		return "", &apierr.TransientUpstream{Op: "textgen", Err: fmt.Errorf("upstream returned %d", resp.StatusCode())}
	}
	if resp.StatusCode() >= 400 {
		return "", &apierr.PermanentUpstream{Op: "textgen", StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	if len(out.Choices) == 0 {
		return "", &apierr.SchemaMismatch{Source: "textgen", Field: "choices"}
	}

	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if content == "" {
		return "", &apierr.SchemaMismatch{Source: "textgen", Field: "content"}
	}
	return content, nil
}

// fallback builds the canned template used when the LLM call fails,
// matching original_source's FALLBACK_TEMPLATES (translation is
// skipped — no translation library is wired, see design notes — and
// the original title is used directly).
func (g *Generator) fallback(p models.Product) string {
	title := p.Title
	if len(title) > 80 {
		title = title[:80]
	}
	return fmt.Sprintf("🛒 %s\n\n📩 Для заказа: @%s", title, g.contactUsername)
}
