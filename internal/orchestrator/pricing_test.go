package orchestrator

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/tulparexpress/autopost-bot/internal/models"
)

func TestRoundToPrettyExactMatch(t *testing.T) {
	got := roundToPretty(decimal.NewFromInt(99))
	assert.True(t, got.Equal(decimal.NewFromInt(99)))
}

func TestRoundToPrettySnapsUp(t *testing.T) {
	got := roundToPretty(decimal.NewFromInt(61))
	assert.True(t, got.Equal(decimal.NewFromInt(79)))
}

func TestRoundToPrettyAboveListMax(t *testing.T) {
	got := roundToPretty(decimal.NewFromInt(50000))
	// k = 50000/1000 + 1 = 51 -> 51000-1
	assert.True(t, got.Equal(decimal.NewFromInt(50999)))
}

func TestRoundToPrettyIdempotent(t *testing.T) {
	once := roundToPretty(decimal.NewFromInt(1234))
	twice := roundToPretty(once)
	assert.True(t, once.Equal(twice), "rounding an already-pretty value must be a no-op")
}

func TestRoundToPrettyNeverBelowInput(t *testing.T) {
	for _, raw := range []int64{1, 28, 29, 30, 1000, 50000, 12999, 13000} {
		got := roundToPretty(decimal.NewFromInt(raw))
		assert.True(t, got.GreaterThanOrEqual(decimal.NewFromInt(raw)), "roundToPretty(%d) = %s must be >= input", raw, got)
	}
}

func TestConvertPriceInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	raw := models.RawProduct{
		ID:          "1",
		PriceNative: decimal.NewFromInt(50),
		Source:      models.SourcePrimary,
	}
	rate := decimal.NewFromFloat(12.5)

	p := ConvertPrice(raw, rate, rng)

	assert.True(t, p.PriceLocal.GreaterThanOrEqual(raw.PriceNative.Mul(rate).Ceil()))
	assert.True(t, p.OldPriceLocal.GreaterThanOrEqual(p.PriceLocal))

	ratio := p.PriceLocal.Div(p.OldPriceLocal)
	expectedDiscount := int(decimal.NewFromInt(100).Mul(decimal.NewFromInt(1).Sub(ratio)).Floor().IntPart())
	assert.Equal(t, expectedDiscount, p.DiscountPct)
}

func TestMarkupRandDeterministicForSameProductAndDate(t *testing.T) {
	raw := models.RawProduct{ID: "product-42", PriceNative: decimal.NewFromInt(50), Source: models.SourcePrimary}
	rate := decimal.NewFromFloat(12.5)

	first := ConvertPrice(raw, rate, markupRand("product-42", "2026-07-31"))
	second := ConvertPrice(raw, rate, markupRand("product-42", "2026-07-31"))

	assert.True(t, first.OldPriceLocal.Equal(second.OldPriceLocal), "same product republished the same day must show the same was-price")
}

func TestMarkupRandDiffersAcrossProducts(t *testing.T) {
	rate := decimal.NewFromFloat(12.5)
	a := ConvertPrice(models.RawProduct{ID: "a", PriceNative: decimal.NewFromInt(500)}, rate, markupRand("a", "2026-07-31"))
	b := ConvertPrice(models.RawProduct{ID: "b", PriceNative: decimal.NewFromInt(500)}, rate, markupRand("b", "2026-07-31"))
	assert.NotEqual(t, a.OldPriceLocal.String(), b.OldPriceLocal.String(), "different products on the same day should not be forced onto the same markup seed")
}
