package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tulparexpress/autopost-bot/internal/models"
)

func product(source models.ProductSource, discount int, rating float64, sales int64) models.Product {
	return models.Product{
		RawProduct: models.RawProduct{
			Source:      source,
			DiscountPct: discount,
			Rating:      rating,
			SalesCount:  sales,
		},
		DiscountPct: discount,
	}
}

func TestFilterAndRankAppliesThresholds(t *testing.T) {
	cfg := FilterConfig{MinDiscount: 40, MinRating: 4.5, TopLimit: 10}
	products := []models.Product{
		product(models.SourcePrimary, 50, 4.8, 100),
		product(models.SourcePrimary, 10, 4.8, 500), // below discount floor
		product(models.SourcePrimary, 60, 4.0, 50),  // below rating floor
	}
	out := FilterAndRank(products, cfg)
	assert.Len(t, out, 1)
	assert.Equal(t, 50, out[0].DiscountPct)
}

func TestFilterAndRankWaivesDiscountFloorWhenNoDiscountData(t *testing.T) {
	cfg := FilterConfig{MinDiscount: 40, MinRating: 4.5, TopLimit: 10}
	products := []models.Product{
		product(models.SourceSecondary, 0, 4.9, 300),
		product(models.SourceSecondary, 0, 4.6, 100),
	}
	out := FilterAndRank(products, cfg)
	assert.Len(t, out, 2, "source with no discount data at all must not be filtered out by the discount floor")
}

func TestFilterAndRankRespectsTopLimit(t *testing.T) {
	cfg := FilterConfig{MinDiscount: 0, MinRating: 0, TopLimit: 3}
	var products []models.Product
	for i := 0; i < 10; i++ {
		products = append(products, product(models.SourcePrimary, 50, 5.0, int64(i)))
	}
	out := FilterAndRank(products, cfg)
	assert.LessOrEqual(t, len(out), cfg.TopLimit)
}

func TestFilterAndRankBalancesAcrossSources(t *testing.T) {
	cfg := FilterConfig{MinDiscount: 0, MinRating: 0, TopLimit: 4}
	var products []models.Product
	for i := 0; i < 10; i++ {
		products = append(products, product(models.SourcePrimary, 80, 5.0, int64(100-i)))
	}
	products = append(products, product(models.SourceSecondary, 10, 5.0, 1))

	out := FilterAndRank(products, cfg)

	hasSecondary := false
	for _, p := range out {
		if p.Source == models.SourceSecondary {
			hasSecondary = true
		}
	}
	assert.True(t, hasSecondary, "balanced filtering must reserve a slot for the smaller source")
}

func TestFilterAndRankEmptyInput(t *testing.T) {
	out := FilterAndRank(nil, FilterConfig{MinDiscount: 40, MinRating: 4.5, TopLimit: 10})
	assert.Nil(t, out)
}
