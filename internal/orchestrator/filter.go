package orchestrator

import (
	"sort"

	"github.com/tulparexpress/autopost-bot/internal/models"
)

// FilterConfig carries the Stage 3 thresholds (§4.2, §6 FilteringConfig).
type FilterConfig struct {
	MinDiscount int
	MinRating   float64
	TopLimit    int
}

// profitability is the Stage 3 sort key: discount * sales, or plain
// sales when no product in the run carries discount data, matching
// original_source's ProductFilter.calculate_profitability.
func profitability(p models.Product, hasDiscountData bool) int64 {
	if hasDiscountData {
		return int64(p.DiscountPct) * p.SalesCount
	}
	return p.SalesCount
}

// FilterAndRank applies Stage 3: per-source discount/rating filtering
// (waiving the discount floor for a source with no positive discounts
// this run), equal per-source share of the top-N cap, and a final
// global re-sort truncated to TopLimit (§4.2, invariant 3).
func FilterAndRank(products []models.Product, cfg FilterConfig) []models.Product {
	bySource := make(map[models.ProductSource][]models.Product)
	sourceOrder := make([]models.ProductSource, 0, 2)
	for _, p := range products {
		if _, seen := bySource[p.Source]; !seen {
			sourceOrder = append(sourceOrder, p.Source)
		}
		bySource[p.Source] = append(bySource[p.Source], p)
	}
	if len(sourceOrder) == 0 {
		return nil
	}

	perSourceLimit := cfg.TopLimit / len(sourceOrder)
	if perSourceLimit < 1 {
		perSourceLimit = 1
	}

	var balanced []models.Product
	for _, source := range sourceOrder {
		group := bySource[source]

		hasDiscountData := false
		for _, p := range group {
			if p.DiscountPct > 0 {
				hasDiscountData = true
				break
			}
		}

		var filtered []models.Product
		for _, p := range group {
			if p.Rating < cfg.MinRating {
				continue
			}
			if hasDiscountData && p.DiscountPct < cfg.MinDiscount {
				continue
			}
			filtered = append(filtered, p)
		}

		sort.SliceStable(filtered, func(i, j int) bool {
			return profitability(filtered[i], hasDiscountData) > profitability(filtered[j], hasDiscountData)
		})

		if len(filtered) > perSourceLimit {
			filtered = filtered[:perSourceLimit]
		}
		balanced = append(balanced, filtered...)
	}

	globalHasDiscountData := false
	for _, p := range balanced {
		if p.DiscountPct > 0 {
			globalHasDiscountData = true
			break
		}
	}

	sort.SliceStable(balanced, func(i, j int) bool {
		return profitability(balanced[i], globalHasDiscountData) > profitability(balanced[j], globalHasDiscountData)
	})

	if len(balanced) > cfg.TopLimit {
		balanced = balanced[:cfg.TopLimit]
	}
	return balanced
}
