package orchestrator

import (
	"hash/fnv"
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/tulparexpress/autopost-bot/internal/models"
)

// markupRand derives a PRNG seeded from (productID, runDate) so the
// same product published on the same day always samples the same
// markup, per SPEC_FULL.md's "old-price markup reproducibility" open
// question decision, while different days still vary it.
func markupRand(productID, runDate string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(productID))
	h.Write([]byte("|"))
	h.Write([]byte(runDate))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

// prettyPrices is the fixed, ascending list of psychologically
// attractive price endings, carried verbatim from original_source's
// price_converter.py PRETTY_PRICES.
var prettyPrices = []int64{
	29, 49, 59, 79, 99, 149, 199, 249, 299, 349, 399, 449, 499, 599, 699, 799,
	899, 999, 1199, 1299, 1499, 1699, 1999, 2499, 2999, 3499, 3999, 4499, 4999,
	5999, 6999, 7999, 8999, 9999, 11999, 12999, 14999, 16999, 19999, 24999,
	29999, 34999, 39999, 49999,
}

var maxPrettyPrice = prettyPrices[len(prettyPrices)-1]

// roundToPretty rounds raw to the nearest cent, then snaps the
// integer part up to the nearest "pretty" value. Above the list's
// maximum it rounds up to the next thousand minus one (k*1000-1),
// matching original_source's round_to_pretty exactly (§4.2, invariant 1).
func roundToPretty(raw decimal.Decimal) decimal.Decimal {
	converted := raw.Round(2)
	priceInt := converted.Ceil().IntPart()

	if priceInt <= maxPrettyPrice {
		for _, p := range prettyPrices {
			if p >= priceInt {
				return decimal.NewFromInt(p)
			}
		}
	}

	thousands := priceInt/1000 + 1
	return decimal.NewFromInt(thousands*1000 - 1)
}

// ConvertPrice applies Stage 2's price conversion to a single raw
// product: currency conversion, pretty-price rounding, markup-derived
// old price, and discount regeneration (§4.2).
//
// rng must be supplied by the caller; stageConvertPrices passes one
// seeded by markupRand(productID, runDate) so the sampled markup is
// reproducible per (product, run date) per the Open Question decision
// recorded in DESIGN.md, while a plain process-seeded rng (as tests
// use) still produces a valid, if non-reproducible, sample.
func ConvertPrice(raw models.RawProduct, rate decimal.Decimal, rng *rand.Rand) models.Product {
	priceLocal := roundToPretty(raw.PriceNative.Mul(rate))

	markup := decimal.NewFromFloat(1.30 + rng.Float64()*0.20)
	oldPriceRaw := priceLocal.Mul(markup)
	oldPriceLocal := roundToNearestTen(oldPriceRaw)
	if oldPriceLocal.LessThan(priceLocal) {
		oldPriceLocal = priceLocal
	}

	discount := 0
	if oldPriceLocal.GreaterThan(decimal.Zero) {
		ratio := priceLocal.Div(oldPriceLocal)
		discountDec := decimal.NewFromInt(100).Mul(decimal.NewFromInt(1).Sub(ratio)).Floor()
		discount = int(discountDec.IntPart())
	}

	p := models.Product{
		RawProduct:    raw,
		PriceLocal:    priceLocal,
		OldPriceLocal: oldPriceLocal,
		DiscountPct:   discount,
	}
	return p.Flatten()
}

// roundToNearestTen matches original_source's `round(x, -1)`.
func roundToNearestTen(v decimal.Decimal) decimal.Decimal {
	tens := v.Div(decimal.NewFromInt(10)).Round(0)
	return tens.Mul(decimal.NewFromInt(10))
}
