package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductSource identifies which marketplace a product was retrieved from.
type ProductSource string

const (
	SourcePrimary   ProductSource = "primary"
	SourceSecondary ProductSource = "secondary"
)

// RawProduct is produced by a Marketplace Client. It is immutable once
// constructed; every field is validated by the client that built it.
type RawProduct struct {
	ID          string
	Title       string
	PriceNative decimal.Decimal
	ImageURL    string
	Rating      float64
	DiscountPct int
	SalesCount  int64
	Source      ProductSource
	CategoryKey string
}

// Product is derived from a RawProduct by price conversion (spec §4.2).
// DiscountPct here is always the recomputed marketing discount, not the
// marketplace-reported one.
type Product struct {
	RawProduct
	PriceLocal    decimal.Decimal
	OldPriceLocal decimal.Decimal
	DiscountPct   int // shadows RawProduct.DiscountPct intentionally: see Flatten
}

// Flatten returns the fields actually used downstream, resolving the
// deliberate shadow of DiscountPct between RawProduct and Product.
func (p Product) Flatten() Product {
	out := p
	out.RawProduct.DiscountPct = p.DiscountPct
	return out
}

// ExchangeRate is a point-in-time currency conversion rate. The latest
// row per (From, To) pair is the persisted fallback source for the
// Currency Feed.
type ExchangeRate struct {
	ID        uint `gorm:"primaryKey"`
	From      string `gorm:"column:from_currency;size:8;index:idx_rate_pair"`
	To        string `gorm:"column:to_currency;size:8;index:idx_rate_pair"`
	Rate      decimal.Decimal `gorm:"type:decimal(18,8)"`
	FetchedAt time.Time
}

func (ExchangeRate) TableName() string { return "currency_rates" }

// PersistedProduct is the upsertable row backing the `products` table
// (§6), keyed by the marketplace-reported SourceID.
type PersistedProduct struct {
	ID          uint `gorm:"primaryKey"`
	SourceID    string          `gorm:"uniqueIndex;size:64"`
	Title       string          `gorm:"size:500"`
	PriceNative decimal.Decimal `gorm:"type:decimal(12,2)"`
	ImageURL    string          `gorm:"size:1000"`
	Rating      float64
	Discount    int
	SalesCount  int64
	Category    string `gorm:"size:64;index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (PersistedProduct) TableName() string { return "products" }

// CachedProductSet is the in-memory (and, transitively, the upsert
// source for) per-category product snapshot used as the Stage 1
// fallback when a marketplace call fails.
type CachedProductSet struct {
	CategoryKey string
	Products    []RawProduct
	UpdatedAt   time.Time
}
