package repository

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tulparexpress/autopost-bot/internal/models"
)

// CurrencyRepository is the append-only ledger of fetched exchange
// rates, used as the last-resort fallback tier of the Currency Feed
// (§4) when both the in-memory cache and the live upstream are
// unavailable.
type CurrencyRepository struct {
	db *gorm.DB
}

func NewCurrencyRepository(db *gorm.DB) *CurrencyRepository {
	return &CurrencyRepository{db: db}
}

// Insert appends a freshly fetched rate. Rows are never updated in
// place — each fetch is its own record, matching the append-only
// contract of a rate ledger.
func (r *CurrencyRepository) Insert(from, to string, rate decimal.Decimal) error {
	row := &models.ExchangeRate{
		From:      from,
		To:        to,
		Rate:      rate,
		FetchedAt: time.Now().UTC(),
	}
	if err := r.db.Create(row).Error; err != nil {
		return fmt.Errorf("failed to persist exchange rate %s->%s: %w", from, to, err)
	}
	return nil
}

// Latest returns the most recently fetched rate for the pair, however
// stale, as the final fallback tier.
func (r *CurrencyRepository) Latest(from, to string) (*models.ExchangeRate, error) {
	var row models.ExchangeRate
	err := r.db.Where("from_currency = ? AND to_currency = ?", from, to).
		Order("fetched_at DESC").
		First(&row).Error
	if err != nil {
		return nil, fmt.Errorf("no persisted rate for %s->%s: %w", from, to, err)
	}
	return &row, nil
}
