package repository

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tulparexpress/autopost-bot/internal/models"
)

// ProductRepository upserts and prunes the `products` table (§6).
type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Upsert inserts or updates a product by its unique SourceID, per the
// "upserting the same product twice produces one row" idempotence law
// (§8). created_at is preserved on update.
func (r *ProductRepository) Upsert(p *models.PersistedProduct) error {
	var existing models.PersistedProduct
	err := r.db.Where("source_id = ?", p.SourceID).First(&existing).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		if createErr := r.db.Create(p).Error; createErr != nil {
			return fmt.Errorf("failed to insert product %s: %w", p.SourceID, createErr)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to look up product %s: %w", p.SourceID, err)
	}

	p.ID = existing.ID
	p.CreatedAt = existing.CreatedAt
	if updErr := r.db.Model(&existing).Updates(map[string]interface{}{
		"title":        p.Title,
		"price_native": p.PriceNative,
		"image_url":    p.ImageURL,
		"rating":       p.Rating,
		"discount":     p.Discount,
		"sales_count":  p.SalesCount,
		"category":     p.Category,
	}).Error; updErr != nil {
		return fmt.Errorf("failed to update product %s: %w", p.SourceID, updErr)
	}
	return nil
}

// ByCategory returns cached products for a category, newest first.
func (r *ProductRepository) ByCategory(category string, limit int) ([]models.PersistedProduct, error) {
	var rows []models.PersistedProduct
	err := r.db.Where("category = ?", category).
		Order("updated_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load cached products for %s: %w", category, err)
	}
	return rows, nil
}

// PruneStale removes rows not refreshed within the retention window
// (§6: "DELETE WHERE updated_at < now − 7d" periodic maintenance).
func (r *ProductRepository) PruneStale(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	result := r.db.Where("updated_at < ?", cutoff).Delete(&models.PersistedProduct{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune stale products: %w", result.Error)
	}
	return result.RowsAffected, nil
}
