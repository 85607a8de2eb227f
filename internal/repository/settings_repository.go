package repository

import (
	"fmt"
	"strconv"

	"gorm.io/gorm"

	"github.com/tulparexpress/autopost-bot/internal/models"
)

// SettingsRepository provides typed CRUD over dynamic, non-secret
// operational settings (§6 supplement — nothing equivalent is named
// in the distilled spec, but the original keeps a mutable settings
// table alongside its static config, e.g. for toggling secondary
// marketplace sourcing without a redeploy).
type SettingsRepository struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) GetString(key, fallback string) string {
	var s models.Setting
	if err := r.db.Where("key = ?", key).First(&s).Error; err != nil {
		return fallback
	}
	return s.Value
}

func (r *SettingsRepository) GetInt(key string, fallback int) int {
	var s models.Setting
	if err := r.db.Where("key = ?", key).First(&s).Error; err != nil {
		return fallback
	}
	n, err := strconv.Atoi(s.Value)
	if err != nil {
		return fallback
	}
	return n
}

func (r *SettingsRepository) GetBool(key string, fallback bool) bool {
	var s models.Setting
	if err := r.db.Where("key = ?", key).First(&s).Error; err != nil {
		return fallback
	}
	b, err := strconv.ParseBool(s.Value)
	if err != nil {
		return fallback
	}
	return b
}

// Set upserts a typed setting by key.
func (r *SettingsRepository) Set(key, value, valueType string) error {
	var existing models.Setting
	err := r.db.Where("key = ?", key).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		if cErr := r.db.Create(&models.Setting{Key: key, Value: value, Type: valueType}).Error; cErr != nil {
			return fmt.Errorf("failed to create setting %s: %w", key, cErr)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up setting %s: %w", key, err)
	}
	if uErr := r.db.Model(&existing).Updates(map[string]interface{}{
		"value": value,
		"type":  valueType,
	}).Error; uErr != nil {
		return fmt.Errorf("failed to update setting %s: %w", key, uErr)
	}
	return nil
}
