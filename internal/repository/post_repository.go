package repository

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tulparexpress/autopost-bot/internal/models"
)

// PostRepository persists one row per pipeline run (§3, §6).
type PostRepository struct {
	db *gorm.DB
}

func NewPostRepository(db *gorm.DB) *PostRepository {
	return &PostRepository{db: db}
}

func (r *PostRepository) Create(p *models.Post) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if err := r.db.Create(p).Error; err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

// MarkBroadcastOnly records that only the broadcast publish succeeded.
func (r *PostRepository) MarkBroadcastOnly(id uint, broadcastMessageID string) error {
	now := time.Now().UTC()
	return r.db.Model(&models.Post{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":               models.PostBroadcastOnly,
		"broadcast_message_id": broadcastMessageID,
		"published_at":         now,
	}).Error
}

// MarkPublished records that both broadcast and mirror publishes
// succeeded.
func (r *PostRepository) MarkPublished(id uint, broadcastMessageID, mirrorPostID string) error {
	now := time.Now().UTC()
	return r.db.Model(&models.Post{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":               models.PostPublished,
		"broadcast_message_id": broadcastMessageID,
		"mirror_post_id":       mirrorPostID,
		"published_at":         now,
	}).Error
}

// MarkMirrorFailed records that the broadcast publish succeeded but
// the mirror publish did not.
func (r *PostRepository) MarkMirrorFailed(id uint, broadcastMessageID string) error {
	now := time.Now().UTC()
	return r.db.Model(&models.Post{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":               models.PostMirrorFailed,
		"broadcast_message_id": broadcastMessageID,
		"published_at":         now,
	}).Error
}

// ResolveMirrorFailure applies the single forward transition
// MIRROR_FAILED -> PUBLISHED recorded when a retried mirror publish
// later succeeds (§3). Any other current status is left untouched.
func (r *PostRepository) ResolveMirrorFailure(id uint, mirrorPostID string) error {
	result := r.db.Model(&models.Post{}).
		Where("id = ? AND status = ?", id, models.PostMirrorFailed).
		Updates(map[string]interface{}{
			"status":         models.PostPublished,
			"mirror_post_id": mirrorPostID,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to resolve mirror failure for post %d: %w", id, result.Error)
	}
	return nil
}

func (r *PostRepository) Get(id uint) (*models.Post, error) {
	var p models.Post
	if err := r.db.First(&p, id).Error; err != nil {
		return nil, fmt.Errorf("failed to load post %d: %w", id, err)
	}
	return &p, nil
}
