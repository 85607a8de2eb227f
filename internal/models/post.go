package models

import "time"

// PostStatus is the lifecycle state of a published autopost (§3).
type PostStatus string

const (
	PostPending      PostStatus = "PENDING"
	PostBroadcastOnly PostStatus = "BROADCAST_ONLY"
	PostPublished    PostStatus = "PUBLISHED"
	PostMirrorFailed PostStatus = "MIRROR_FAILED"
)

// Post is the durable record of one pipeline run's published output.
// Once Status is PUBLISHED or BROADCAST_ONLY the row is read-only
// except for the single forward transition MIRROR_FAILED -> PUBLISHED
// recorded when a late mirror publish succeeds.
type Post struct {
	ID                uint   `gorm:"primaryKey"`
	BroadcastMessageID *string `gorm:"size:64"`
	MirrorPostID       *string `gorm:"size:64"`
	ProductsJSON       string  `gorm:"type:text"`
	Status             PostStatus `gorm:"size:32;index"`
	CreatedAt          time.Time
	PublishedAt        *time.Time
}

func (Post) TableName() string { return "posts" }
