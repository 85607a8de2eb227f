package models

// Setting is a dynamic, non-secret key/value configuration row (§6).
// Secrets are never stored here — they live only in process environment.
type Setting struct {
	ID    uint   `gorm:"primaryKey"`
	Key   string `gorm:"uniqueIndex;size:128"`
	Value string `gorm:"type:text"`
	Type  string `gorm:"size:16"` // "string", "int", "float", "bool"
}

func (Setting) TableName() string { return "settings" }
