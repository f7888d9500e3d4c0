package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLog is an append-only record of a mutating action
type AuditLog struct {
	ID         uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	UserID     string          `json:"user_id" gorm:"not null;index"`
	Action     string          `json:"action" gorm:"not null"`
	TargetType string          `json:"target_type" gorm:"not null"`
	TargetID   string          `json:"target_id"`
	Details    json.RawMessage `json:"details" gorm:"type:jsonb"`
	CreatedAt  time.Time       `json:"created_at" gorm:"index"`
}

// BeforeCreate assigns a server generated id
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
