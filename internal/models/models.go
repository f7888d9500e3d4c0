package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Model is the base model with common fields for all database entities
type Model struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a server generated id
func (m *Model) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// Role is the coarse role attached to a user
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleOperator
}

// User is a caller known to the service. Credentials live with the identity provider.
type User struct {
	Model
	Username string `json:"username" gorm:"uniqueIndex;not null"`
	Role     Role   `json:"role" gorm:"type:text;not null;default:operator"`
}

// APIKey is an operator credential minted from the CLI. Only the SHA-256 of the secret is stored.
type APIKey struct {
	Model
	UserID     uuid.UUID  `json:"user_id" gorm:"type:uuid;not null;index"`
	User       *User      `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Name       string     `json:"name" gorm:"not null"`
	KeyHash    string     `json:"-" gorm:"uniqueIndex;not null"`
	ExpiresAt  *time.Time `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
}

// Expired reports whether the key is past its expiry at now
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !k.ExpiresAt.After(now)
}
