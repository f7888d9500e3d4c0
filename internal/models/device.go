package models

import (
	"time"

	"github.com/google/uuid"
)

// OnlineWindow is how recently a device must have been seen to count as online
const OnlineWindow = 5 * time.Minute

// Device is a physical device in the fleet
type Device struct {
	Model
	Identifier        string     `json:"device_identifier" gorm:"column:device_identifier;uniqueIndex;not null"`
	Name              string     `json:"name" gorm:"not null"`
	Group             string     `json:"device_group" gorm:"column:device_group;index;not null"`
	LastSeenAt        *time.Time `json:"last_seen_at"`
	CurrentFirmwareID *uuid.UUID `json:"current_firmware_id" gorm:"type:uuid"`
}

// Online is derived at query time and never stored
func (d *Device) Online(now time.Time) bool {
	return d.LastSeenAt != nil && now.Sub(*d.LastSeenAt) < OnlineWindow
}
