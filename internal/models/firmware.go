package models

import (
	"fmt"

	"github.com/google/uuid"
)

// TransportType is the notional wire protocol used to reach devices
type TransportType string

const (
	TransportMQTT TransportType = "mqtt"
	TransportBLE  TransportType = "ble"
)

// Valid reports whether t is a known transport
func (t TransportType) Valid() bool {
	return t == TransportMQTT || t == TransportBLE
}

// Firmware is an uploaded binary plus its metadata and integrity values.
// ContentHash and AuthCode are fixed at ingestion; only Active changes afterwards.
type Firmware struct {
	Model
	Name         string        `json:"name" gorm:"not null"`
	Version      string        `json:"version" gorm:"not null"`
	Description  string        `json:"description" gorm:"type:text"`
	ReleaseNotes string        `json:"release_notes" gorm:"type:text"`
	TargetGroup  string        `json:"target_device_group" gorm:"column:target_device_group;index;not null"`
	Transport    TransportType `json:"transport_type" gorm:"column:transport_type;type:text;not null"`
	Active       bool          `json:"is_active" gorm:"column:is_active;not null;default:true"`
	UploaderID   uuid.UUID     `json:"uploader_id" gorm:"type:uuid;not null"`
	StorageRef   string        `json:"-" gorm:"column:storage_ref;not null"`
	ContentHash  string        `json:"sha256" gorm:"column:sha256;size:64;not null"`
	AuthCode     string        `json:"hmac" gorm:"column:hmac;size:64;not null"`
	SizeBytes    int64         `json:"size_bytes" gorm:"not null"`
	Encrypted    bool          `json:"encrypted" gorm:"not null"`
}

// TableName keeps the relation name singular
func (Firmware) TableName() string {
	return "firmware"
}

// DownloadName is the filename hint handed out with a download
func (f *Firmware) DownloadName() string {
	return fmt.Sprintf("%s-%s.bin", f.Name, f.Version)
}
