package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
)

// Content store backends
const (
	BackendFilesystem = "filesystem"
	BackendS3         = "s3"
)

// MinMasterKeyLength is the shortest master key accepted at startup
const MinMasterKeyLength = 16

// Secret is a configuration value that must never reach logs or serialized output
type Secret string

// String implements fmt.Stringer
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[redacted]"
}

// GoString keeps %#v from printing the value
func (s Secret) GoString() string {
	return s.String()
}

// MarshalJSON implements json.Marshaler
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Bytes returns the raw secret
func (s Secret) Bytes() []byte {
	return []byte(s)
}

// FirmwareConfig holds configuration for firmware ingestion and storage
type FirmwareConfig struct {
	StoragePath    string // Directory for the filesystem backend
	Backend        string // filesystem or s3
	MasterKey      Secret // HMAC key, also the root for the at-rest encryption key
	EncryptAtRest  bool
	MaxUploadBytes int64
}

// S3Config holds the S3 content store configuration
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, for MinIO and other S3 compatible stores
	AccessKey string
	SecretKey Secret
	Prefix    string
}

// Validate checks the firmware settings
func (c *FirmwareConfig) Validate() error {
	if len(c.MasterKey) < MinMasterKeyLength {
		return fmt.Errorf("firmware.masterkey must be at least %d bytes", MinMasterKeyLength)
	}

	switch c.Backend {
	case BackendFilesystem, BackendS3:
	default:
		return fmt.Errorf("unsupported firmware.backend %q", c.Backend)
	}

	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("firmware.maxuploadbytes must be positive")
	}

	return nil
}

// GetAbsoluteStoragePath returns the absolute path to firmware storage
func (c *FirmwareConfig) GetAbsoluteStoragePath() (string, error) {
	if filepath.IsAbs(c.StoragePath) {
		return c.StoragePath, nil
	}

	absPath, err := filepath.Abs(c.StoragePath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	return absPath, nil
}
