// Package storage holds the content store for firmware blobs.
package storage

import (
	"context"
	"fmt"

	"example.com/backstage/services/ota/config"
)

// ContentStore is durable blob storage keyed by an opaque reference
type ContentStore interface {
	// Put writes data under key and returns the reference to read it back
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get reads the blob behind ref. A missing blob is a NotFoundError.
	Get(ctx context.Context, ref string) ([]byte, error)
	// Delete removes the blob behind ref. Deleting a missing blob is not an error.
	Delete(ctx context.Context, ref string) error
}

// New builds the content store selected by configuration
func New(ctx context.Context, fwCfg config.FirmwareConfig, s3Cfg config.S3Config) (ContentStore, error) {
	switch fwCfg.Backend {
	case config.BackendFilesystem:
		path, err := fwCfg.GetAbsoluteStoragePath()
		if err != nil {
			return nil, err
		}
		return NewFileStore(path)
	case config.BackendS3:
		return NewS3Store(ctx, s3Cfg)
	default:
		return nil, fmt.Errorf("unsupported content store backend %q", fwCfg.Backend)
	}
}
