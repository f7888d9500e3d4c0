package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"example.com/backstage/services/ota/internal/apperrors"

	pkgerrors "github.com/pkg/errors"
)

// FileStore keeps blobs as files in a single directory
type FileStore struct {
	root string
}

// NewFileStore creates the storage directory if needed
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to create storage directory %s", root)
	}
	return &FileStore{root: root}, nil
}

// Put writes to a temp file and renames it so readers never see a partial blob
func (s *FileStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := filepath.Base(filepath.Clean("/" + key))
	if name == "/" || name == "." {
		return "", fmt.Errorf("invalid storage key %q", key)
	}

	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return "", pkgerrors.Wrap(err, "failed to create temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", pkgerrors.Wrap(err, "failed to write blob")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", pkgerrors.Wrap(err, "failed to sync blob")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", pkgerrors.Wrap(err, "failed to close blob")
	}

	if err := os.Rename(tmpName, filepath.Join(s.root, name)); err != nil {
		os.Remove(tmpName)
		return "", pkgerrors.Wrap(err, "failed to move blob into place")
	}

	return name, nil
}

// Get reads a blob
func (s *FileStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NotFound("blob", ref)
		}
		return nil, pkgerrors.Wrapf(err, "failed to read blob %s", ref)
	}
	return data, nil
}

// Delete removes a blob
func (s *FileStore) Delete(ctx context.Context, ref string) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return pkgerrors.Wrapf(err, "failed to delete blob %s", ref)
	}
	return nil
}

func (s *FileStore) resolve(ref string) (string, error) {
	if ref == "" || strings.ContainsAny(ref, `/\`) || ref == "." || ref == ".." {
		return "", apperrors.Validation(fmt.Sprintf("invalid storage reference %q", ref), nil)
	}
	return filepath.Join(s.root, ref), nil
}
