package repository

import (
	"context"

	"example.com/backstage/services/ota/internal/apperrors"
	"example.com/backstage/services/ota/internal/models"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
)

// CreateFirmware inserts a firmware record. Callers commit only after the blob is stored.
func (r *repository) CreateFirmware(ctx context.Context, fw *models.Firmware) error {
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return translate(db.Create(fw).Error, "firmware", fw.Name+"@"+fw.Version)
}

// FindFirmwareByID retrieves a firmware record by id
func (r *repository) FindFirmwareByID(ctx context.Context, id uuid.UUID) (*models.Firmware, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var fw models.Firmware
	if err := db.First(&fw, "id = ?", id).Error; err != nil {
		return nil, translate(err, "firmware", id.String())
	}
	return &fw, nil
}

// ListFirmware returns all firmware, newest first
func (r *repository) ListFirmware(ctx context.Context) ([]*models.Firmware, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var list []*models.Firmware
	if err := db.Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list firmware")
	}
	return list, nil
}

// SetFirmwareActive flips the only mutable firmware attribute
func (r *repository) SetFirmwareActive(ctx context.Context, id uuid.UUID, active bool) error {
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}

	res := db.Model(&models.Firmware{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return translate(res.Error, "firmware", id.String())
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("firmware", id.String())
	}
	return nil
}
