package repository

import (
	"context"
	"math"

	"example.com/backstage/services/ota/internal/models"

	pkgerrors "github.com/pkg/errors"
)

// MaxAuditPage caps a single audit listing
const MaxAuditPage = 100

// CreateAuditLog appends an audit entry
func (r *repository) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}
	if err := db.Create(entry).Error; err != nil {
		return pkgerrors.Wrapf(err, "failed to write audit entry %s", entry.Action)
	}
	return nil
}

// ListAuditLogs returns the newest entries first
func (r *repository) ListAuditLogs(ctx context.Context, limit int) ([]*models.AuditLog, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > MaxAuditPage {
		limit = MaxAuditPage
	}

	var entries []*models.AuditLog
	if err := db.Order("created_at DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list audit logs")
	}
	return entries, nil
}

// GetStats computes the dashboard summary. SuccessRate is the share of
// finished jobs that completed, in percent with one decimal.
func (r *repository) GetStats(ctx context.Context) (*Stats, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var stats Stats
	if err := db.Model(&models.Device{}).Count(&stats.TotalDevices).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "failed to count devices")
	}
	if err := db.Model(&models.UpdateJob{}).
		Where("status = ?", models.JobStatusInProgress).
		Count(&stats.ActiveUpdates).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "failed to count active jobs")
	}
	if err := db.Model(&models.Firmware{}).
		Where("is_active = ?", true).
		Count(&stats.FirmwareVersions).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "failed to count firmware")
	}

	var finished, completed int64
	if err := db.Model(&models.UpdateJob{}).
		Where("status IN ?", []models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed}).
		Count(&finished).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "failed to count finished jobs")
	}
	if err := db.Model(&models.UpdateJob{}).
		Where("status = ?", models.JobStatusCompleted).
		Count(&completed).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "failed to count completed jobs")
	}

	stats.SuccessRate = SuccessRate(completed, finished)
	return &stats, nil
}

// SuccessRate returns completed/finished as a percentage rounded to one decimal
func SuccessRate(completed, finished int64) float64 {
	if finished == 0 {
		return 0
	}
	return math.Round(float64(completed)/float64(finished)*1000) / 10
}
