package repository

import (
	"context"
	"time"

	"example.com/backstage/services/ota/internal/apperrors"
	"example.com/backstage/services/ota/internal/models"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
)

var terminalStatuses = []models.JobStatus{
	models.JobStatusCompleted,
	models.JobStatusFailed,
	models.JobStatusCancelled,
}

// CreateJob inserts a new update job
func (r *repository) CreateJob(ctx context.Context, job *models.UpdateJob) error {
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return translate(db.Create(job).Error, "update job", job.ID.String())
}

// FindJobByID retrieves an update job by id
func (r *repository) FindJobByID(ctx context.Context, id uuid.UUID) (*models.UpdateJob, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var job models.UpdateJob
	if err := db.First(&job, "id = ?", id).Error; err != nil {
		return nil, translate(err, "update job", id.String())
	}
	return &job, nil
}

// ListJobs returns all jobs, newest first
func (r *repository) ListJobs(ctx context.Context) ([]*models.UpdateJob, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var jobs []*models.UpdateJob
	if err := db.Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list update jobs")
	}
	return jobs, nil
}

// SaveJobState writes the mutable job fields. Rows already in a terminal
// state are never touched; that case is reported as an InvalidTransitionError.
func (r *repository) SaveJobState(ctx context.Context, job *models.UpdateJob) error {
	db, err := r.conn(ctx)
	if err != nil {
		return err
	}

	job.UpdatedAt = time.Now().UTC()
	res := db.Model(&models.UpdateJob{}).
		Where("id = ? AND status NOT IN ?", job.ID, terminalStatuses).
		Updates(map[string]interface{}{
			"status":            job.Status,
			"progress":          job.Progress,
			"completed_devices": job.CompletedDevices,
			"failed_devices":    job.FailedDevices,
			"updated_at":        job.UpdatedAt,
		})
	if res.Error != nil {
		return translate(res.Error, "update job", job.ID.String())
	}
	if res.RowsAffected == 0 {
		current, err := r.FindJobByID(ctx, job.ID)
		if err != nil {
			return err
		}
		return apperrors.InvalidTransition(string(current.Status), string(job.Status))
	}
	return nil
}

// ListActiveJobs returns pending and in-progress jobs last updated before the cutoff
func (r *repository) ListActiveJobs(ctx context.Context, updatedBefore time.Time) ([]*models.UpdateJob, error) {
	db, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var jobs []*models.UpdateJob
	err = db.Where("status IN ? AND updated_at < ?",
		[]models.JobStatus{models.JobStatusPending, models.JobStatusInProgress}, updatedBefore).
		Order("created_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list active jobs")
	}
	return jobs, nil
}
