package service

import (
	"context"

	"example.com/backstage/services/ota/internal/apperrors"
	"example.com/backstage/services/ota/internal/audit"
	"example.com/backstage/services/ota/internal/auth"
	"example.com/backstage/services/ota/internal/broadcast"
	"example.com/backstage/services/ota/internal/metrics"
	"example.com/backstage/services/ota/internal/models"
	"example.com/backstage/services/ota/internal/validation"

	"github.com/google/uuid"
)

// TriggerUpdateJob creates a pending job and returns before any device is reached
func (s *service) TriggerUpdateJob(ctx context.Context, id auth.Identity, req TriggerJobRequest) (*models.UpdateJob, error) {
	if err := auth.Require(id, auth.CapJobsWrite); err != nil {
		return nil, err
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	firmwareID, err := uuid.Parse(req.FirmwareID)
	if err != nil {
		return nil, apperrors.Validation("invalid firmware id", map[string]string{"firmwareId": "must be a UUID"})
	}

	job, err := s.engine.Trigger(ctx, firmwareID, models.TransportType(req.TransportType), models.Strategy(req.Strategy), id.UserID)
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementCounter(metrics.JobsTriggered)
	s.record(ctx, id, audit.ActionJobCreate, "update_job", job.ID.String(), map[string]interface{}{
		"firmwareId":   job.FirmwareID.String(),
		"totalDevices": job.TotalDevices,
		"strategy":     job.Strategy,
	})
	return job, nil
}

// GetJobStatus returns one job
func (s *service) GetJobStatus(ctx context.Context, id auth.Identity, jobID uuid.UUID) (*models.UpdateJob, error) {
	if err := auth.Require(id, auth.CapJobsRead); err != nil {
		return nil, err
	}
	return s.engine.Get(ctx, jobID)
}

// ListJobs returns every job, newest first
func (s *service) ListJobs(ctx context.Context, id auth.Identity) ([]*models.UpdateJob, error) {
	if err := auth.Require(id, auth.CapJobsRead); err != nil {
		return nil, err
	}
	return s.engine.List(ctx)
}

// RollbackJob starts a new job redeploying the original job's firmware
func (s *service) RollbackJob(ctx context.Context, id auth.Identity, jobID uuid.UUID) (*models.UpdateJob, error) {
	if err := auth.Require(id, auth.CapJobsWrite); err != nil {
		return nil, err
	}

	job, err := s.engine.Rollback(ctx, jobID, id.UserID)
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementCounter(metrics.JobsTriggered)
	s.record(ctx, id, audit.ActionRollbackCreate, "update_job", job.ID.String(), map[string]interface{}{
		"originalJobId": jobID.String(),
	})
	return job, nil
}

// CancelJob cancels a pending or in-progress job
func (s *service) CancelJob(ctx context.Context, id auth.Identity, jobID uuid.UUID) (*models.UpdateJob, error) {
	if err := auth.Require(id, auth.CapJobsWrite); err != nil {
		return nil, err
	}

	job, err := s.engine.Cancel(ctx, jobID)
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementCounter(metrics.JobsCancelled)
	s.record(ctx, id, audit.ActionJobCancel, "update_job", job.ID.String(), map[string]interface{}{
		"progress": job.Progress,
	})
	return job, nil
}

// SubscribeJobEvents opens a live feed of job updates. The caller must Close it.
func (s *service) SubscribeJobEvents(ctx context.Context, id auth.Identity) (*broadcast.Subscription, error) {
	if err := auth.Require(id, auth.CapJobsRead); err != nil {
		return nil, err
	}

	sub := s.feed.Subscribe()
	if sub == nil {
		return nil, apperrors.Internal("progress feed is not running", nil)
	}
	return sub, nil
}
