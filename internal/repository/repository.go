package repository

import (
	"context"
	"errors"
	"time"

	"example.com/backstage/services/ota/internal/apperrors"
	"example.com/backstage/services/ota/internal/database"
	"example.com/backstage/services/ota/internal/models"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
)

// UserRepository provides user and API key data access
type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)

	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	FindAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error)
	TouchAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error
}

// DeviceRepository provides device data access
type DeviceRepository interface {
	CreateDevice(ctx context.Context, device *models.Device) error
	FindDeviceByID(ctx context.Context, id uuid.UUID) (*models.Device, error)
	ListDevices(ctx context.Context) ([]*models.Device, error)
	ListDevicesByGroup(ctx context.Context, group string) ([]*models.Device, error)
	UpdateDeviceLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdateDeviceFirmware(ctx context.Context, id, firmwareID uuid.UUID) error
}

// FirmwareRepository provides firmware data access
type FirmwareRepository interface {
	CreateFirmware(ctx context.Context, fw *models.Firmware) error
	FindFirmwareByID(ctx context.Context, id uuid.UUID) (*models.Firmware, error)
	ListFirmware(ctx context.Context) ([]*models.Firmware, error)
	SetFirmwareActive(ctx context.Context, id uuid.UUID, active bool) error
}

// JobRepository provides update job data access
type JobRepository interface {
	CreateJob(ctx context.Context, job *models.UpdateJob) error
	FindJobByID(ctx context.Context, id uuid.UUID) (*models.UpdateJob, error)
	ListJobs(ctx context.Context) ([]*models.UpdateJob, error)
	SaveJobState(ctx context.Context, job *models.UpdateJob) error
	ListActiveJobs(ctx context.Context, updatedBefore time.Time) ([]*models.UpdateJob, error)
}

// AuditRepository provides append-only audit log access
type AuditRepository interface {
	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]*models.AuditLog, error)
}

// Stats is the dashboard summary
type Stats struct {
	TotalDevices     int64   `json:"totalDevices"`
	ActiveUpdates    int64   `json:"activeUpdates"`
	FirmwareVersions int64   `json:"firmwareVersions"`
	SuccessRate      float64 `json:"successRate"`
}

// StatsRepository computes the dashboard summary
type StatsRepository interface {
	GetStats(ctx context.Context) (*Stats, error)
}

// Repository provides all data access methods
type Repository interface {
	UserRepository
	DeviceRepository
	FirmwareRepository
	JobRepository
	AuditRepository
	StatsRepository
}

type repository struct {
	db database.DB
}

// NewRepository creates a new gorm backed repository
func NewRepository(db database.DB) Repository {
	return &repository{db: db}
}

func (r *repository) conn(ctx context.Context) (*gorm.DB, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "database error")
	}
	return gormDB.WithContext(ctx), nil
}

// translate maps gorm errors onto the service error kinds
func translate(err error, entity, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperrors.NotFound(entity, id)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return apperrors.Conflict("%s %s already exists", entity, id)
	default:
		return pkgerrors.Wrapf(err, "%s %s", entity, id)
	}
}
