package service

import (
	"context"
	"io"
	"time"

	"example.com/backstage/services/ota/internal/audit"
	"example.com/backstage/services/ota/internal/auth"
	"example.com/backstage/services/ota/internal/broadcast"
	"example.com/backstage/services/ota/internal/integrity"
	"example.com/backstage/services/ota/internal/metrics"
	"example.com/backstage/services/ota/internal/models"
	"example.com/backstage/services/ota/internal/repository"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Service defines the operations exposed to the HTTP layer and the CLI.
// Every operation checks the caller's capabilities first.
type Service interface {
	// Firmware operations
	UploadFirmware(ctx context.Context, id auth.Identity, req UploadRequest, data []byte) (*models.Firmware, error)
	DownloadFirmware(ctx context.Context, id auth.Identity, firmwareID uuid.UUID) ([]byte, string, error)
	GetFirmware(ctx context.Context, id auth.Identity, firmwareID uuid.UUID) (*models.Firmware, error)
	DeactivateFirmware(ctx context.Context, id auth.Identity, firmwareID uuid.UUID) (*models.Firmware, error)
	ListFirmware(ctx context.Context, id auth.Identity) ([]*models.Firmware, error)

	// Device operations
	RegisterDevice(ctx context.Context, id auth.Identity, req RegisterDeviceRequest) (*models.Device, error)
	ListDevices(ctx context.Context, id auth.Identity) ([]*models.Device, error)
	GetDevice(ctx context.Context, id auth.Identity, deviceID uuid.UUID) (*models.Device, error)
	DeviceHeartbeat(ctx context.Context, id auth.Identity, deviceID uuid.UUID) error

	// Update job operations
	TriggerUpdateJob(ctx context.Context, id auth.Identity, req TriggerJobRequest) (*models.UpdateJob, error)
	GetJobStatus(ctx context.Context, id auth.Identity, jobID uuid.UUID) (*models.UpdateJob, error)
	ListJobs(ctx context.Context, id auth.Identity) ([]*models.UpdateJob, error)
	RollbackJob(ctx context.Context, id auth.Identity, jobID uuid.UUID) (*models.UpdateJob, error)
	CancelJob(ctx context.Context, id auth.Identity, jobID uuid.UUID) (*models.UpdateJob, error)
	SubscribeJobEvents(ctx context.Context, id auth.Identity) (*broadcast.Subscription, error)

	// User and credential operations
	CreateUser(ctx context.Context, id auth.Identity, req CreateUserRequest) (*models.User, error)
	ListUsers(ctx context.Context, id auth.Identity) ([]*models.User, error)
	CreateAPIKey(ctx context.Context, id auth.Identity, req CreateAPIKeyRequest) (string, *models.APIKey, error)
	Authenticate(ctx context.Context, bearer string) (auth.Identity, error)

	// Reporting
	ListAuditLogs(ctx context.Context, id auth.Identity, limit int) ([]*models.AuditLog, error)
	GetStats(ctx context.Context, id auth.Identity) (*repository.Stats, error)

	Shutdown(ctx context.Context) error
}

// FirmwareStore is the integrity pipeline as seen by the service
type FirmwareStore interface {
	Ingest(ctx context.Context, key string, plaintext []byte) (*integrity.Artifact, error)
	Retrieve(ctx context.Context, ref string) ([]byte, error)
	VerifyIntegrity(expected integrity.Checksums, plaintext []byte) bool
	Discard(ctx context.Context, ref string) error
}

// DeviceRegistry is the device registry as seen by the service
type DeviceRegistry interface {
	Register(ctx context.Context, identifier, name, group string) (*models.Device, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Device, error)
	List(ctx context.Context) ([]*models.Device, error)
	Touch(ctx context.Context, id uuid.UUID) error
}

// JobEngine is the job state machine as seen by the service
type JobEngine interface {
	Trigger(ctx context.Context, firmwareID uuid.UUID, transport models.TransportType, strategy models.Strategy, initiator uuid.UUID) (*models.UpdateJob, error)
	Rollback(ctx context.Context, originalID uuid.UUID, initiator uuid.UUID) (*models.UpdateJob, error)
	Cancel(ctx context.Context, jobID uuid.UUID) (*models.UpdateJob, error)
	Get(ctx context.Context, jobID uuid.UUID) (*models.UpdateJob, error)
	List(ctx context.Context) ([]*models.UpdateJob, error)
	Shutdown(ctx context.Context) error
}

// Feed hands out progress subscriptions
type Feed interface {
	Subscribe() *broadcast.Subscription
}

// service is an implementation of the Service interface
type service struct {
	repo           repository.Repository
	firmware       FirmwareStore
	devices        DeviceRegistry
	engine         JobEngine
	feed           Feed
	recorder       audit.Recorder
	tokens         *auth.TokenVerifier
	metrics        *metrics.Metrics
	log            *logrus.Logger
	maxUploadBytes int64
	now            func() time.Time
}

// ServiceConfig holds the collaborators of the service
type ServiceConfig struct {
	Repository     repository.Repository
	Firmware       FirmwareStore
	Devices        DeviceRegistry
	Engine         JobEngine
	Feed           Feed
	Recorder       audit.Recorder
	Tokens         *auth.TokenVerifier
	Metrics        *metrics.Metrics
	Logger         *logrus.Logger
	MaxUploadBytes int64
}

// NewService creates a new service instance
func NewService(config ServiceConfig) (Service, error) {
	if config.Repository == nil {
		return nil, errors.New("repository is required")
	}
	if config.Firmware == nil {
		return nil, errors.New("firmware store is required")
	}
	if config.Devices == nil {
		return nil, errors.New("device registry is required")
	}
	if config.Engine == nil {
		return nil, errors.New("job engine is required")
	}
	if config.Feed == nil {
		return nil, errors.New("progress feed is required")
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
		config.Logger.SetOutput(io.Discard)
	}
	if config.Recorder == nil {
		config.Recorder = audit.NewStoreRecorder(config.Repository)
	}
	if config.Tokens == nil {
		config.Tokens = auth.NewTokenVerifier(nil, "")
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NewMetrics()
	}

	return &service{
		repo:           config.Repository,
		firmware:       config.Firmware,
		devices:        config.Devices,
		engine:         config.Engine,
		feed:           config.Feed,
		recorder:       config.Recorder,
		tokens:         config.Tokens,
		metrics:        config.Metrics,
		log:            config.Logger,
		maxUploadBytes: config.MaxUploadBytes,
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

// record appends an audit entry. The mutation already happened, so a failed
// write is logged rather than returned.
func (s *service) record(ctx context.Context, id auth.Identity, action, targetType, targetID string, details map[string]interface{}) {
	err := s.recorder.Record(ctx, audit.Entry{
		ActorID:    id.ActorID(),
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
		At:         s.now(),
	})
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"action":    action,
			"target_id": targetID,
		}).Error("Failed to write audit entry")
	}
}

// Shutdown stops the job engine
func (s *service) Shutdown(ctx context.Context) error {
	return s.engine.Shutdown(ctx)
}
