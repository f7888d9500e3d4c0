package service

import (
	"context"
	"time"

	"example.com/backstage/services/ota/internal/integrity"
	"example.com/backstage/services/ota/internal/models"
	"example.com/backstage/services/ota/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateUser(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockRepository) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func (m *MockRepository) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	args := m.Called(ctx, username)
	user, _ := args.Get(0).(*models.User)
	return user, args.Error(1)
}

func (m *MockRepository) ListUsers(ctx context.Context) ([]*models.User, error) {
	args := m.Called(ctx)
	users, _ := args.Get(0).([]*models.User)
	return users, args.Error(1)
}

func (m *MockRepository) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockRepository) FindAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	args := m.Called(ctx, hash)
	key, _ := args.Get(0).(*models.APIKey)
	return key, args.Error(1)
}

func (m *MockRepository) TouchAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockRepository) CreateDevice(ctx context.Context, device *models.Device) error {
	args := m.Called(ctx, device)
	return args.Error(0)
}

func (m *MockRepository) FindDeviceByID(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	args := m.Called(ctx, id)
	device, _ := args.Get(0).(*models.Device)
	return device, args.Error(1)
}

func (m *MockRepository) ListDevices(ctx context.Context) ([]*models.Device, error) {
	args := m.Called(ctx)
	devices, _ := args.Get(0).([]*models.Device)
	return devices, args.Error(1)
}

func (m *MockRepository) ListDevicesByGroup(ctx context.Context, group string) ([]*models.Device, error) {
	args := m.Called(ctx, group)
	devices, _ := args.Get(0).([]*models.Device)
	return devices, args.Error(1)
}

func (m *MockRepository) UpdateDeviceLastSeen(ctx context.Context, id uuid.UUID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockRepository) UpdateDeviceFirmware(ctx context.Context, id, firmwareID uuid.UUID) error {
	args := m.Called(ctx, id, firmwareID)
	return args.Error(0)
}

func (m *MockRepository) CreateFirmware(ctx context.Context, fw *models.Firmware) error {
	args := m.Called(ctx, fw)
	return args.Error(0)
}

func (m *MockRepository) FindFirmwareByID(ctx context.Context, id uuid.UUID) (*models.Firmware, error) {
	args := m.Called(ctx, id)
	fw, _ := args.Get(0).(*models.Firmware)
	return fw, args.Error(1)
}

func (m *MockRepository) ListFirmware(ctx context.Context) ([]*models.Firmware, error) {
	args := m.Called(ctx)
	fws, _ := args.Get(0).([]*models.Firmware)
	return fws, args.Error(1)
}

func (m *MockRepository) SetFirmwareActive(ctx context.Context, id uuid.UUID, active bool) error {
	args := m.Called(ctx, id, active)
	return args.Error(0)
}

func (m *MockRepository) CreateJob(ctx context.Context, job *models.UpdateJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockRepository) FindJobByID(ctx context.Context, id uuid.UUID) (*models.UpdateJob, error) {
	args := m.Called(ctx, id)
	job, _ := args.Get(0).(*models.UpdateJob)
	return job, args.Error(1)
}

func (m *MockRepository) ListJobs(ctx context.Context) ([]*models.UpdateJob, error) {
	args := m.Called(ctx)
	jobs, _ := args.Get(0).([]*models.UpdateJob)
	return jobs, args.Error(1)
}

func (m *MockRepository) SaveJobState(ctx context.Context, job *models.UpdateJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockRepository) ListActiveJobs(ctx context.Context, updatedBefore time.Time) ([]*models.UpdateJob, error) {
	args := m.Called(ctx, updatedBefore)
	jobs, _ := args.Get(0).([]*models.UpdateJob)
	return jobs, args.Error(1)
}

func (m *MockRepository) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockRepository) ListAuditLogs(ctx context.Context, limit int) ([]*models.AuditLog, error) {
	args := m.Called(ctx, limit)
	entries, _ := args.Get(0).([]*models.AuditLog)
	return entries, args.Error(1)
}

func (m *MockRepository) GetStats(ctx context.Context) (*repository.Stats, error) {
	args := m.Called(ctx)
	stats, _ := args.Get(0).(*repository.Stats)
	return stats, args.Error(1)
}

type MockFirmwareStore struct {
	mock.Mock
}

func (m *MockFirmwareStore) Ingest(ctx context.Context, key string, plaintext []byte) (*integrity.Artifact, error) {
	args := m.Called(ctx, key, plaintext)
	artifact, _ := args.Get(0).(*integrity.Artifact)
	return artifact, args.Error(1)
}

func (m *MockFirmwareStore) Retrieve(ctx context.Context, ref string) ([]byte, error) {
	args := m.Called(ctx, ref)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockFirmwareStore) VerifyIntegrity(expected integrity.Checksums, plaintext []byte) bool {
	args := m.Called(expected, plaintext)
	return args.Bool(0)
}

func (m *MockFirmwareStore) Discard(ctx context.Context, ref string) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) Register(ctx context.Context, identifier, name, group string) (*models.Device, error) {
	args := m.Called(ctx, identifier, name, group)
	device, _ := args.Get(0).(*models.Device)
	return device, args.Error(1)
}

func (m *MockRegistry) Get(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	args := m.Called(ctx, id)
	device, _ := args.Get(0).(*models.Device)
	return device, args.Error(1)
}

func (m *MockRegistry) List(ctx context.Context) ([]*models.Device, error) {
	args := m.Called(ctx)
	devices, _ := args.Get(0).([]*models.Device)
	return devices, args.Error(1)
}

func (m *MockRegistry) Touch(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Trigger(ctx context.Context, firmwareID uuid.UUID, transport models.TransportType, strategy models.Strategy, initiator uuid.UUID) (*models.UpdateJob, error) {
	args := m.Called(ctx, firmwareID, transport, strategy, initiator)
	job, _ := args.Get(0).(*models.UpdateJob)
	return job, args.Error(1)
}

func (m *MockEngine) Rollback(ctx context.Context, originalID uuid.UUID, initiator uuid.UUID) (*models.UpdateJob, error) {
	args := m.Called(ctx, originalID, initiator)
	job, _ := args.Get(0).(*models.UpdateJob)
	return job, args.Error(1)
}

func (m *MockEngine) Cancel(ctx context.Context, jobID uuid.UUID) (*models.UpdateJob, error) {
	args := m.Called(ctx, jobID)
	job, _ := args.Get(0).(*models.UpdateJob)
	return job, args.Error(1)
}

func (m *MockEngine) Get(ctx context.Context, jobID uuid.UUID) (*models.UpdateJob, error) {
	args := m.Called(ctx, jobID)
	job, _ := args.Get(0).(*models.UpdateJob)
	return job, args.Error(1)
}

func (m *MockEngine) List(ctx context.Context) ([]*models.UpdateJob, error) {
	args := m.Called(ctx)
	jobs, _ := args.Get(0).([]*models.UpdateJob)
	return jobs, args.Error(1)
}

func (m *MockEngine) Shutdown(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
