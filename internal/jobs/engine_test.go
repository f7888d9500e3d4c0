package jobs

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"example.com/backstage/services/ota/config"
	"example.com/backstage/services/ota/internal/apperrors"
	"example.com/backstage/services/ota/internal/broadcast"
	"example.com/backstage/services/ota/internal/integrity"
	"example.com/backstage/services/ota/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*models.UpdateJob
	firmware map[uuid.UUID]*models.Firmware

	beforeCreate func(job *models.UpdateJob) error
}

func newMemRepo() *memRepo {
	return &memRepo{
		jobs:     make(map[uuid.UUID]*models.UpdateJob),
		firmware: make(map[uuid.UUID]*models.Firmware),
	}
}

func (m *memRepo) CreateJob(ctx context.Context, job *models.UpdateJob) error {
	if m.beforeCreate != nil {
		if err := m.beforeCreate(job); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now()
	job.CreatedAt, job.UpdatedAt = now, now
	stored := *job
	m.jobs[job.ID] = &stored
	return nil
}

func (m *memRepo) FindJobByID(ctx context.Context, id uuid.UUID) (*models.UpdateJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, apperrors.NotFound("update job", id.String())
	}
	out := *job
	return &out, nil
}

func (m *memRepo) ListJobs(ctx context.Context) ([]*models.UpdateJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.UpdateJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		j := *job
		out = append(out, &j)
	}
	return out, nil
}

func (m *memRepo) SaveJobState(ctx context.Context, job *models.UpdateJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.jobs[job.ID]
	if !ok {
		return apperrors.NotFound("update job", job.ID.String())
	}
	if stored.Status.Terminal() {
		return apperrors.InvalidTransition(string(stored.Status), string(job.Status))
	}
	stored.Status = job.Status
	stored.Progress = job.Progress
	stored.CompletedDevices = job.CompletedDevices
	stored.FailedDevices = job.FailedDevices
	stored.UpdatedAt = time.Now()
	return nil
}

func (m *memRepo) ListActiveJobs(ctx context.Context, updatedBefore time.Time) ([]*models.UpdateJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.UpdateJob
	for _, job := range m.jobs {
		if !job.Status.Terminal() && job.UpdatedAt.Before(updatedBefore) {
			j := *job
			out = append(out, &j)
		}
	}
	return out, nil
}

func (m *memRepo) FindFirmwareByID(ctx context.Context, id uuid.UUID) (*models.Firmware, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fw, ok := m.firmware[id]
	if !ok {
		return nil, apperrors.NotFound("firmware", id.String())
	}
	out := *fw
	return &out, nil
}

func (m *memRepo) stored(id uuid.UUID) models.UpdateJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

type fakeDevices struct {
	mu       sync.Mutex
	groups   map[string][]*models.Device
	assigned map[uuid.UUID]uuid.UUID
	touched  map[uuid.UUID]int

	slowAssign func()
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{
		groups:   make(map[string][]*models.Device),
		assigned: make(map[uuid.UUID]uuid.UUID),
		touched:  make(map[uuid.UUID]int),
	}
}

func (f *fakeDevices) add(group string, identifiers ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ident := range identifiers {
		f.groups[group] = append(f.groups[group], &models.Device{
			Model:      models.Model{ID: uuid.New()},
			Identifier: ident,
			Name:       ident,
			Group:      group,
		})
	}
}

func (f *fakeDevices) ListByGroup(ctx context.Context, group string) ([]*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.Device(nil), f.groups[group]...), nil
}

func (f *fakeDevices) AssignFirmware(ctx context.Context, id, firmwareID uuid.UUID) error {
	if f.slowAssign != nil {
		f.slowAssign()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assigned[id] = firmwareID
	return nil
}

func (f *fakeDevices) Touch(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[id]++
	return nil
}

type fakeArtifacts struct {
	valid bool
}

func (f *fakeArtifacts) Retrieve(ctx context.Context, ref string) ([]byte, error) {
	return []byte("firmware"), nil
}

func (f *fakeArtifacts) VerifyIntegrity(expected integrity.Checksums, plaintext []byte) bool {
	return f.valid
}

type eventLog struct {
	mu      sync.Mutex
	updates []broadcast.JobUpdate
}

func (l *eventLog) Publish(update broadcast.JobUpdate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, update)
}

func (l *eventLog) forJob(id uuid.UUID) []broadcast.JobUpdate {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []broadcast.JobUpdate
	for _, u := range l.updates {
		if u.JobID == id {
			out = append(out, u)
		}
	}
	return out
}

type harness struct {
	repo      *memRepo
	devices   *fakeDevices
	artifacts *fakeArtifacts
	events    *eventLog
	engine    *Engine
	firmware  *models.Firmware
}

func testConfig() config.JobsConfig {
	return config.JobsConfig{
		StartDelay:           0,
		TickInterval:         time.Millisecond,
		ParallelCap:          4,
		RollingBatchSize:     2,
		PartialFailurePolicy: config.PolicyStrict,
		StaleAfter:           time.Minute,
		SweepInterval:        time.Minute,
	}
}

func newHarness(t *testing.T, cfg config.JobsConfig, dispatcher Dispatcher) *harness {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	h := &harness{
		repo:      newMemRepo(),
		devices:   newFakeDevices(),
		artifacts: &fakeArtifacts{valid: true},
		events:    &eventLog{},
	}
	h.firmware = &models.Firmware{
		Model:       models.Model{ID: uuid.New()},
		Name:        "Main",
		Version:     "1.0.0",
		TargetGroup: "esp32-cam",
		Transport:   models.TransportMQTT,
		Active:      true,
		StorageRef:  "main-1.0.0.bin.enc",
	}
	h.repo.firmware[h.firmware.ID] = h.firmware

	if dispatcher == nil {
		dispatcher = DispatcherFunc(func(ctx context.Context, d Delivery) error { return nil })
	}
	h.engine = NewEngine(h.repo, h.devices, h.artifacts, dispatcher, h.events, cfg, log)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.engine.Shutdown(ctx)
	})
	return h
}

func (h *harness) trigger(t *testing.T, strategy models.Strategy) *models.UpdateJob {
	t.Helper()
	job, err := h.engine.Trigger(context.Background(), h.firmware.ID, "", strategy, uuid.New())
	require.NoError(t, err)
	return job
}

func (h *harness) waitDone(t *testing.T, id uuid.UUID) models.UpdateJob {
	t.Helper()
	require.Eventually(t, func() bool {
		return !h.engine.Running(id) && h.repo.stored(id).Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return h.repo.stored(id)
}

func requireOrderedProgress(t *testing.T, updates []broadcast.JobUpdate) {
	t.Helper()
	last := -1
	for _, u := range updates {
		p := *u.Data.Progress
		require.GreaterOrEqual(t, p, last, "progress went backwards")
		require.LessOrEqual(t, *u.Data.CompletedDevices+*u.Data.FailedDevices, *u.Data.TotalDevices)
		last = p
	}
}

func TestSequentialJobCompletes(t *testing.T) {
	var order []string
	var mu sync.Mutex
	dispatcher := DispatcherFunc(func(ctx context.Context, d Delivery) error {
		mu.Lock()
		order = append(order, d.DeviceIdentifier)
		mu.Unlock()
		return nil
	})

	h := newHarness(t, testConfig(), dispatcher)
	h.devices.add("esp32-cam", "cam-1", "cam-2", "cam-3")
	h.devices.add("other", "x-1")

	job := h.trigger(t, models.StrategySequential)
	require.Equal(t, models.JobStatusPending, job.Status)
	require.Equal(t, 3, job.TotalDevices)
	require.Equal(t, models.TransportMQTT, job.Transport)

	final := h.waitDone(t, job.ID)
	require.Equal(t, models.JobStatusCompleted, final.Status)
	require.Equal(t, 3, final.CompletedDevices)
	require.Equal(t, 0, final.FailedDevices)
	require.Equal(t, 100, final.Progress)
	require.Equal(t, []string{"cam-1", "cam-2", "cam-3"}, order)

	updates := h.events.forJob(job.ID)
	requireOrderedProgress(t, updates)
	require.Equal(t, "pending", updates[0].Data.Status)
	require.Equal(t, "in_progress", updates[1].Data.Status)
	require.Equal(t, "completed", updates[len(updates)-1].Data.Status)

	for _, d := range h.devices.groups["esp32-cam"] {
		require.Equal(t, h.firmware.ID, h.devices.assigned[d.ID])
		require.Equal(t, 1, h.devices.touched[d.ID])
	}
}

func TestZeroDeviceJobCompletesImmediately(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	job := h.trigger(t, models.StrategyParallel)
	require.Equal(t, 0, job.TotalDevices)

	final := h.waitDone(t, job.ID)
	require.Equal(t, models.JobStatusCompleted, final.Status)
	require.Equal(t, 100, final.Progress)
}

func TestCancelBeforeFirstTick(t *testing.T) {
	cfg := testConfig()
	cfg.StartDelay = time.Hour

	var delivered int32
	h := newHarness(t, cfg, DispatcherFunc(func(ctx context.Context, d Delivery) error {
		atomic.AddInt32(&delivered, 1)
		return nil
	}))
	h.devices.add("esp32-cam", "cam-1", "cam-2")

	job := h.trigger(t, models.StrategySequential)
	cancelled, err := h.engine.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCancelled, cancelled.Status)
	require.Equal(t, 0, cancelled.Progress)

	require.Eventually(t, func() bool { return !h.engine.Running(job.ID) }, 2*time.Second, 5*time.Millisecond)

	stored := h.repo.stored(job.ID)
	require.Equal(t, models.JobStatusCancelled, stored.Status)
	require.Equal(t, 0, stored.Progress)
	require.Zero(t, atomic.LoadInt32(&delivered))

	updates := h.events.forJob(job.ID)
	require.Equal(t, "cancelled", updates[len(updates)-1].Data.Status)
	for _, u := range updates {
		require.NotEqual(t, "in_progress", u.Data.Status)
	}

	_, err = h.engine.Cancel(context.Background(), job.ID)
	require.True(t, apperrors.IsKind(err, apperrors.KindInvalidTransition))
}

func TestCancelDuringDeliveryDiscardsInFlightResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, testConfig(), DispatcherFunc(func(ctx context.Context, d Delivery) error {
		close(started)
		<-release
		return nil
	}))
	h.devices.add("esp32-cam", "cam-1", "cam-2")

	job := h.trigger(t, models.StrategySequential)
	<-started

	_, err := h.engine.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	close(release)

	require.Eventually(t, func() bool { return !h.engine.Running(job.ID) }, 2*time.Second, 5*time.Millisecond)

	stored := h.repo.stored(job.ID)
	require.Equal(t, models.JobStatusCancelled, stored.Status)
	require.Equal(t, 0, stored.CompletedDevices)

	updates := h.events.forJob(job.ID)
	require.Equal(t, "cancelled", updates[len(updates)-1].Data.Status)
}

func TestCancelWhileCreatingFindsRoutine(t *testing.T) {
	cfg := testConfig()
	cfg.StartDelay = time.Hour
	h := newHarness(t, cfg, nil)
	h.devices.add("esp32-cam", "cam-1")

	creating := make(chan uuid.UUID, 1)
	release := make(chan struct{})
	h.repo.beforeCreate = func(job *models.UpdateJob) error {
		creating <- job.ID
		<-release
		return nil
	}

	triggered := make(chan error, 1)
	go func() {
		_, err := h.engine.Trigger(context.Background(), h.firmware.ID, "", models.StrategySequential, uuid.New())
		triggered <- err
	}()

	id := <-creating
	require.True(t, h.engine.Running(id))

	cancelled := make(chan error, 1)
	go func() {
		_, err := h.engine.Cancel(context.Background(), id)
		cancelled <- err
	}()
	require.Never(t, func() bool { return len(cancelled) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	close(release)
	require.NoError(t, <-triggered)
	require.NoError(t, <-cancelled)

	require.Eventually(t, func() bool { return !h.engine.Running(id) }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, models.JobStatusCancelled, h.repo.stored(id).Status)

	updates := h.events.forJob(id)
	require.Equal(t, "pending", updates[0].Data.Status)
	require.Equal(t, "cancelled", updates[len(updates)-1].Data.Status)
	for _, u := range updates {
		require.NotEqual(t, "in_progress", u.Data.Status)
	}
}

func TestFailedCreateReleasesRoutine(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.devices.add("esp32-cam", "cam-1")
	h.repo.beforeCreate = func(job *models.UpdateJob) error {
		return apperrors.Internal("database unavailable", nil)
	}

	_, err := h.engine.Trigger(context.Background(), h.firmware.ID, "", models.StrategySequential, uuid.New())
	require.True(t, apperrors.IsKind(err, apperrors.KindInternal))
	require.Zero(t, h.engine.Active())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.engine.Shutdown(ctx))
}

func TestSlowRegistryWriteDoesNotBlockJob(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.devices.add("esp32-cam", "cam-1", "cam-2")

	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	var once sync.Once
	h.devices.slowAssign = func() {
		once.Do(func() { close(entered) })
		<-release
	}

	job := h.trigger(t, models.StrategySequential)
	<-entered

	done := make(chan struct{})
	var (
		live, cancelled *models.UpdateJob
		getErr, cancErr error
	)
	go func() {
		defer close(done)
		live, getErr = h.engine.Get(context.Background(), job.ID)
		cancelled, cancErr = h.engine.Cancel(context.Background(), job.ID)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Get and Cancel blocked behind a registry write")
	}

	require.NoError(t, getErr)
	require.Equal(t, 1, live.CompletedDevices)
	require.NoError(t, cancErr)
	require.Equal(t, models.JobStatusCancelled, cancelled.Status)

	stored := h.repo.stored(job.ID)
	require.Equal(t, models.JobStatusCancelled, stored.Status)
	require.Equal(t, 1, stored.CompletedDevices)
}

func TestTerminalJobsRejectTransitions(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.devices.add("esp32-cam", "cam-1")

	job := h.trigger(t, models.StrategySequential)
	h.waitDone(t, job.ID)

	_, err := h.engine.Cancel(context.Background(), job.ID)
	require.True(t, apperrors.IsKind(err, apperrors.KindInvalidTransition))

	for _, from := range []models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled} {
		for _, to := range []models.JobStatus{models.JobStatusPending, models.JobStatusInProgress, models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled} {
			require.Error(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestStrictPolicyFailsJobOnDeviceFailure(t *testing.T) {
	h := newHarness(t, testConfig(), DispatcherFunc(func(ctx context.Context, d Delivery) error {
		if d.DeviceIdentifier == "cam-2" {
			return errors.New("device offline")
		}
		return nil
	}))
	h.devices.add("esp32-cam", "cam-1", "cam-2", "cam-3")

	job := h.trigger(t, models.StrategySequential)
	final := h.waitDone(t, job.ID)

	require.Equal(t, models.JobStatusFailed, final.Status)
	require.Equal(t, 2, final.CompletedDevices)
	require.Equal(t, 1, final.FailedDevices)
	require.Equal(t, 100, final.Progress)

	var failedEvent *broadcast.JobUpdate
	for _, u := range h.events.forJob(job.ID) {
		if u.Data.DeviceResult == resultFailed {
			u := u
			failedEvent = &u
		}
	}
	require.NotNil(t, failedEvent)
	require.Equal(t, "cam-2", failedEvent.Data.DeviceID)
	require.Contains(t, failedEvent.Data.Error, "device offline")
}

func TestBestEffortPolicyCompletesWithFailures(t *testing.T) {
	cfg := testConfig()
	cfg.PartialFailurePolicy = config.PolicyBestEffort

	h := newHarness(t, cfg, DispatcherFunc(func(ctx context.Context, d Delivery) error {
		if d.DeviceIdentifier == "cam-1" {
			return errors.New("checksum mismatch on device")
		}
		return nil
	}))
	h.devices.add("esp32-cam", "cam-1", "cam-2")

	job := h.trigger(t, models.StrategyRolling)
	final := h.waitDone(t, job.ID)

	require.Equal(t, models.JobStatusCompleted, final.Status)
	require.Equal(t, 1, final.CompletedDevices)
	require.Equal(t, 1, final.FailedDevices)
}

func inFlightTracker(delay time.Duration) (Dispatcher, *int32) {
	var current, peak int32
	return DispatcherFunc(func(ctx context.Context, d Delivery) error {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(delay)
		atomic.AddInt32(&current, -1)
		return nil
	}), &peak
}

func TestParallelRespectsConcurrencyCap(t *testing.T) {
	cfg := testConfig()
	cfg.ParallelCap = 3
	dispatcher, peak := inFlightTracker(10 * time.Millisecond)

	h := newHarness(t, cfg, dispatcher)
	h.devices.add("esp32-cam", "d0", "d1", "d2", "d3", "d4", "d5", "d6", "d7", "d8", "d9")

	job := h.trigger(t, models.StrategyParallel)
	final := h.waitDone(t, job.ID)

	require.Equal(t, models.JobStatusCompleted, final.Status)
	require.Equal(t, 10, final.CompletedDevices)
	require.LessOrEqual(t, atomic.LoadInt32(peak), int32(3))
	require.Greater(t, atomic.LoadInt32(peak), int32(1))
	requireOrderedProgress(t, h.events.forJob(job.ID))
}

func TestRollingDeliversInBatches(t *testing.T) {
	cfg := testConfig()
	cfg.RollingBatchSize = 2
	cfg.ParallelCap = 10
	dispatcher, peak := inFlightTracker(10 * time.Millisecond)

	h := newHarness(t, cfg, dispatcher)
	h.devices.add("esp32-cam", "d0", "d1", "d2", "d3", "d4")

	job := h.trigger(t, models.StrategyRolling)
	final := h.waitDone(t, job.ID)

	require.Equal(t, 5, final.CompletedDevices)
	require.LessOrEqual(t, atomic.LoadInt32(peak), int32(2))
	requireOrderedProgress(t, h.events.forJob(job.ID))
}

func TestIntegrityFailureFailsEveryTarget(t *testing.T) {
	var delivered int32
	h := newHarness(t, testConfig(), DispatcherFunc(func(ctx context.Context, d Delivery) error {
		atomic.AddInt32(&delivered, 1)
		return nil
	}))
	h.artifacts.valid = false
	h.devices.add("esp32-cam", "cam-1", "cam-2")

	job := h.trigger(t, models.StrategySequential)
	final := h.waitDone(t, job.ID)

	require.Equal(t, models.JobStatusFailed, final.Status)
	require.Equal(t, 2, final.FailedDevices)
	require.Equal(t, 100, final.Progress)
	require.Zero(t, atomic.LoadInt32(&delivered))
}

func TestDispatcherPanicIsADeviceFailure(t *testing.T) {
	h := newHarness(t, testConfig(), DispatcherFunc(func(ctx context.Context, d Delivery) error {
		panic("transport bug")
	}))
	h.devices.add("esp32-cam", "cam-1")

	job := h.trigger(t, models.StrategySequential)
	final := h.waitDone(t, job.ID)

	require.Equal(t, models.JobStatusFailed, final.Status)
	require.Equal(t, 1, final.FailedDevices)
}

func TestTriggerValidation(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	_, err := h.engine.Trigger(context.Background(), uuid.New(), "", "", uuid.New())
	require.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	_, err = h.engine.Trigger(context.Background(), h.firmware.ID, "zigbee", "", uuid.New())
	require.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	_, err = h.engine.Trigger(context.Background(), h.firmware.ID, "", "canary", uuid.New())
	require.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	h.firmware.Active = false
	_, err = h.engine.Trigger(context.Background(), h.firmware.ID, "", "", uuid.New())
	require.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestRollbackReusesFirmwareAndDeviceCount(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.devices.add("esp32-cam", "cam-1", "cam-2")

	original := &models.UpdateJob{
		FirmwareID:       h.firmware.ID,
		Transport:        models.TransportBLE,
		Strategy:         models.StrategySequential,
		Status:           models.JobStatusCompleted,
		Progress:         100,
		TotalDevices:     3,
		CompletedDevices: 3,
	}
	require.NoError(t, h.repo.CreateJob(context.Background(), original))

	job, err := h.engine.Rollback(context.Background(), original.ID, uuid.New())
	require.NoError(t, err)
	require.Equal(t, h.firmware.ID, job.FirmwareID)
	require.Equal(t, 3, job.TotalDevices)
	require.Equal(t, models.TransportBLE, job.Transport)
	require.Equal(t, original.ID, *job.RollbackOf)

	final := h.waitDone(t, job.ID)
	require.Equal(t, 2, final.CompletedDevices)
	require.Equal(t, 1, final.FailedDevices)
	require.Equal(t, models.JobStatusFailed, final.Status)

	_, err = h.engine.Rollback(context.Background(), uuid.New(), uuid.New())
	require.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestJobsDoNotBlockEachOther(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	h := newHarness(t, testConfig(), DispatcherFunc(func(ctx context.Context, d Delivery) error {
		if d.DeviceIdentifier == "stuck" {
			select {
			case <-block:
			case <-ctx.Done():
			}
		}
		return nil
	}))
	h.devices.add("esp32-cam", "stuck")
	stuck := h.trigger(t, models.StrategySequential)

	other := &models.Firmware{
		Model:       models.Model{ID: uuid.New()},
		TargetGroup: "esp32-s3",
		Transport:   models.TransportMQTT,
		Active:      true,
	}
	h.repo.mu.Lock()
	h.repo.firmware[other.ID] = other
	h.repo.mu.Unlock()
	h.devices.add("esp32-s3", "free-1", "free-2")

	job, err := h.engine.Trigger(context.Background(), other.ID, "", models.StrategySequential, uuid.New())
	require.NoError(t, err)

	final := h.waitDone(t, job.ID)
	require.Equal(t, models.JobStatusCompleted, final.Status)
	require.True(t, h.engine.Running(stuck.ID))
}

func TestShutdownStopsRoutines(t *testing.T) {
	cfg := testConfig()
	cfg.StartDelay = time.Hour
	h := newHarness(t, cfg, nil)
	h.devices.add("esp32-cam", "cam-1")

	job := h.trigger(t, models.StrategySequential)
	require.Equal(t, 1, h.engine.Active())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.engine.Shutdown(ctx))

	require.Equal(t, 0, h.engine.Active())
	require.Equal(t, models.JobStatusPending, h.repo.stored(job.ID).Status)

	_, err := h.engine.Trigger(context.Background(), h.firmware.ID, "", "", uuid.New())
	require.Error(t, err)
}

func TestShutdownLeavesInFlightDevicesUnrecorded(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	h := newHarness(t, testConfig(), DispatcherFunc(func(ctx context.Context, d Delivery) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}))
	h.devices.add("esp32-cam", "cam-1", "cam-2")

	job := h.trigger(t, models.StrategySequential)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.engine.Shutdown(ctx))

	stored := h.repo.stored(job.ID)
	require.Equal(t, models.JobStatusInProgress, stored.Status)
	require.Zero(t, stored.CompletedDevices)
	require.Zero(t, stored.FailedDevices)
	require.Zero(t, stored.Progress)

	for _, u := range h.events.forJob(job.ID) {
		require.Empty(t, u.Data.DeviceResult)
	}
	require.Zero(t, h.devices.touched[h.devices.groups["esp32-cam"][0].ID])
}

func TestSweeperFailsAbandonedJobs(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	abandoned := &models.UpdateJob{
		FirmwareID:       h.firmware.ID,
		Status:           models.JobStatusInProgress,
		TotalDevices:     4,
		CompletedDevices: 1,
	}
	require.NoError(t, h.repo.CreateJob(context.Background(), abandoned))

	sweeper, err := NewSweeper(h.engine, testConfig(), h.engine.log)
	require.NoError(t, err)
	sweeper.now = func() time.Time { return time.Now().Add(time.Hour) }

	swept, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, swept)

	stored := h.repo.stored(abandoned.ID)
	require.Equal(t, models.JobStatusFailed, stored.Status)
	require.Equal(t, 3, stored.FailedDevices)
	require.Equal(t, 100, stored.Progress)

	swept, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, swept)
}

func TestProgressAndBatches(t *testing.T) {
	require.Equal(t, 0, Progress(0, 0, 3))
	require.Equal(t, 33, Progress(1, 0, 3))
	require.Equal(t, 67, Progress(1, 1, 3))
	require.Equal(t, 100, Progress(2, 1, 3))
	require.Equal(t, 100, Progress(0, 0, 0))

	require.Equal(t, [][]int{{0}, {1}, {2}}, batches(models.StrategySequential, 3, 2))
	require.Equal(t, [][]int{{0, 1, 2}}, batches(models.StrategyParallel, 3, 2))
	require.Equal(t, [][]int{{0, 1}, {2, 3}, {4}}, batches(models.StrategyRolling, 5, 2))
	require.Nil(t, batches(models.StrategyRolling, 0, 2))
}
