package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"example.com/backstage/services/ota/config"
	"example.com/backstage/services/ota/internal/apperrors"
	"example.com/backstage/services/ota/internal/broadcast"
	"example.com/backstage/services/ota/internal/integrity"
	"example.com/backstage/services/ota/internal/models"
	"example.com/backstage/services/ota/internal/repository"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	persistTimeout = 10 * time.Second

	resultCompleted = "completed"
	resultFailed    = "failed"
)

var (
	errCancelled  = errors.New("job cancelled")
	errDeviceGone = errors.New("target device is no longer registered")
)

// Repository is the persistence the engine needs
type Repository interface {
	repository.JobRepository
	FindFirmwareByID(ctx context.Context, id uuid.UUID) (*models.Firmware, error)
}

// Devices resolves targets and records per-device outcomes
type Devices interface {
	ListByGroup(ctx context.Context, group string) ([]*models.Device, error)
	AssignFirmware(ctx context.Context, id, firmwareID uuid.UUID) error
	Touch(ctx context.Context, id uuid.UUID) error
}

// Artifacts reads firmware bytes back and checks them against their recorded checksums
type Artifacts interface {
	Retrieve(ctx context.Context, ref string) ([]byte, error)
	VerifyIntegrity(expected integrity.Checksums, plaintext []byte) bool
}

// run is the in-process state of one job's progression routine.
// mu serialises result application with Cancel.
type run struct {
	mu        sync.Mutex
	job       *models.UpdateJob
	cancelled bool
	abandoned bool // the job row was never created
	stop      context.CancelFunc
}

func (r *run) snapshot() (*models.UpdateJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.abandoned {
		return nil, false
	}
	job := *r.job
	return &job, true
}

// Engine owns one progression goroutine per active job
type Engine struct {
	repo       Repository
	devices    Devices
	artifacts  Artifacts
	dispatcher Dispatcher
	publisher  broadcast.Publisher
	cfg        config.JobsConfig
	log        *logrus.Logger

	mu     sync.Mutex
	runs   map[uuid.UUID]*run
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an engine. Progression routines live until their job ends or Shutdown is called.
func NewEngine(
	repo Repository,
	devices Devices,
	artifacts Artifacts,
	dispatcher Dispatcher,
	publisher broadcast.Publisher,
	cfg config.JobsConfig,
	log *logrus.Logger,
) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		repo:       repo,
		devices:    devices,
		artifacts:  artifacts,
		dispatcher: dispatcher,
		publisher:  publisher,
		cfg:        cfg,
		log:        log,
		runs:       make(map[uuid.UUID]*run),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Trigger creates a pending job for every device in the firmware's target group and starts it
func (e *Engine) Trigger(ctx context.Context, firmwareID uuid.UUID, transport models.TransportType, strategy models.Strategy, initiator uuid.UUID) (*models.UpdateJob, error) {
	if strategy == "" {
		strategy = models.StrategySequential
	}
	if !strategy.Valid() {
		return nil, apperrors.Validation("unsupported strategy", map[string]string{"strategy": string(strategy)})
	}

	fw, err := e.repo.FindFirmwareByID(ctx, firmwareID)
	if err != nil {
		return nil, err
	}
	if !fw.Active {
		return nil, apperrors.Validation("firmware is inactive", map[string]string{"firmwareId": firmwareID.String()})
	}

	if transport == "" {
		transport = fw.Transport
	}
	if !transport.Valid() {
		return nil, apperrors.Validation("unsupported transport", map[string]string{"transportType": string(transport)})
	}

	targets, err := e.devices.ListByGroup(ctx, fw.TargetGroup)
	if err != nil {
		return nil, err
	}

	job := &models.UpdateJob{
		FirmwareID:   fw.ID,
		Transport:    transport,
		Strategy:     strategy,
		Status:       models.JobStatusPending,
		TotalDevices: len(targets),
		InitiatedBy:  initiator,
	}
	return e.launch(ctx, job, fw, targets)
}

// Rollback starts a new job that redeploys the original job's firmware to the same number of devices
func (e *Engine) Rollback(ctx context.Context, originalID uuid.UUID, initiator uuid.UUID) (*models.UpdateJob, error) {
	original, err := e.repo.FindJobByID(ctx, originalID)
	if err != nil {
		return nil, err
	}

	fw, err := e.repo.FindFirmwareByID(ctx, original.FirmwareID)
	if err != nil {
		return nil, err
	}

	targets, err := e.devices.ListByGroup(ctx, fw.TargetGroup)
	if err != nil {
		return nil, err
	}
	if len(targets) > original.TotalDevices {
		targets = targets[:original.TotalDevices]
	}

	origID := original.ID
	job := &models.UpdateJob{
		FirmwareID:   fw.ID,
		Transport:    original.Transport,
		Strategy:     original.Strategy,
		Status:       models.JobStatusPending,
		TotalDevices: original.TotalDevices,
		InitiatedBy:  initiator,
		RollbackOf:   &origID,
	}
	return e.launch(ctx, job, fw, targets)
}

func (e *Engine) launch(ctx context.Context, job *models.UpdateJob, fw *models.Firmware, targets []*models.Device) (*models.UpdateJob, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	// The run is registered and locked before the row exists, so a Cancel
	// arriving during creation waits for the live routine instead of racing it.
	runCtx, r, err := e.register(job)
	if err != nil {
		return nil, err
	}

	if err := e.repo.CreateJob(ctx, job); err != nil {
		r.abandoned = true
		r.mu.Unlock()
		r.stop()
		e.forget(job.ID)
		e.wg.Done()
		return nil, err
	}

	created := *job
	e.publish(job, broadcast.Delta{})
	r.mu.Unlock()

	go e.drive(runCtx, r, fw, targets)

	e.log.WithFields(logrus.Fields{
		"job_id":      job.ID,
		"firmware_id": fw.ID,
		"strategy":    job.Strategy,
		"total":       job.TotalDevices,
	}).Info("Update job created")

	return &created, nil
}

// register adds a locked run for the job. The caller owns one wg slot and must unlock r.mu.
func (e *Engine) register(job *models.UpdateJob) (context.Context, *run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, nil, apperrors.Internal("job engine is shutting down", nil)
	}
	if _, ok := e.runs[job.ID]; ok {
		return nil, nil, apperrors.Conflict("update job %s is already running", job.ID)
	}

	ctx, stop := context.WithCancel(e.ctx)
	r := &run{job: job, stop: stop}
	r.mu.Lock()
	e.runs[job.ID] = r

	e.wg.Add(1)
	return ctx, r, nil
}

// drive is the single progression routine of one job
func (e *Engine) drive(ctx context.Context, r *run, fw *models.Firmware, targets []*models.Device) {
	defer e.wg.Done()
	defer r.stop()
	defer e.forget(r.job.ID)
	defer func() {
		if p := recover(); p != nil {
			e.log.WithField("job_id", r.job.ID).Errorf("Job progression panicked: %v", p)
			e.fail(r, fmt.Sprintf("internal error: %v", p))
		}
	}()

	if !sleep(ctx, e.cfg.StartDelay) {
		return
	}

	if r.job.TotalDevices == 0 {
		e.finish(r)
		return
	}

	if err := e.verify(ctx, fw); err != nil {
		if ctx.Err() != nil {
			return
		}
		e.log.WithError(err).WithField("job_id", r.job.ID).Error("Firmware failed verification, failing job")
		e.fail(r, err.Error())
		return
	}

	if !e.begin(r) {
		return
	}

	// Rollbacks may target more slots than there are devices left; nil slots fail
	slots := make([]*models.Device, r.job.TotalDevices)
	copy(slots, targets)

	for _, batch := range batches(r.job.Strategy, len(slots), e.cfg.RollingBatchSize) {
		if !sleep(ctx, e.cfg.TickInterval) {
			return
		}
		if err := e.deliverBatch(ctx, r, fw, slots, batch); err != nil {
			return
		}
	}

	e.finish(r)
}

func (e *Engine) verify(ctx context.Context, fw *models.Firmware) error {
	plaintext, err := e.artifacts.Retrieve(ctx, fw.StorageRef)
	if err != nil {
		return err
	}

	expected := integrity.Checksums{ContentHash: fw.ContentHash, AuthCode: fw.AuthCode}
	if !e.artifacts.VerifyIntegrity(expected, plaintext) {
		return apperrors.Integrity(fmt.Sprintf("firmware %s does not match its recorded checksums", fw.ID), nil)
	}
	return nil
}

// deliverBatch delivers every slot of a batch concurrently, at most ParallelCap in flight
func (e *Engine) deliverBatch(ctx context.Context, r *run, fw *models.Firmware, slots []*models.Device, batch []int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ParallelCap)

	for _, idx := range batch {
		device := slots[idx]
		g.Go(func() error {
			deliveryErr := e.deliverOne(gctx, r, fw, device)
			// An interrupted delivery has no outcome; the device never reported
			if gctx.Err() != nil && interrupted(deliveryErr) {
				return errCancelled
			}
			if !e.record(r, fw, device, deliveryErr) {
				return errCancelled
			}
			return nil
		})
	}

	return g.Wait()
}

func interrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) deliverOne(ctx context.Context, r *run, fw *models.Firmware, device *models.Device) (err error) {
	if device == nil {
		return errDeviceGone
	}

	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("dispatcher panicked: %v", p)
		}
	}()

	return e.dispatcher.Deliver(ctx, Delivery{
		JobID:            r.job.ID,
		DeviceID:         device.ID,
		DeviceIdentifier: device.Identifier,
		Firmware:         fw,
		Transport:        r.job.Transport,
	})
}

// record applies one device outcome. It reports false once the job was cancelled,
// in which case nothing is applied. Registry writes happen after r.mu is released.
func (e *Engine) record(r *run, fw *models.Firmware, device *models.Device, deliveryErr error) bool {
	if !e.applyResult(r, device, deliveryErr) {
		return false
	}
	if deliveryErr != nil {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := e.devices.AssignFirmware(ctx, device.ID, fw.ID); err != nil {
		e.log.WithError(err).WithField("device_id", device.ID).Warn("Failed to record device firmware")
	}
	if err := e.devices.Touch(ctx, device.ID); err != nil {
		e.log.WithError(err).WithField("device_id", device.ID).Warn("Failed to record device last seen")
	}
	return true
}

func (e *Engine) applyResult(r *run, device *models.Device, deliveryErr error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancelled {
		return false
	}

	delta := broadcast.Delta{DeviceResult: resultCompleted}
	if device != nil {
		delta.DeviceID = device.Identifier
	}

	if deliveryErr == nil {
		r.job.CompletedDevices++
	} else {
		delta.DeviceResult = resultFailed
		delta.Error = deliveryErr.Error()
		r.job.FailedDevices++
		e.log.WithError(deliveryErr).WithFields(logrus.Fields{
			"job_id":    r.job.ID,
			"device_id": delta.DeviceID,
		}).Warn("Device update failed")
	}

	r.job.Progress = Progress(r.job.CompletedDevices, r.job.FailedDevices, r.job.TotalDevices)
	e.persist(r.job)
	e.publish(r.job, delta)
	return true
}

// begin moves the job to in_progress unless it was cancelled first
func (e *Engine) begin(r *run) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancelled {
		return false
	}
	if err := e.transition(r.job, models.JobStatusInProgress); err != nil {
		return false
	}
	e.persist(r.job)
	e.publish(r.job, broadcast.Delta{})
	return true
}

// finish moves a job whose devices have all reported to its terminal status
func (e *Engine) finish(r *run) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancelled {
		return
	}

	r.job.Progress = Progress(r.job.CompletedDevices, r.job.FailedDevices, r.job.TotalDevices)
	if err := e.transition(r.job, finalStatus(r.job, e.cfg.PartialFailurePolicy)); err != nil {
		return
	}
	e.persist(r.job)
	e.publish(r.job, broadcast.Delta{})

	e.log.WithFields(logrus.Fields{
		"job_id":    r.job.ID,
		"status":    r.job.Status,
		"completed": r.job.CompletedDevices,
		"failed":    r.job.FailedDevices,
	}).Info("Update job finished")
}

// fail ends the job as failed, counting every device without an outcome as failed
func (e *Engine) fail(r *run, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancelled || r.job.Status.Terminal() {
		return
	}

	failJob(r.job)
	if err := e.transition(r.job, models.JobStatusFailed); err != nil {
		return
	}
	e.persist(r.job)
	e.publish(r.job, broadcast.Delta{Error: reason})
}

func failJob(job *models.UpdateJob) {
	job.FailedDevices = job.TotalDevices - job.CompletedDevices
	job.Progress = Progress(job.CompletedDevices, job.FailedDevices, job.TotalDevices)
}

func (e *Engine) transition(job *models.UpdateJob, to models.JobStatus) error {
	if err := CanTransition(job.Status, to); err != nil {
		e.log.WithError(err).WithField("job_id", job.ID).Error("Rejected job transition")
		return err
	}
	job.Status = to
	return nil
}

// Cancel stops a pending or in-progress job. A device result still in flight is discarded.
func (e *Engine) Cancel(ctx context.Context, jobID uuid.UUID) (*models.UpdateJob, error) {
	e.mu.Lock()
	r, ok := e.runs[jobID]
	e.mu.Unlock()

	if !ok {
		return e.cancelDetached(ctx, jobID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.abandoned {
		return nil, apperrors.NotFound("update job", jobID.String())
	}
	if r.cancelled {
		return nil, apperrors.InvalidTransition(string(r.job.Status), string(models.JobStatusCancelled))
	}

	previous := r.job.Status
	if err := CanTransition(previous, models.JobStatusCancelled); err != nil {
		return nil, err
	}

	r.job.Status = models.JobStatusCancelled
	if err := e.repo.SaveJobState(ctx, r.job); err != nil {
		r.job.Status = previous
		return nil, err
	}

	r.cancelled = true
	r.stop()
	e.publish(r.job, broadcast.Delta{})

	e.log.WithField("job_id", jobID).Info("Update job cancelled")

	job := *r.job
	return &job, nil
}

// cancelDetached cancels a job with no routine in this process
func (e *Engine) cancelDetached(ctx context.Context, jobID uuid.UUID) (*models.UpdateJob, error) {
	job, err := e.repo.FindJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := CanTransition(job.Status, models.JobStatusCancelled); err != nil {
		return nil, err
	}

	job.Status = models.JobStatusCancelled
	if err := e.repo.SaveJobState(ctx, job); err != nil {
		return nil, err
	}
	e.publish(job, broadcast.Delta{})
	return job, nil
}

// Get returns the live state of a running job, or the stored record otherwise
func (e *Engine) Get(ctx context.Context, jobID uuid.UUID) (*models.UpdateJob, error) {
	e.mu.Lock()
	r, ok := e.runs[jobID]
	e.mu.Unlock()

	if ok {
		if job, live := r.snapshot(); live {
			return job, nil
		}
		return nil, apperrors.NotFound("update job", jobID.String())
	}
	return e.repo.FindJobByID(ctx, jobID)
}

// List returns all jobs, newest first
func (e *Engine) List(ctx context.Context) ([]*models.UpdateJob, error) {
	return e.repo.ListJobs(ctx)
}

// Running reports whether this process drives the job
func (e *Engine) Running(jobID uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.runs[jobID]
	return ok
}

// Active is the number of jobs this process is driving
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runs)
}

// Shutdown stops every progression routine and waits for them until ctx expires.
// Interrupted jobs stay active in storage; the stale-job sweeper fails them later.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "job engine shutdown")
	}
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) forget(jobID uuid.UUID) {
	e.mu.Lock()
	delete(e.runs, jobID)
	e.mu.Unlock()
}

// persist writes job state. Failures are logged; the routine keeps the in-memory state authoritative.
func (e *Engine) persist(job *models.UpdateJob) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := e.repo.SaveJobState(ctx, job); err != nil {
		e.log.WithError(err).WithField("job_id", job.ID).Error("Failed to persist job state")
	}
}

func (e *Engine) publish(job *models.UpdateJob, delta broadcast.Delta) {
	delta.Status = string(job.Status)
	delta.Progress = broadcast.IntPtr(job.Progress)
	delta.TotalDevices = broadcast.IntPtr(job.TotalDevices)
	delta.CompletedDevices = broadcast.IntPtr(job.CompletedDevices)
	delta.FailedDevices = broadcast.IntPtr(job.FailedDevices)

	e.publisher.Publish(broadcast.JobUpdate{
		Type:  broadcast.MessageType,
		JobID: job.ID,
		Data:  delta,
	})
}

// sleep waits d or until ctx is done, reporting whether the full wait elapsed
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
