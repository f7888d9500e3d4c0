package messaging

import (
	"context"
	"sync"
	"time"

	"example.com/backstage/services/ota/internal/broadcast"

	"github.com/sirupsen/logrus"
)

const (
	sendTimeout                 = 10 * time.Second
	queueCapacityAlertThreshold = 0.8
)

// EventForwarder republishes job updates to the events queue from a worker pool.
// It implements broadcast.Publisher and never blocks the caller.
type EventForwarder struct {
	client  ServiceBusClient
	log     *logrus.Logger
	workers int
	queue   chan broadcast.JobUpdate
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	dropped int64
	stopped bool
}

// NewEventForwarder starts the worker pool
func NewEventForwarder(client ServiceBusClient, log *logrus.Logger, workers, buffer int) *EventForwarder {
	if workers < 1 {
		workers = 1
	}
	if buffer < 1 {
		buffer = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &EventForwarder{
		client:  client,
		log:     log,
		workers: workers,
		queue:   make(chan broadcast.JobUpdate, buffer),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		f.wg.Add(1)
		go f.worker(i)
	}

	f.log.Infof("Started job event forwarder with %d workers", workers)
	return f
}

func (f *EventForwarder) worker(id int) {
	defer f.wg.Done()

	for {
		select {
		case <-f.ctx.Done():
			f.drain(id)
			return
		case update := <-f.queue:
			f.send(id, update)
		}
	}
}

// drain flushes whatever is still queued at shutdown
func (f *EventForwarder) drain(id int) {
	for {
		select {
		case update := <-f.queue:
			f.send(id, update)
		default:
			return
		}
	}
}

func (f *EventForwarder) send(id int, update broadcast.JobUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	// Session per job keeps a job's events ordered for consumers
	if err := f.client.SendMessage(ctx, update, update.JobID.String()); err != nil {
		f.log.WithError(err).WithFields(logrus.Fields{
			"worker": id,
			"job_id": update.JobID,
		}).Warn("Failed to forward job event")
	}
}

// Publish enqueues an update. When the queue is full the update is dropped.
func (f *EventForwarder) Publish(update broadcast.JobUpdate) {
	if update.Type == "" {
		update.Type = broadcast.MessageType
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}

	select {
	case f.queue <- update:
		if usage := float64(len(f.queue)) / float64(cap(f.queue)); usage >= queueCapacityAlertThreshold {
			f.log.Warnf("Event queue at %d%% capacity (%d/%d)", int(usage*100), len(f.queue), cap(f.queue))
		}
	default:
		f.dropped++
		f.log.WithField("job_id", update.JobID).Warn("Event queue is full, job event dropped")
	}
}

// Stop drains the queue and waits for the workers
func (f *EventForwarder) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	f.mu.Unlock()

	f.log.Info("Stopping job event forwarder...")
	f.cancel()
	f.wg.Wait()
	f.log.Info("Job event forwarder stopped")
}

// QueueStats returns current queue statistics
func (f *EventForwarder) QueueStats() map[string]interface{} {
	f.mu.Lock()
	dropped := f.dropped
	f.mu.Unlock()

	return map[string]interface{}{
		"queue_length":   len(f.queue),
		"queue_capacity": cap(f.queue),
		"worker_count":   f.workers,
		"dropped":        dropped,
	}
}
