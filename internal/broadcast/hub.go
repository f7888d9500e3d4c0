// Package broadcast fans job progress updates out to live subscribers.
//
// A single hub goroutine owns the subscriber set; subscribing, leaving and
// publishing are all messages to it. Delivery is best effort and there is no
// replay: a subscriber only sees updates published while it is connected.
package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	inboxSize            = 1024
	subscriberBufferSize = 256
)

// MessageType is the type tag of every job update message
const MessageType = "job_update"

// Delta is the changed job state carried by an update
type Delta struct {
	Status           string `json:"status,omitempty"`
	Progress         *int   `json:"progress,omitempty"`
	TotalDevices     *int   `json:"totalDevices,omitempty"`
	CompletedDevices *int   `json:"completedDevices,omitempty"`
	FailedDevices    *int   `json:"failedDevices,omitempty"`
	DeviceID         string `json:"deviceId,omitempty"`
	DeviceResult     string `json:"deviceResult,omitempty"`
	Error            string `json:"error,omitempty"`
}

// JobUpdate is one message on the feed
type JobUpdate struct {
	Type  string    `json:"type"`
	JobID uuid.UUID `json:"jobId"`
	Data  Delta     `json:"data"`
}

// Publisher is the publishing side used by the job engine
type Publisher interface {
	Publish(update JobUpdate)
}

// Subscription is a live feed handle. C is closed when the subscription ends.
type Subscription struct {
	C <-chan JobUpdate

	c    chan JobUpdate
	hub  *Hub
	once sync.Once
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		select {
		case s.hub.leave <- s:
		case <-s.hub.done:
		}
	})
}

// Hub owns the subscriber set
type Hub struct {
	inbox chan JobUpdate
	join  chan *Subscription
	leave chan *Subscription
	count chan chan int
	done  chan struct{}
	log   *logrus.Logger
}

// NewHub creates a hub. Call Run to start it.
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		inbox: make(chan JobUpdate, inboxSize),
		join:  make(chan *Subscription),
		leave: make(chan *Subscription),
		count: make(chan chan int),
		done:  make(chan struct{}),
		log:   log,
	}
}

// Run delivers updates until ctx is cancelled, then closes every subscription
func (h *Hub) Run(ctx context.Context) {
	subscribers := make(map[*Subscription]struct{})
	defer func() {
		close(h.done)
		for s := range subscribers {
			close(s.c)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-h.join:
			subscribers[s] = struct{}{}
		case s := <-h.leave:
			if _, ok := subscribers[s]; ok {
				delete(subscribers, s)
				close(s.c)
			}
		case reply := <-h.count:
			reply <- len(subscribers)
		case update := <-h.inbox:
			for s := range subscribers {
				select {
				case s.c <- update:
				default:
					h.log.WithField("job_id", update.JobID).Warn("Subscriber buffer full, update dropped")
				}
			}
		}
	}
}

// Subscribe registers a new subscriber. It returns nil after the hub stopped.
func (h *Hub) Subscribe() *Subscription {
	c := make(chan JobUpdate, subscriberBufferSize)
	s := &Subscription{C: c, c: c, hub: h}

	select {
	case h.join <- s:
		return s
	case <-h.done:
		return nil
	}
}

// Publish queues an update without blocking. When the inbox is full the update is dropped.
func (h *Hub) Publish(update JobUpdate) {
	if update.Type == "" {
		update.Type = MessageType
	}

	select {
	case h.inbox <- update:
	default:
		h.log.WithField("job_id", update.JobID).Warn("Broadcast inbox full, update dropped")
	}
}

// Subscribers returns the current subscriber count
func (h *Hub) Subscribers() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// MultiPublisher publishes to several publishers in order
type MultiPublisher []Publisher

// Publish implements Publisher
func (m MultiPublisher) Publish(update JobUpdate) {
	for _, p := range m {
		p.Publish(update)
	}
}

// IntPtr is a helper for building deltas
func IntPtr(v int) *int {
	return &v
}
