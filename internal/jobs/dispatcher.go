package jobs

import (
	"context"
	"time"

	"example.com/backstage/services/ota/internal/messaging"
	"example.com/backstage/services/ota/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// CommandType is the type tag of device update commands
const CommandType = "ota.update"

// Delivery is one firmware push to one device
type Delivery struct {
	JobID            uuid.UUID
	DeviceID         uuid.UUID
	DeviceIdentifier string
	Firmware         *models.Firmware
	Transport        models.TransportType
}

// Dispatcher hands a delivery to the device transport. A returned error is a device failure.
type Dispatcher interface {
	Deliver(ctx context.Context, d Delivery) error
}

// DispatcherFunc adapts a function to Dispatcher
type DispatcherFunc func(ctx context.Context, d Delivery) error

// Deliver implements Dispatcher
func (f DispatcherFunc) Deliver(ctx context.Context, d Delivery) error {
	return f(ctx, d)
}

// UpdateCommand is the message a device gateway receives for each delivery
type UpdateCommand struct {
	Type             string               `json:"type"`
	JobID            uuid.UUID            `json:"jobId"`
	DeviceID         uuid.UUID            `json:"deviceId"`
	DeviceIdentifier string               `json:"deviceIdentifier"`
	FirmwareID       uuid.UUID            `json:"firmwareId"`
	Version          string               `json:"version"`
	Transport        models.TransportType `json:"transportType"`
	ContentHash      string               `json:"sha256"`
	SizeBytes        int64                `json:"sizeBytes"`
	IssuedAt         time.Time            `json:"issuedAt"`
}

// ServiceBusDispatcher publishes update commands to the device command queue
type ServiceBusDispatcher struct {
	client messaging.ServiceBusClient
}

// NewServiceBusDispatcher creates a dispatcher on client
func NewServiceBusDispatcher(client messaging.ServiceBusClient) *ServiceBusDispatcher {
	return &ServiceBusDispatcher{client: client}
}

// Deliver sends one command with the device identifier as session id so a device sees its commands in order
func (d *ServiceBusDispatcher) Deliver(ctx context.Context, delivery Delivery) error {
	cmd := UpdateCommand{
		Type:             CommandType,
		JobID:            delivery.JobID,
		DeviceID:         delivery.DeviceID,
		DeviceIdentifier: delivery.DeviceIdentifier,
		FirmwareID:       delivery.Firmware.ID,
		Version:          delivery.Firmware.Version,
		Transport:        delivery.Transport,
		ContentHash:      delivery.Firmware.ContentHash,
		SizeBytes:        delivery.Firmware.SizeBytes,
		IssuedAt:         time.Now().UTC(),
	}

	if err := d.client.SendMessage(ctx, cmd, delivery.DeviceIdentifier); err != nil {
		return errors.Wrapf(err, "dispatch to device %s", delivery.DeviceIdentifier)
	}
	return nil
}
