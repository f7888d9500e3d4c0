package messaging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"

	"example.com/backstage/services/ota/config"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ServiceBusClient is an interface for Azure Service Bus operations
type ServiceBusClient interface {
	SendMessage(ctx context.Context, body interface{}, sessionID string) error
	Close() error
}

// serviceBusClient sends to a single queue
type serviceBusClient struct {
	client     *azservicebus.Client
	sender     *azservicebus.Sender
	queueName  string
	clientType string
}

// mockServiceBusClient logs messages instead of sending them, for local development
type mockServiceBusClient struct {
	queueName  string
	clientType string
	log        *logrus.Logger
}

// NewServiceBusClient creates a sender for queueName. Without a connection string a logging mock is returned.
func NewServiceBusClient(cfg config.ServiceBusConfig, queueName, clientType string, log *logrus.Logger) (ServiceBusClient, error) {
	if cfg.ConnectionString == "" {
		return &mockServiceBusClient{queueName: queueName, clientType: clientType, log: log}, nil
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	sender, err := client.NewSender(queueName, nil)
	if err != nil {
		_ = client.Close(context.Background())
		return nil, errors.Wrapf(err, "failed to create Service Bus sender for %s", queueName)
	}

	return &serviceBusClient{
		client:     client,
		sender:     sender,
		queueName:  queueName,
		clientType: clientType,
	}, nil
}

func generateSessionID() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// SendMessage sends body as JSON. An empty sessionID gets a random one.
func (s *serviceBusClient) SendMessage(ctx context.Context, body interface{}, sessionID string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message body")
	}

	if sessionID == "" {
		sessionID = generateSessionID()
	}

	msg := &azservicebus.Message{
		Body: data,
		ApplicationProperties: map[string]interface{}{
			"source": s.clientType,
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
		SessionID: &sessionID,
	}

	if err := s.sender.SendMessage(ctx, msg, nil); err != nil {
		return errors.Wrapf(err, "failed to send message to %s", s.queueName)
	}
	return nil
}

// Close closes the sender and the client
func (s *serviceBusClient) Close() error {
	if s.sender != nil {
		if err := s.sender.Close(context.Background()); err != nil {
			return err
		}
	}

	if s.client != nil {
		return s.client.Close(context.Background())
	}

	return nil
}

func (m *mockServiceBusClient) SendMessage(ctx context.Context, body interface{}, sessionID string) error {
	m.log.WithFields(logrus.Fields{
		"queue":      m.queueName,
		"source":     m.clientType,
		"session_id": sessionID,
	}).Debugf("[MOCK ServiceBus] message: %+v", body)
	return nil
}

func (m *mockServiceBusClient) Close() error {
	return nil
}
