package notify

import (
	"context"
	"encoding/json"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"

	"example.com/backstage/services/auctions/config"
)

// AzureNotifier publishes notifications to a Service Bus queue
type AzureNotifier struct {
	client    *azservicebus.Client
	sender    *azservicebus.Sender
	queueName string
}

// NewAzureNotifier creates a Service Bus sender for cfg.QueueName
func NewAzureNotifier(cfg config.AzureConfig) (*AzureNotifier, error) {
	if cfg.ConnectionString == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	sender, err := client.NewSender(cfg.QueueName, nil)
	if err != nil {
		_ = client.Close(context.Background())
		return nil, errors.Wrap(err, "failed to create Service Bus sender")
	}

	return &AzureNotifier{
		client:    client,
		sender:    sender,
		queueName: cfg.QueueName,
	}, nil
}

// Notify sends one message per notification
func (n *AzureNotifier) Notify(ctx context.Context, event string, recipients []string, snapshot Snapshot, extra map[string]any) error {
	msg := newMessage(event, recipients, snapshot, extra)
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal notification")
	}

	messageID := msg.ID.String()
	contentType := "application/json"
	sbMsg := &azservicebus.Message{
		Body:        data,
		MessageID:   &messageID,
		ContentType: &contentType,
		Subject:     &msg.Event,
		ApplicationProperties: map[string]interface{}{
			"source":     "auctions",
			"event":      event,
			"auction_id": snapshot.ID.String(),
		},
	}
	if err := n.sender.SendMessage(ctx, sbMsg, nil); err != nil {
		return errors.Wrapf(err, "failed to send %s to %s", event, n.queueName)
	}
	return nil
}

// Close closes the sender and client
func (n *AzureNotifier) Close() error {
	if n.sender != nil {
		if err := n.sender.Close(context.Background()); err != nil {
			return err
		}
	}
	if n.client != nil {
		return n.client.Close(context.Background())
	}
	return nil
}
