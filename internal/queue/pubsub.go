package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"backoffice/internal/core"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// NewPubSubClient connects to Pub/Sub, with explicit credentials when
// credentialsJSON is set and Application Default Credentials otherwise.
func NewPubSubClient(ctx context.Context, projectID, credentialsJSON string) (*pubsub.Client, error) {
	if projectID == "" {
		return nil, errors.New("pubsub project id is required")
	}
	var opts []option.ClientOption
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	c, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return c, nil
}

// CreateTopicIfNotExists returns the topic, creating it on first use.
func CreateTopicIfNotExists(ctx context.Context, c *pubsub.Client, topic string) (*pubsub.Topic, error) {
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	t := c.Topic(topic)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check topic %s: %w", topic, err)
	}
	if ok {
		return t, nil
	}
	t, err = c.CreateTopic(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to create topic %s: %w", topic, err)
	}
	return t, nil
}

// PubSubNotifier implements core.FiscalNotifier. Outcomes of one document are
// published with the document id as ordering key.
type PubSubNotifier struct {
	topic  *pubsub.Topic
	logger *logrus.Logger
}

func NewPubSubNotifier(topic *pubsub.Topic, logger *logrus.Logger) *PubSubNotifier {
	topic.EnableMessageOrdering = true
	return &PubSubNotifier{topic: topic, logger: logger}
}

func (n *PubSubNotifier) FiscalOutcome(ctx context.Context, out core.FiscalOutcome) error {
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to encode fiscal outcome: %w", err)
	}
	key := strconv.FormatInt(out.DocumentID, 10)

	result := n.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: key,
		Attributes: map[string]string{
			"tenant_id": strconv.FormatInt(out.TenantID, 10),
			"status":    string(out.Status),
		},
	})
	serverID, err := result.Get(ctx)
	if err != nil {
		// Publishing on a key stops after an error until it is resumed.
		n.topic.ResumePublish(key)
		return fmt.Errorf("failed to publish fiscal outcome for document %d: %w", out.DocumentID, err)
	}
	n.logger.WithFields(logrus.Fields{
		"module":             "FiscalNotifier",
		"fiscal_document_id": out.DocumentID,
		"status":             out.Status,
		"message_id":         serverID,
	}).Debug("fiscal outcome published")
	return nil
}

// Stop flushes pending messages.
func (n *PubSubNotifier) Stop() {
	n.topic.Stop()
}
