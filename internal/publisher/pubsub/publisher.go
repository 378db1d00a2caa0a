// Package pubsub implements a Google Cloud Pub/Sub indexer: every batch of
// documents becomes one message on the topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/JakeFAU/steam-harvester/internal/harvest"
	"github.com/JakeFAU/steam-harvester/internal/publisher"
)

// Indexer wraps a Pub/Sub publisher client.
type Indexer struct {
	publisher *pubsub.Publisher
	client    *pubsub.Client
	ids       harvest.IDGenerator
}

// New creates an Indexer for the provided topic publisher. client, when
// non-nil, is closed with the indexer.
func New(publisher *pubsub.Publisher, client *pubsub.Client, ids harvest.IDGenerator) *Indexer {
	return &Indexer{publisher: publisher, client: client, ids: ids}
}

// Dial opens a client for projectID and a publisher for topic.
func Dial(ctx context.Context, projectID, topic string, ids harvest.IDGenerator) (*Indexer, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return New(client.Publisher(topic), client, ids), nil
}

// Index publishes the batch as one JSON message and waits for the server ack.
func (i *Indexer) Index(ctx context.Context, batch []publisher.Document) error {
	if i.publisher == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"documents": strconv.Itoa(len(batch)),
		},
	}
	if i.ids != nil {
		batchID, err := i.ids.NewID()
		if err != nil {
			return fmt.Errorf("batch id: %w", err)
		}
		msg.Attributes["batch_id"] = batchID
	}

	result := i.publisher.Publish(ctx, msg)
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish batch: %w", err)
	}
	return nil
}

// Close flushes pending messages and releases the client.
func (i *Indexer) Close() error {
	if i.publisher != nil {
		i.publisher.Stop()
	}
	if i.client != nil {
		if err := i.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}
