package service

import (
	"context"
	"encoding/json"
	"net/url"

	amqp "github.com/rabbitmq/amqp091-go"

	"assethub/server/common/log"
	"assethub/server/thumbman/domain"
)

const (
	storageEventsExchange = "storage.events"
	storageEventsQueue    = "thumbman.storage-finalized"
)

// AMQPConsumer feeds bucket notifications delivered over AMQP (minio's
// native notification target) into the same ingress as the webhook.
type AMQPConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	ingress *IngressService
}

func NewAMQPConsumer(conn *amqp.Connection, ingress *IngressService) (*AMQPConsumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(storageEventsExchange, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}
	queue, err := ch.QueueDeclare(storageEventsQueue, true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	if err := ch.QueueBind(queue.Name, "#", storageEventsExchange, false, nil); err != nil {
		return nil, err
	}
	return &AMQPConsumer{conn: conn, channel: ch, ingress: ingress}, nil
}

// Start consumes until ctx is cancelled. Each delivery runs on its own
// goroutine so one slow derivative job does not hold up unrelated events.
func (c *AMQPConsumer) Start(ctx context.Context) error {
	deliveries, err := c.channel.Consume(storageEventsQueue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case delivery, ok := <-deliveries:
				if !ok {
					return
				}
				go c.handle(ctx, delivery)
			}
		}
	}()
	return nil
}

func (c *AMQPConsumer) handle(ctx context.Context, delivery amqp.Delivery) {
	event, ok := parseBucketNotification(delivery.Body)
	if !ok {
		log.Warnf("amqp: drop unparseable bucket notification")
		_ = delivery.Ack(false)
		return
	}

	if _, err := c.ingress.HandleStorageEvent(ctx, event); err != nil {
		// Transport-level failure: requeue so the broker redelivers.
		log.Errorf("amqp: storage event %s not processed, requeueing: %v", event.EventID, err)
		_ = delivery.Nack(false, true)
		return
	}
	_ = delivery.Ack(false)
}

func (c *AMQPConsumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
}

// minio bucket notification payload, S3 event shape.
type bucketNotification struct {
	Records []struct {
		ResponseElements map[string]string `json:"responseElements"`
		S3               struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key         string `json:"key"`
				Size        int64  `json:"size"`
				ContentType string `json:"contentType"`
				Sequencer   string `json:"sequencer"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

func parseBucketNotification(body []byte) (domain.StorageEvent, bool) {
	var notification bucketNotification
	if err := json.Unmarshal(body, &notification); err != nil || len(notification.Records) == 0 {
		return domain.StorageEvent{}, false
	}
	record := notification.Records[0]

	// Object keys arrive URL-encoded in S3 events.
	objectKey, err := url.QueryUnescape(record.S3.Object.Key)
	if err != nil {
		objectKey = record.S3.Object.Key
	}

	eventID := record.ResponseElements["x-amz-request-id"]
	if eventID == "" {
		eventID = record.S3.Object.Sequencer
	}

	return domain.StorageEvent{
		Bucket:      record.S3.Bucket.Name,
		ObjectKey:   objectKey,
		ContentType: record.S3.Object.ContentType,
		SizeBytes:   record.S3.Object.Size,
		EventID:     eventID,
	}, true
}
