// Package events streams message lifecycle changes to Kafka for downstream
// consumers (moderation audit, analytics). Bodies never leave the store.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"

	"github.com/thereayou/clubchat/internal/models"
	applog "github.com/thereayou/clubchat/pkg/log"
)

const defaultPartitions = 3

// LifecycleRecord is one change as published on the topic.
type LifecycleRecord struct {
	EventID          string            `json:"event_id"`
	Kind             models.ChangeKind `json:"kind"`
	MessageID        uint64            `json:"message_id"`
	RoomID           uint64            `json:"room_id"`
	AuthorID         uint64            `json:"author_id"`
	State            string            `json:"state"`
	DeletedForAuthor bool              `json:"deleted_for_author"`
	ReplyToID        *uint64           `json:"reply_to_id,omitempty"`
	OccurredAt       time.Time         `json:"occurred_at"`
}

func NewRecord(kind models.ChangeKind, msg *models.ChatMessage, at time.Time) LifecycleRecord {
	return LifecycleRecord{
		EventID:          uuid.NewString(),
		Kind:             kind,
		MessageID:        msg.ID,
		RoomID:           msg.RoomID,
		AuthorID:         msg.AuthorID,
		State:            string(msg.State),
		DeletedForAuthor: msg.DeletedForAuthor,
		ReplyToID:        msg.ReplyToID,
		OccurredAt:       at.UTC(),
	}
}

type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
}

// KafkaPublisher is a notifier that writes LifecycleRecords keyed by room, so
// one room's changes stay ordered within a partition.
type KafkaPublisher struct {
	producer producer
	topic    string
	close    func()
	now      func() time.Time
}

func NewKafkaPublisher(brokers, topic string) (*KafkaPublisher, error) {
	if err := ensureTopic(brokers, topic, defaultPartitions); err != nil {
		applog.L().Warn().Err(err).Str("topic", topic).Msg("failed to ensure kafka topic (may already exist)")
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "1",
		"linger.ms":         5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	done := make(chan struct{})
	go deliveryReports(p, done)

	return &KafkaPublisher{
		producer: p,
		topic:    topic,
		now:      time.Now,
		close: func() {
			p.Flush(5000)
			p.Close()
			<-done
		},
	}, nil
}

func ensureTopic(brokers, topic string, partitions int) error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{"bootstrap.servers": brokers})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	}})
	if err != nil {
		return err
	}
	for _, result := range results {
		if result.Error.Code() != kafka.ErrNoError && result.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %v", result.Topic, result.Error)
		}
	}
	return nil
}

func deliveryReports(p *kafka.Producer, done chan struct{}) {
	for e := range p.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			applog.L().Warn().Err(m.TopicPartition.Error).Msg("kafka delivery failed")
		}
	}
	close(done)
}

// Notify publishes the change. Failures are logged; the write already happened.
func (k *KafkaPublisher) Notify(ctx context.Context, kind models.ChangeKind, msg *models.ChatMessage) {
	rec := NewRecord(kind, msg, k.now())
	value, err := json.Marshal(rec)
	if err != nil {
		applog.Ctx(ctx).Error().Err(err).Msg("marshal lifecycle record")
		return
	}

	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &k.topic, Partition: kafka.PartitionAny},
		Key:            []byte(strconv.FormatUint(msg.RoomID, 10)),
		Value:          value,
		Headers:        []kafka.Header{{Key: "kind", Value: []byte(kind)}},
	}, nil)
	if err != nil {
		applog.Ctx(ctx).Warn().Err(err).
			Uint64(applog.FieldMessageID, msg.ID).
			Msg("kafka produce failed")
	}
}

func (k *KafkaPublisher) Close() error {
	if k.close != nil {
		k.close()
	}
	return nil
}
