package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereayou/clubchat/internal/models"
)

type fakeProducer struct {
	sent []*kafka.Message
	err  error
}

func (f *fakeProducer) Produce(msg *kafka.Message, _ chan kafka.Event) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func TestNotifyPublishesRecordWithoutBody(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	fp := &fakeProducer{}
	pub := &KafkaPublisher{producer: fp, topic: "club-chat-lifecycle", now: func() time.Time { return at }}

	reply := uint64(3)
	msg := &models.ChatMessage{
		ID: 10, RoomID: 7, AuthorID: 1, Body: "secret text", EncryptedBody: "abc",
		State: models.StateEdited, ReplyToID: &reply,
	}
	pub.Notify(context.Background(), models.ChangeUpdated, msg)

	require.Len(t, fp.sent, 1)
	out := fp.sent[0]
	assert.Equal(t, "7", string(out.Key))
	assert.Equal(t, "club-chat-lifecycle", *out.TopicPartition.Topic)
	assert.NotContains(t, string(out.Value), "secret text")
	assert.NotContains(t, string(out.Value), "abc")

	var rec LifecycleRecord
	require.NoError(t, json.Unmarshal(out.Value, &rec))
	assert.Equal(t, models.ChangeUpdated, rec.Kind)
	assert.EqualValues(t, 10, rec.MessageID)
	assert.Equal(t, "edited", rec.State)
	assert.Equal(t, &reply, rec.ReplyToID)
	assert.True(t, rec.OccurredAt.Equal(at))
	assert.NotEmpty(t, rec.EventID)
}

func TestNotifySwallowsProduceErrors(t *testing.T) {
	pub := &KafkaPublisher{producer: &fakeProducer{err: errors.New("queue full")}, topic: "t", now: time.Now}
	assert.NotPanics(t, func() {
		pub.Notify(context.Background(), models.ChangeCreated, &models.ChatMessage{ID: 1, RoomID: 1})
	})
	assert.NoError(t, pub.Close())
}
