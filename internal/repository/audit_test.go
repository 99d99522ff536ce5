package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sproutxp/internal/model"
)

type mockBus struct {
	topic string
	data  []byte
	err   error
}

func (m *mockBus) Publish(topic string, data []byte) error {
	m.topic = topic
	m.data = data
	return m.err
}

func TestBusAuditSink_Record(t *testing.T) {
	bus := &mockBus{}
	sink := NewBusAuditSink(bus)

	rec := model.AuditRecord{
		ID:        uuid.New(),
		ActorID:   uuid.New(),
		Action:    "grant_xp",
		Details:   map[string]any{"action": "watering", "xp_amount": float64(10)},
		SourceIP:  "203.0.113.7",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, sink.Record(context.Background(), rec))
	assert.Equal(t, model.TopicAuditRecords, bus.topic)

	var got model.AuditRecord
	require.NoError(t, json.Unmarshal(bus.data, &got))
	assert.Equal(t, rec, got)
}

func TestBusAuditSink_PropagatesPublishError(t *testing.T) {
	bus := &mockBus{err: errors.New("nats: connection closed")}
	err := NewBusAuditSink(bus).Record(context.Background(), model.AuditRecord{ID: uuid.New()})
	assert.Error(t, err)
}
