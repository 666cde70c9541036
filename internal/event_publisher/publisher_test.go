package event_publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturePublisher struct {
	keys []string
	msgs []Envelope
	err  error
}

func (c *capturePublisher) Publish(ctx context.Context, key string, msg Envelope) error {
	c.keys = append(c.keys, key)
	c.msgs = append(c.msgs, msg)
	return c.err
}

func (c *capturePublisher) Close() error { return nil }

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope(EventMessageReceived, map[string]string{"id": "m1"}).WithCorrelation("req-1")

	assert.NotEmpty(t, env.Meta.ID)
	assert.Equal(t, EventMessageReceived, env.Meta.Type)
	assert.Equal(t, producer, env.Meta.Producer)
	require.NotNil(t, env.Meta.CorrelationID)
	assert.Equal(t, "req-1", *env.Meta.CorrelationID)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"correlation_id":"req-1"`)
	assert.Contains(t, string(raw), `"data":{"id":"m1"}`)
}

func TestWithCorrelation_EmptyLeavesNil(t *testing.T) {
	env := NewEnvelope(EventSyncCompleted, nil).WithCorrelation("")
	assert.Nil(t, env.Meta.CorrelationID)
}

func TestEmit_SwallowsErrors(t *testing.T) {
	p := &capturePublisher{err: errors.New("broker down")}
	Emit(context.Background(), p, zap.NewNop(), EventSyncCompleted, "x")
	assert.Equal(t, []string{EventSyncCompleted}, p.keys)

	Emit(context.Background(), nil, zap.NewNop(), EventSyncCompleted, "x")
}

func TestNopPublisher(t *testing.T) {
	p := NewNopPublisher(nil)
	assert.NoError(t, p.Publish(context.Background(), "k", NewEnvelope("k", nil)))
	assert.NoError(t, p.Close())
}
