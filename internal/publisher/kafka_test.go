package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/i474232898/weather-aggregates/internal/weather"
)

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func sampleRound() weather.RoundResult {
	finished := time.Date(2024, 5, 1, 12, 0, 5, 0, time.UTC)
	delhi := weather.Location{City: "Delhi", Country: "IN"}
	return weather.RoundResult{
		ID:         "round-1",
		StartedAt:  finished.Add(-5 * time.Second),
		FinishedAt: finished,
		Outcomes: []weather.LocationOutcome{
			{Location: delhi, Kind: weather.OutcomeOK, Aggregate: &weather.Aggregate{Count: 1, Dominant: "Clear"}},
			{Location: weather.Location{City: "Mumbai", Country: "IN"}, Kind: weather.OutcomeFetchFailed, Error: "timeout"},
		},
	}
}

func TestSerializeToMessage(t *testing.T) {
	msg, err := serializeToMessage(sampleRound())
	require.NoError(t, err)

	assert.Equal(t, []byte("round-1"), msg.Key)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "finished_at", msg.Headers[0].Key)
	assert.Equal(t, []byte("2024-05-01T12:00:05Z"), msg.Headers[0].Value)
	assert.Equal(t, []byte("1"), msg.Headers[1].Value)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "round-1", decoded["id"])
	assert.Len(t, decoded["outcomes"], 2)
	assert.Contains(t, string(msg.Value), `"outcome":"fetch_failed"`)
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, zaptest.NewLogger(t))

	require.NoError(t, p.Publish(context.Background(), sampleRound()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("round-1"), w.msgs[0].Key)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisher_PublishError(t *testing.T) {
	broker := errors.New("leader not available")
	p := newKafkaPublisher(&fakeWriter{err: broker}, zaptest.NewLogger(t))

	err := p.Publish(context.Background(), sampleRound())
	assert.ErrorIs(t, err, broker)
}
