package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestProducer_PublishBatchEncodesValues(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "gzip")

	err := p.PublishBatch(context.Background(), "prices", []Message{
		{Key: []byte("general"), Value: map[string]float64{"per_kwh": 0.25}, Headers: map[string]string{"site": "s1"}},
		{Key: []byte("raw"), Value: []byte("abc")},
		{Key: []byte("str"), Value: "xyz"},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 3)

	assert.Equal(t, "prices", w.msgs[0].Topic)
	assert.JSONEq(t, `{"per_kwh":0.25}`, string(w.msgs[0].Value))
	require.Len(t, w.msgs[0].Headers, 1)
	assert.Equal(t, "site", w.msgs[0].Headers[0].Key)
	assert.Equal(t, "abc", string(w.msgs[1].Value))
	assert.Equal(t, "xyz", string(w.msgs[2].Value))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestProducer_WrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := NewProducerWithWriter(&fakeWriter{err: boom}, "gzip")

	err := p.Publish(context.Background(), "prices", []byte("k"), "v")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "prices")
}

func TestProducer_EmptyBatchIsNoop(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "gzip")
	require.NoError(t, p.PublishBatch(context.Background(), "prices", nil))
	assert.Empty(t, w.msgs)
}

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	assert.Equal(t, kafka.Snappy, parseCompression("snappy"))
	assert.Equal(t, kafka.Zstd, parseCompression("zstd"))
	assert.Equal(t, kafka.Gzip, parseCompression("unknown"))
}
