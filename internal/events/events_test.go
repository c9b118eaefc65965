package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
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

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, in)
	return &sqs.SendMessageOutput{}, nil
}

var sampleEvent = Event{
	Type:           TypeApproved,
	PrescriptionID: "p1",
	Status:         "approved",
	Reviewer:       "dr-rao",
	Corrections:    1,
	Timestamp:      time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC),
}

func TestKafkaPublish(t *testing.T) {
	w := &fakeWriter{}
	k := NewKafkaWithWriter(w)
	require.NoError(t, k.Publish(context.Background(), sampleEvent))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("p1"), w.msgs[0].Key)
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)

	var got Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, sampleEvent, got)

	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublishError(t *testing.T) {
	boom := errors.New("broker down")
	k := NewKafkaWithWriter(&fakeWriter{err: boom})
	assert.ErrorIs(t, k.Publish(context.Background(), sampleEvent), boom)
}

func TestNewKafkaValidates(t *testing.T) {
	_, err := NewKafka(KafkaConfig{Topic: "rx"})
	assert.Error(t, err)
	k, err := NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "rx"})
	require.NoError(t, err)
	require.NoError(t, k.Close())
}

func TestSQSPublish(t *testing.T) {
	f := &fakeSQS{}
	s, err := NewSQS(f, "http://localhost:4566/000000000000/rx-events")
	require.NoError(t, err)
	require.NoError(t, s.Publish(context.Background(), sampleEvent))
	require.Len(t, f.inputs, 1)
	assert.Equal(t, "http://localhost:4566/000000000000/rx-events", *f.inputs[0].QueueUrl)
	assert.Contains(t, *f.inputs[0].MessageBody, `"prescription_id":"p1"`)
	assert.Equal(t, "approved", *f.inputs[0].MessageAttributes["event_type"].StringValue)

	_, err = NewSQS(f, "")
	assert.Error(t, err)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	require.NoError(t, r.Publish(context.Background(), sampleEvent))
	require.NoError(t, Nop{}.Publish(context.Background(), sampleEvent))
	assert.Equal(t, []Event{sampleEvent}, r.Events())
}
