package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cyclecal/internal/model"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockWriter) Close() error {
	return m.Called().Error(0)
}

func TestKafkaPublishKeysByEvent(t *testing.T) {
	w := new(MockWriter)
	k := newKafka(w, zap.NewNop())

	var sent []kafka.Message
	w.On("WriteMessages", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).([]kafka.Message) }).
		Return(nil)

	change := Change{
		Kind:      KindUpdated,
		EventType: model.DisciplineRoad,
		EventID:   "12345",
		Patch:     &model.UpdateEventData{EventID: "12345", EventType: model.DisciplineRoad, Description: model.String("new")},
		At:        time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC),
	}
	require.NoError(t, k.Publish(context.Background(), change))

	require.Len(t, sent, 1)
	assert.Equal(t, "road/12345", string(sent[0].Key))
	var decoded Change
	require.NoError(t, json.Unmarshal(sent[0].Value, &decoded))
	assert.Equal(t, KindUpdated, decoded.Kind)
	assert.Equal(t, "new", *decoded.Patch.Description)
	w.AssertExpectations(t)
}

func TestKafkaPublishError(t *testing.T) {
	w := new(MockWriter)
	k := newKafka(w, zap.NewNop())
	w.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	err := k.Publish(context.Background(), Change{Kind: KindDeleted, EventType: model.DisciplineCX, EventID: "1"})
	assert.ErrorContains(t, err, "broker down")
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), Change{}))
	assert.NoError(t, p.Close())
}
