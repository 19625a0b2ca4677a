package subscriber

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deadmade/isopruefi-ingest/internal/config"
	"github.com/deadmade/isopruefi-ingest/internal/model"
)

type recordedWrite struct {
	Value     float64
	Sensor    string
	Timestamp int64
	Sequence  int
}

type fakeWriter struct {
	mu     sync.Mutex
	writes []recordedWrite
}

func (w *fakeWriter) WriteSensorData(_ context.Context, value float64, sensor string, timestamp int64, sequence int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, recordedWrite{value, sensor, timestamp, sequence})
}

func (w *fakeWriter) all() []recordedWrite {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]recordedWrite(nil), w.writes...)
}

type fakeSettings struct {
	settings []model.TopicSetting
	err      error
}

func (f *fakeSettings) GetTopicSettings(context.Context) ([]model.TopicSetting, error) {
	return f.settings, f.err
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func testSetting() model.TopicSetting {
	return model.TopicSetting{
		ID:               1,
		GroupID:          2,
		SensorType:       "temp",
		SensorName:       "sensor-eins",
		DefaultTopicPath: "dhbw/ai/si2023",
		HasRecovery:      true,
	}
}

func newTestSubscriber(t *testing.T, writer *fakeWriter, settings ...model.TopicSetting) *Subscriber {
	t.Helper()
	cfg := &config.Config{MQTTShareGroup: "test-group", MQTTQoS: 1}
	sub := New(&fakeSettings{settings: settings}, writer, cfg, zap.NewNop())
	require.NoError(t, sub.LoadSettings(context.Background()))
	return sub
}

func TestHandleMessage_WritesPrimaryReading(t *testing.T) {
	writer := &fakeWriter{}
	sub := newTestSubscriber(t, writer, testSetting())

	sub.handleMessage(nil, &fakeMessage{
		topic:   "dhbw/ai/si2023/2/temp/sensor-eins",
		payload: []byte(`{"timestamp":1700000000,"value":21.3,"sequence":5}`),
	})

	writes := writer.all()
	require.Len(t, writes, 1)
	assert.Equal(t, recordedWrite{21.3, "sensor-eins", 1700000000, 5}, writes[0])
}

func TestHandleMessage_RecoveredTopicMapsToSensor(t *testing.T) {
	writer := &fakeWriter{}
	sub := newTestSubscriber(t, writer, testSetting())

	sub.handleMessage(nil, &fakeMessage{
		topic:   "dhbw/ai/si2023/2/temp/sensor-eins/recovered",
		payload: []byte(`{"timestamp":1700000000,"value":20.0,"sequence":1}`),
	})

	writes := writer.all()
	require.Len(t, writes, 1)
	assert.Equal(t, "sensor-eins", writes[0].Sensor)
}

func TestHandleMessage_RecoveryBatchBackfills(t *testing.T) {
	writer := &fakeWriter{}
	sub := newTestSubscriber(t, writer, testSetting())

	sub.handleMessage(nil, &fakeMessage{
		topic: "dhbw/ai/si2023/2/temp/sensor-eins",
		payload: []byte(`{
			"timestamp":1700000300,"value":[21.5],"sequence":6,
			"meta":{"t":[1700000060,1700000120],"v":[20.9,21.1],"s":[2,3]}}`),
	})

	writes := writer.all()
	require.Len(t, writes, 3)
	assert.Equal(t, recordedWrite{21.5, "sensor-eins", 1700000300, 6}, writes[0])
	assert.Equal(t, recordedWrite{20.9, "sensor-eins", 1700000060, 2}, writes[1])
	assert.Equal(t, recordedWrite{21.1, "sensor-eins", 1700000120, 3}, writes[2])
}

func TestHandleMessage_DuplicateSequenceSkipped(t *testing.T) {
	writer := &fakeWriter{}
	sub := newTestSubscriber(t, writer, testSetting())

	// The recovery entry with sequence 6 duplicates the primary reading.
	sub.handleMessage(nil, &fakeMessage{
		topic: "dhbw/ai/si2023/2/temp/sensor-eins",
		payload: []byte(`{
			"timestamp":1700000300,"value":[21.5],"sequence":6,
			"meta":{"t":[1700000240,1700000298],"v":[21.4,21.5],"s":[5,6]}}`),
	})

	writes := writer.all()
	require.Len(t, writes, 2)
	assert.Equal(t, 6, writes[0].Sequence)
	assert.Equal(t, 5, writes[1].Sequence)
}

func TestHandleMessage_PlaceholderPrimaryNotWritten(t *testing.T) {
	writer := &fakeWriter{}
	sub := newTestSubscriber(t, writer, testSetting())

	sub.handleMessage(nil, &fakeMessage{
		topic: "dhbw/ai/si2023/2/temp/sensor-eins",
		payload: []byte(`{
			"timestamp":1700000300,"value":[null],"sequence":null,
			"meta":{"t":[1700000060],"v":[20.9],"s":[2]}}`),
	})

	writes := writer.all()
	require.Len(t, writes, 1)
	assert.Equal(t, 20.9, writes[0].Value)
}

func TestHandleMessage_MultiValueReadingSkipped(t *testing.T) {
	writer := &fakeWriter{}
	sub := newTestSubscriber(t, writer, testSetting())

	sub.handleMessage(nil, &fakeMessage{
		topic:   "dhbw/ai/si2023/2/temp/sensor-eins",
		payload: []byte(`{"timestamp":1700000000,"value":[20.1,20.2]}`),
	})

	assert.Empty(t, writer.all())
}

func TestHandleMessage_PoisonMessageIsIsolated(t *testing.T) {
	writer := &fakeWriter{}
	sub := newTestSubscriber(t, writer, testSetting())

	assert.NotPanics(t, func() {
		sub.handleMessage(nil, &fakeMessage{
			topic:   "dhbw/ai/si2023/2/temp/sensor-eins",
			payload: []byte(`{"timestamp":`),
		})
	})
	assert.Empty(t, writer.all())

	// The subscription keeps working afterwards.
	sub.handleMessage(nil, &fakeMessage{
		topic:   "dhbw/ai/si2023/2/temp/sensor-eins",
		payload: []byte(`{"timestamp":1700000000,"value":21.3,"sequence":5}`),
	})
	assert.Len(t, writer.all(), 1)
}

func TestHandleMessage_UnknownTopicDropped(t *testing.T) {
	writer := &fakeWriter{}
	sub := newTestSubscriber(t, writer, testSetting())

	sub.handleMessage(nil, &fakeMessage{
		topic:   "dhbw/ai/si2023/9/temp/other",
		payload: []byte(`{"timestamp":1700000000,"value":21.3}`),
	})
	assert.Empty(t, writer.all())
}

func TestLoadSettings_RegistersRecoveredTopics(t *testing.T) {
	writer := &fakeWriter{}
	primaryOnly := testSetting()
	primaryOnly.HasRecovery = false
	primaryOnly.SensorName = "sensor-zwei"

	sub := newTestSubscriber(t, writer, testSetting(), primaryOnly)

	sub.mu.RLock()
	defer sub.mu.RUnlock()
	assert.Contains(t, sub.topics, "dhbw/ai/si2023/2/temp/sensor-eins")
	assert.Contains(t, sub.topics, "dhbw/ai/si2023/2/temp/sensor-eins/recovered")
	assert.Contains(t, sub.topics, "dhbw/ai/si2023/2/temp/sensor-zwei")
	assert.NotContains(t, sub.topics, "dhbw/ai/si2023/2/temp/sensor-zwei/recovered")
}
