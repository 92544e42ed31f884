package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mqttLib "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tello-bridge/common"
)

// MockMQTTClient is a paho client double
type MockMQTTClient struct {
	mock.Mock
}

func (m *MockMQTTClient) Connect() mqttLib.Token {
	args := m.Called()
	return args.Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqttLib.Token {
	args := m.Called(topic, qos, retained, payload)
	return args.Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, callback mqttLib.MessageHandler) mqttLib.Token {
	args := m.Called(topic, qos, callback)
	return args.Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) SubscribeMultiple(filters map[string]byte, callback mqttLib.MessageHandler) mqttLib.Token {
	args := m.Called(filters, callback)
	return args.Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) Unsubscribe(topics ...string) mqttLib.Token {
	args := m.Called(topics)
	return args.Get(0).(mqttLib.Token)
}

func (m *MockMQTTClient) AddRoute(topic string, callback mqttLib.MessageHandler) {
	m.Called(topic, callback)
}

func (m *MockMQTTClient) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockMQTTClient) IsConnectionOpen() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

func (m *MockMQTTClient) OptionsReader() mqttLib.ClientOptionsReader {
	args := m.Called()
	return args.Get(0).(mqttLib.ClientOptionsReader)
}

type mockToken struct {
	mock.Mock
}

func (m *mockToken) Wait() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *mockToken) WaitTimeout(timeout time.Duration) bool {
	args := m.Called(timeout)
	return args.Bool(0)
}

func (m *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (m *mockToken) Error() error {
	args := m.Called()
	return args.Error(0)
}

func doneToken(err error) *mockToken {
	token := &mockToken{}
	token.On("Wait").Return(true)
	token.On("WaitTimeout", mock.Anything).Return(true)
	token.On("Error").Return(err)
	return token
}

type mockMQTTMessage struct {
	topic   string
	payload []byte
}

func (m *mockMQTTMessage) Topic() string     { return m.topic }
func (m *mockMQTTMessage) Payload() []byte   { return m.payload }
func (m *mockMQTTMessage) Qos() byte         { return 1 }
func (m *mockMQTTMessage) Retained() bool    { return false }
func (m *mockMQTTMessage) Duplicate() bool   { return false }
func (m *mockMQTTMessage) MessageID() uint16 { return 1 }
func (m *mockMQTTMessage) Ack()              {}

type recordingHandler struct {
	mu       sync.Mutex
	received []common.CommandMessage
}

func (h *recordingHandler) Handle(msg common.CommandMessage) common.CommandResponse {
	h.mu.Lock()
	h.received = append(h.received, msg)
	h.mu.Unlock()
	return common.CommandResponse{
		CorrelationID: msg.CorrelationID,
		Command:       msg.Command,
		Status:        "success",
		Result:        common.CommandResult{Success: true, Message: "ok"},
		Timestamp:     time.Now(),
	}
}

func jsonPayload(check func(map[string]interface{}) bool) interface{} {
	return mock.MatchedBy(func(payload []byte) bool {
		var m map[string]interface{}
		if err := json.Unmarshal(payload, &m); err != nil {
			return false
		}
		return check(m)
	})
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.NotEmpty(t, config.Broker)
	assert.NotEmpty(t, config.ClientID)
	assert.Equal(t, "tello/command/request", config.RequestTopic())
	assert.Equal(t, "tello/command/response", config.ResponseTopic())
	assert.NotEmpty(t, config.TelemetryTopic)
	assert.NotEmpty(t, config.StateTopic)
	assert.NotEmpty(t, config.VideoTopic)
	assert.LessOrEqual(t, config.QoS, byte(2))
}

func TestGenerateClientID(t *testing.T) {
	id1 := generateClientID()
	id2 := generateClientID()

	assert.True(t, strings.HasPrefix(id1, "tello-bridge-"))
	assert.Len(t, id1, len("tello-bridge-")+8)
	assert.NotEqual(t, id1, id2)
}

func TestNewClientGeneratesMissingClientID(t *testing.T) {
	config := DefaultConfig()
	config.ClientID = ""

	client := NewClient(config, &recordingHandler{})
	assert.NotEmpty(t, client.config.ClientID)
}

func TestIsConnected(t *testing.T) {
	client := NewClient(DefaultConfig(), &recordingHandler{})
	assert.False(t, client.IsConnected(), "not started")

	paho := &MockMQTTClient{}
	paho.On("IsConnected").Return(false)
	client = NewWithClient(DefaultConfig(), &recordingHandler{}, paho)
	assert.False(t, client.IsConnected())
}

func TestPublishTelemetry(t *testing.T) {
	config := DefaultConfig()
	paho := &MockMQTTClient{}
	paho.On("IsConnected").Return(true)
	paho.On("Publish", config.TelemetryTopic, config.QoS, false, jsonPayload(func(m map[string]interface{}) bool {
		return m["battery"] == float64(72) && m["tof"] == nil
	})).Return(doneToken(nil)).Once()

	client := NewWithClient(config, &recordingHandler{}, paho)
	err := client.PublishTelemetry(common.TelemetrySnapshot{Battery: 72, Timestamp: time.Now()})

	require.NoError(t, err)
	paho.AssertExpectations(t)
}

func TestPublishStateIsRetained(t *testing.T) {
	config := DefaultConfig()
	paho := &MockMQTTClient{}
	paho.On("IsConnected").Return(true)
	paho.On("Publish", config.StateTopic, config.QoS, true, jsonPayload(func(m map[string]interface{}) bool {
		return m["connected"] == true && m["flying"] == true && m["video_active"] == false
	})).Return(doneToken(nil)).Once()

	client := NewWithClient(config, &recordingHandler{}, paho)
	err := client.PublishState(common.DroneState{Connected: true, Flying: true})

	require.NoError(t, err)
	paho.AssertExpectations(t)
}

func TestPublishError(t *testing.T) {
	config := DefaultConfig()
	paho := &MockMQTTClient{}
	paho.On("IsConnected").Return(true)
	paho.On("Publish", config.StateTopic, config.QoS, true, mock.Anything).Return(doneToken(errors.New("broker gone")))

	client := NewWithClient(config, &recordingHandler{}, paho)
	err := client.PublishState(common.DroneState{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker gone")
}

func TestPublishVideoPacket(t *testing.T) {
	config := DefaultConfig()
	paho := &MockMQTTClient{}
	paho.On("IsConnected").Return(true)
	paho.On("Publish", config.VideoTopic, byte(0), false, "AAAAAWc=").Return(&mockToken{}).Once()

	client := NewWithClient(config, &recordingHandler{}, paho)
	require.NoError(t, client.PublishVideoPacket("AAAAAWc="))
	paho.AssertExpectations(t)
}

func TestPublishWhileDisconnected(t *testing.T) {
	paho := &MockMQTTClient{}
	paho.On("IsConnected").Return(false)
	client := NewWithClient(DefaultConfig(), &recordingHandler{}, paho)

	assert.ErrorIs(t, client.PublishVideoPacket("x"), ErrNotConnected)
	assert.ErrorIs(t, client.PublishTelemetry(common.TelemetrySnapshot{}), ErrNotConnected)
	assert.ErrorIs(t, client.PublishState(common.DroneState{}), ErrNotConnected)
	paho.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStart(t *testing.T) {
	tests := []struct {
		name    string
		done    bool
		err     error
		wantErr bool
	}{
		{"connected", true, nil, false},
		{"refused", true, errors.New("not authorized"), true},
		{"still connecting", false, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			token := &mockToken{}
			token.On("WaitTimeout", config.ConnectTimeout).Return(tt.done)
			token.On("Error").Return(tt.err)
			paho := &MockMQTTClient{}
			paho.On("Connect").Return(token).Once()

			err := NewWithClient(config, &recordingHandler{}, paho).Start()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "not authorized")
			} else {
				require.NoError(t, err)
			}
			paho.AssertExpectations(t)
		})
	}
}

func TestOnConnectSubscribes(t *testing.T) {
	config := DefaultConfig()
	paho := &MockMQTTClient{}
	paho.On("Subscribe", config.RequestTopic(), config.QoS, mock.Anything).Return(doneToken(nil)).Once()

	client := NewWithClient(config, &recordingHandler{}, paho)
	client.onConnectHandler(paho)

	paho.AssertExpectations(t)
}

func TestOnCommandReceived(t *testing.T) {
	config := DefaultConfig()
	handler := &recordingHandler{}
	paho := &MockMQTTClient{}
	paho.On("IsConnected").Return(true)
	paho.On("Unsubscribe", []string{config.RequestTopic()}).Return(doneToken(nil)).Once()
	paho.On("Disconnect", uint(1000)).Return()
	paho.On("Publish", config.ResponseTopic(), config.QoS, false, jsonPayload(func(m map[string]interface{}) bool {
		return m["correlation_id"] == "abc" && m["status"] == "success" && m["command"] == "takeoff"
	})).Return(doneToken(nil)).Once()

	client := NewWithClient(config, handler, paho)
	client.onCommandReceived(paho, &mockMQTTMessage{
		topic:   config.RequestTopic(),
		payload: []byte(`{"command":"takeoff","correlation_id":"abc"}`),
	})
	require.NoError(t, client.Stop())

	require.Len(t, handler.received, 1)
	assert.Equal(t, "takeoff", handler.received[0].Command)
	paho.AssertExpectations(t)
}

func TestOnCommandReceivedInvalidJSON(t *testing.T) {
	config := DefaultConfig()
	handler := &recordingHandler{}
	paho := &MockMQTTClient{}
	paho.On("IsConnected").Return(true)
	paho.On("Publish", config.ResponseTopic(), config.QoS, false, jsonPayload(func(m map[string]interface{}) bool {
		return m["status"] == "error" && strings.HasPrefix(m["error"].(string), "invalid request")
	})).Return(doneToken(nil)).Once()

	client := NewWithClient(config, handler, paho)
	client.onCommandReceived(paho, &mockMQTTMessage{topic: config.RequestTopic(), payload: []byte("{not json")})

	assert.Empty(t, handler.received)
	paho.AssertExpectations(t)
}

func TestStopDropsLateCommands(t *testing.T) {
	config := DefaultConfig()
	handler := &recordingHandler{}
	paho := &MockMQTTClient{}
	paho.On("IsConnected").Return(true)
	paho.On("Unsubscribe", []string{config.RequestTopic()}).Return(doneToken(nil)).Once()
	paho.On("Disconnect", uint(1000)).Return().Once()

	client := NewWithClient(config, handler, paho)
	require.NoError(t, client.Stop())

	client.onCommandReceived(paho, &mockMQTTMessage{
		topic:   config.RequestTopic(),
		payload: []byte(`{"command":"land","correlation_id":"late"}`),
	})
	client.wg.Wait()

	assert.Empty(t, handler.received)
	paho.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	paho.AssertExpectations(t)
}

func TestStopWhileDisconnectedSkipsUnsubscribe(t *testing.T) {
	paho := &MockMQTTClient{}
	paho.On("IsConnected").Return(false)

	client := NewWithClient(DefaultConfig(), &recordingHandler{}, paho)
	require.NoError(t, client.Stop())

	paho.AssertNotCalled(t, "Unsubscribe", mock.Anything)
	paho.AssertNotCalled(t, "Disconnect", mock.Anything)
}
