package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liftgateway/pkg/lift"
)

type fakeToken struct{}

func (fakeToken) Wait() bool                     { return true }
func (fakeToken) WaitTimeout(time.Duration) bool { return true }
func (fakeToken) Error() error                   { return nil }
func (fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// pendingToken never completes, like a connect that keeps retrying against an
// unreachable broker or a publish whose ack never arrives.
type pendingToken struct{ fakeToken }

func (pendingToken) WaitTimeout(time.Duration) bool { return false }
func (pendingToken) Done() <-chan struct{}          { return make(chan struct{}) }

type failedToken struct {
	fakeToken
	err error
}

func (t failedToken) Error() error { return t.err }

type publishRecord struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

type fakeMQTT struct {
	mu            sync.Mutex
	published     []publishRecord
	subscriptions map[string]mqtt.MessageHandler
	disconnected  bool

	// token overrides; nil means immediate success
	connectToken mqtt.Token
	publishToken mqtt.Token
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{subscriptions: map[string]mqtt.MessageHandler{}}
}

func (f *fakeMQTT) IsConnected() bool      { return true }
func (f *fakeMQTT) IsConnectionOpen() bool { return true }

func (f *fakeMQTT) Connect() mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectToken != nil {
		return f.connectToken
	}
	return fakeToken{}
}

func (f *fakeMQTT) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body string
	switch p := payload.(type) {
	case string:
		body = p
	case []byte:
		body = string(p)
	default:
		body = fmt.Sprintf("%v", p)
	}
	f.published = append(f.published, publishRecord{topic: topic, qos: qos, retained: retained, payload: body})
	if f.publishToken != nil {
		return f.publishToken
	}
	return fakeToken{}
}

func (f *fakeMQTT) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[topic] = callback
	return fakeToken{}
}

func (f *fakeMQTT) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return fakeToken{}
}

func (f *fakeMQTT) Unsubscribe(...string) mqtt.Token        { return fakeToken{} }
func (f *fakeMQTT) AddRoute(string, mqtt.MessageHandler)    {}
func (f *fakeMQTT) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (f *fakeMQTT) records() []publishRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishRecord(nil), f.published...)
}

func (f *fakeMQTT) find(topic string) (publishRecord, bool) {
	for _, r := range f.records() {
		if r.topic == topic {
			return r, true
		}
	}
	return publishRecord{}, false
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func testConfig() Config {
	return Config{
		Host:       "broker.local",
		Transport:  TransportTCP,
		ID:         "desk1",
		Name:       "Desk",
		Prefix:     "desk",
		HassPrefix: "homeassistant",
	}
}

func newTestCoordinator(cfg Config) (*Coordinator, chan lift.Command, chan float64) {
	commands := make(chan lift.Command, 2)
	heights := make(chan float64, 1)
	return New(cfg, commands, heights), commands, heights
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		payload string
		want    lift.Command
		ok      bool
	}{
		{"1", lift.Preset1, true},
		{"2", lift.Preset2, true},
		{"3", lift.Preset3, true},
		{"4", lift.Preset4, true},
		{"REFRESH", lift.Refresh, true},
		{"5", 0, false},
		{"refresh", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseCommand([]byte(tc.payload))
		assert.Equal(t, tc.ok, ok, "payload %q", tc.payload)
		if ok {
			assert.Equal(t, tc.want, got, "payload %q", tc.payload)
		}
	}
}

func TestHandleCommandDropsOldest(t *testing.T) {
	c, commands, _ := newTestCoordinator(testConfig())

	c.handleCommand(nil, fakeMessage{payload: []byte("1")})
	c.handleCommand(nil, fakeMessage{payload: []byte("2")})
	c.handleCommand(nil, fakeMessage{payload: []byte("garbage")})
	c.handleCommand(nil, fakeMessage{payload: []byte("3")})

	require.Len(t, commands, 2)
	assert.Equal(t, lift.Preset2, <-commands)
	assert.Equal(t, lift.Preset3, <-commands)
}

func TestClientOptions(t *testing.T) {
	c, _, _ := newTestCoordinator(testConfig())
	opts := c.clientOptions()

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://broker.local:1883", opts.Servers[0].String())
	assert.Equal(t, "desk/desk1/connected", opts.WillTopic)
	assert.Equal(t, []byte(payloadOff), opts.WillPayload)
	assert.True(t, opts.WillRetained)
	assert.True(t, opts.ConnectRetry)
	assert.Equal(t, time.Second, opts.ConnectRetryInterval)
	assert.Contains(t, opts.ClientID, "desk1-")
}

func TestClientOptionsTLSDefaultsAndCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.Transport = TransportTLS
	cfg.Username = "lift"
	cfg.Password = "secret"
	c, _, _ := newTestCoordinator(cfg)
	opts := c.clientOptions()

	assert.Equal(t, "ssl://broker.local:8883", opts.Servers[0].String())
	assert.Equal(t, "lift", opts.Username)
	assert.Equal(t, "secret", opts.Password)

	cfg.Port = 18883
	c, _, _ = newTestCoordinator(cfg)
	assert.Equal(t, "ssl://broker.local:18883", c.clientOptions().Servers[0].String())
}

func TestIssueRepublishesPresenceOnEveryConnect(t *testing.T) {
	c, _, heights := newTestCoordinator(testConfig())
	client := newFakeMQTT()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.issue(ctx, client) }()

	c.onConnect(client)
	assert.Eventually(t, func() bool {
		r, ok := client.find("desk/desk1/connected")
		return ok && r.payload == payloadOn && r.retained
	}, 2*time.Second, 5*time.Millisecond)

	client.mu.Lock()
	_, subscribed := client.subscriptions["desk/desk1/command"]
	client.mu.Unlock()
	assert.True(t, subscribed)

	heights <- 28.5
	assert.Eventually(t, func() bool {
		r, ok := client.find("desk/desk1/height")
		return ok && r.payload == "28.5" && r.retained
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRunPublishesDiscovery(t *testing.T) {
	c, _, _ := newTestCoordinator(testConfig())
	client := newFakeMQTT()
	c.newClient = func(*mqtt.ClientOptions) mqtt.Client { return client }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	wantTopics := []string{
		"homeassistant/binary_sensor/desk1_connected/config",
		"homeassistant/sensor/desk1_height/config",
		"homeassistant/button/desk1_preset_1/config",
		"homeassistant/button/desk1_preset_2/config",
		"homeassistant/button/desk1_preset_3/config",
		"homeassistant/button/desk1_preset_4/config",
		"homeassistant/button/desk1_refresh/config",
	}
	assert.Eventually(t, func() bool {
		for _, topic := range wantTopics {
			if _, ok := client.find(topic); !ok {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	height, _ := client.find("homeassistant/sensor/desk1_height/config")
	assert.JSONEq(t, `{
		"name": "Desk Height",
		"state_topic": "desk/desk1/height",
		"unit_of_measurement": "in",
		"availability": [{
			"topic": "desk/desk1/connected",
			"payload_available": "ON",
			"payload_not_available": "OFF"
		}],
		"icon": "mdi:human-male-height"
	}`, height.payload)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.True(t, client.disconnected)
}

func TestRunStopsWhileConnectPending(t *testing.T) {
	c, _, _ := newTestCoordinator(testConfig())
	client := newFakeMQTT()
	client.connectToken = pendingToken{}
	c.newClient = func(*mqtt.ClientOptions) mqtt.Client { return client }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.True(t, client.disconnected)
}

func TestIssueSurvivesPublishFailures(t *testing.T) {
	c, _, heights := newTestCoordinator(testConfig())
	client := newFakeMQTT()
	client.publishToken = failedToken{err: errors.New("puback refused")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.issue(ctx, client) }()

	// presence publish fails outright
	c.onConnect(client)
	assert.Eventually(t, func() bool {
		_, ok := client.find("desk/desk1/connected")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	// the next publish never gets its ack
	client.mu.Lock()
	client.publishToken = pendingToken{}
	client.mu.Unlock()
	heights <- 28.5

	// the loop keeps serving after both failure modes
	heights <- 29.0
	assert.Eventually(t, func() bool {
		heightRecords := 0
		for _, r := range client.records() {
			if r.topic == "desk/desk1/height" {
				heightRecords++
			}
		}
		return heightRecords == 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRunSkipsDiscoveryWithoutPrefix(t *testing.T) {
	cfg := testConfig()
	cfg.HassPrefix = ""
	c, _, _ := newTestCoordinator(cfg)
	client := newFakeMQTT()
	c.newClient = func(*mqtt.ClientOptions) mqtt.Client { return client }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	c.onConnect(client)

	assert.Eventually(t, func() bool {
		_, ok := client.find("desk/desk1/connected")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	for _, r := range client.records() {
		assert.NotContains(t, r.topic, "homeassistant/")
	}

	cancel()
	<-done
}
