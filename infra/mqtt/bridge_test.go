package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/slac/core/events"
	"github.com/kilianp07/slac/core/model"
	"github.com/kilianp07/slac/internal/eventbus"
)

func withMockClient(t *testing.T, mc *mockClient) {
	t.Helper()
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() {
		newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) }
	})
}

func waitPublished(t *testing.T, mc *mockClient, n int) []publication {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pubs := mc.publications(); len(pubs) >= n {
			return pubs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d publications, have %d", n, len(mc.publications()))
	return nil
}

func TestBridgeForwardsLifecycle(t *testing.T) {
	mc := &mockClient{}
	withMockClient(t, mc)

	bus := eventbus.New()
	defer bus.Close()
	b, err := NewBridge(Config{Broker: "tcp://localhost:1883", ClientID: "id"}, bus, nil)
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	defer b.Close()

	link := model.LinkIdentity{
		EV:      model.MACAddr{2, 0, 0, 0, 0, 1},
		Station: model.MACAddr{2, 0, 0, 0, 0, 2},
	}
	bus.Publish(events.SessionStarted{SessionID: "s1", Link: link})
	bus.Publish(events.Matched{SessionID: "s1", Link: link, NMK: [16]byte{9, 9, 9}})
	bus.Publish(events.Failed{SessionID: "s2", Link: link, Reason: "superseded"})

	pubs := waitPublished(t, mc, 3)
	if pubs[0].topic != "slac/session/started" {
		t.Errorf("topic: %s", pubs[0].topic)
	}
	if pubs[1].topic != "slac/session/matched" {
		t.Errorf("topic: %s", pubs[1].topic)
	}
	if strings.Contains(string(pubs[1].payload), "nmk") {
		t.Error("matched publication leaks key material")
	}
	var env map[string]any
	if err := json.Unmarshal(pubs[2].payload, &env); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if env["reason"] != "superseded" || env["session_id"] != "s2" {
		t.Errorf("failed payload: %v", env)
	}
}

type captureController struct {
	mu    sync.Mutex
	links []model.LinkIdentity
}

func (c *captureController) RequestAttempt(link model.LinkIdentity) {
	c.mu.Lock()
	c.links = append(c.links, link)
	c.mu.Unlock()
}

func TestBridgeCommand(t *testing.T) {
	mc := &mockClient{}
	withMockClient(t, mc)

	ctl := &captureController{}
	bus := eventbus.New()
	defer bus.Close()
	b, err := NewBridge(Config{Broker: "tcp://localhost:1883", ClientID: "id", CommandTopic: "slac/command"}, bus, ctl)
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	defer b.Close()

	if len(mc.subscribed) != 1 || mc.subscribed[0].topic != "slac/command" {
		t.Fatalf("command topic not subscribed: %+v", mc.subscribed)
	}

	b.onCommand(nil, mockMessage{[]byte(`{"ev_mac":"02:00:00:00:00:01","station_mac":"02:00:00:00:00:02"}`)})
	b.onCommand(nil, mockMessage{[]byte(`{"ev_mac":"garbage"}`)})

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if len(ctl.links) != 1 {
		t.Fatalf("attempts requested: %d", len(ctl.links))
	}
	if ctl.links[0].EV.String() != "02:00:00:00:00:01" {
		t.Errorf("link: %v", ctl.links[0])
	}
}

func TestBridgeRetryLogic(t *testing.T) {
	mc := &mockClient{publishErrs: []error{fmt.Errorf("net fail"), nil}}
	withMockClient(t, mc)

	bus := eventbus.New()
	defer bus.Close()
	b, err := NewBridge(Config{Broker: "tcp://localhost:1883", ClientID: "id", MaxRetries: 1, BackoffMS: 1}, bus, nil)
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	defer b.Close()

	bus.Publish(events.SessionStarted{SessionID: "s1"})
	waitPublished(t, mc, 2)
}

func TestLWTConfigured(t *testing.T) {
	mc := &mockClient{}
	withMockClient(t, mc)

	bus := eventbus.New()
	defer bus.Close()
	b, err := NewBridge(Config{Broker: "tcp://localhost:1883", ClientID: "id", LWTTopic: "lwt", LWTPayload: "bye", LWTQoS: 1}, bus, nil)
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	defer b.Close()

	if !mc.opts.WillEnabled {
		t.Fatalf("will not enabled")
	}
	if mc.opts.WillTopic != "lwt" || string(mc.opts.WillPayload) != "bye" {
		t.Fatalf("will options incorrect")
	}
}

func TestNewClientOptionsAuth(t *testing.T) {
	opts, err := NewClientOptions(Config{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("opts: %v", err)
	}
	if opts.Username != "u" || opts.Password != "p" {
		t.Fatalf("auth not set")
	}
}

// mockClient implements pahoClient for tests
type publication struct {
	topic   string
	payload []byte
}

type mockClient struct {
	mu   sync.Mutex
	opts *paho.ClientOptions

	subscribed []struct {
		topic string
		qos   byte
	}
	published   []publication
	publishErrs []error
}

func (m *mockClient) publications() []publication {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]publication, len(m.published))
	copy(out, m.published)
	return out
}

func (m *mockClient) IsConnected() bool { return true }
func (m *mockClient) Connect() paho.Token {
	if m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(m)
	}
	return &dummyToken{}
}
func (m *mockClient) Disconnect(uint) {}
func (m *mockClient) Publish(topic string, _ byte, _ bool, payload interface{}) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publication{topic, payload.([]byte)})
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return &dummyToken{err: err}
	}
	return &dummyToken{}
}
func (m *mockClient) Subscribe(topic string, qos byte, _ paho.MessageHandler) paho.Token {
	m.subscribed = append(m.subscribed, struct {
		topic string
		qos   byte
	}{topic, qos})
	return &dummyToken{}
}
func (m *mockClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &dummyToken{}
}
func (m *mockClient) Unsubscribe(...string) paho.Token        { return &dummyToken{} }
func (m *mockClient) AddRoute(string, paho.MessageHandler)    {}
func (m *mockClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }
func (m *mockClient) IsConnectionOpen() bool                  { return true }

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

type mockMessage struct{ p []byte }

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 0 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return "" }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.p }
func (m mockMessage) Ack()              {}
