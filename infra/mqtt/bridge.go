// Package mqtt bridges the matching lifecycle onto an MQTT broker: lifecycle
// events are published as JSON and matching attempts can be requested through
// a command topic.
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/slac/core/events"
	"github.com/kilianp07/slac/core/model"
	"github.com/kilianp07/slac/infra/logger"
	"github.com/kilianp07/slac/internal/eventbus"
)

// Config defines the connection parameters for the Paho MQTT client.
type Config struct {
	Broker     string      `json:"broker"`
	ClientID   string      `json:"client_id"`
	Username   string      `json:"username"`
	Password   string      `json:"password"`
	UseTLS     bool        `json:"use_tls"`
	ClientCert string      `json:"client_cert"`
	ClientKey  string      `json:"client_key"`
	CABundle   string      `json:"ca_bundle"`
	AuthMethod string      `json:"auth_method"`
	QoS        byte        `json:"qos"`
	LWTTopic   string      `json:"lwt_topic"`
	LWTPayload string      `json:"lwt_payload"`
	LWTQoS     byte        `json:"lwt_qos"`
	LWTRetain  bool        `json:"lwt_retain"`
	MaxRetries int         `json:"max_retries"`
	BackoffMS  int         `json:"backoff_ms"`
	// TopicPrefix roots the lifecycle topics; defaults to "slac".
	TopicPrefix string `json:"topic_prefix"`
	// CommandTopic carries start-attempt requests; empty disables commands.
	CommandTopic string      `json:"command_topic"`
	TLSConfig    *tls.Config `json:"-"`
}

// SessionController is the slice of the application the bridge drives on an
// inbound command.
type SessionController interface {
	RequestAttempt(link model.LinkIdentity)
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Bridge publishes matching lifecycle events and consumes attempt commands.
type Bridge struct {
	cli        pahoClient
	cfg        Config
	ctl        SessionController
	sub        <-chan eventbus.Event
	bus        eventbus.EventBus
	log        logger.Logger
	maxRetries int
	backoff    time.Duration
	done       chan struct{}
}

// NewBridge connects to the broker and subscribes to the command topic. ctl
// may be nil when the deployment only publishes events.
func NewBridge(cfg Config, bus eventbus.EventBus, ctl SessionController) (*Bridge, error) {
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "slac"
	}

	log := logger.New("mqtt_bridge")
	b := &Bridge{
		cfg:        cfg,
		ctl:        ctl,
		bus:        bus,
		log:        log,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		done:       make(chan struct{}),
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		if cfg.CommandTopic == "" || b.ctl == nil {
			return
		}
		if token := c.Subscribe(cfg.CommandTopic, cfg.QoS, b.onCommand); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	b.cli = c

	b.sub = bus.Subscribe()
	go b.pump()
	return b, nil
}

// NewClientOptions builds mqtt client options from Config.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}
	return cfg, nil
}

func (b *Bridge) onCommand(_ paho.Client, msg paho.Message) {
	var m struct {
		EVMac      string `json:"ev_mac"`
		StationMac string `json:"station_mac"`
	}
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		b.log.Errorf("failed to decode command: %v", err)
		return
	}
	ev, err := model.ParseMAC(m.EVMac)
	if err != nil {
		b.log.Errorf("command ev_mac: %v", err)
		return
	}
	station, err := model.ParseMAC(m.StationMac)
	if err != nil {
		b.log.Errorf("command station_mac: %v", err)
		return
	}
	b.log.Infof("attempt requested for %s", model.LinkIdentity{EV: ev, Station: station})
	b.ctl.RequestAttempt(model.LinkIdentity{EV: ev, Station: station})
}

// pump forwards lifecycle events from the bus to the broker until the
// subscription channel closes or the bridge shuts down.
func (b *Bridge) pump() {
	for {
		select {
		case e, ok := <-b.sub:
			if !ok {
				return
			}
			b.forward(e)
		case <-b.done:
			return
		}
	}
}

func (b *Bridge) forward(e eventbus.Event) {
	topic, payload, ok := marshalEvent(b.cfg.TopicPrefix, e)
	if !ok {
		return
	}
	b.publish(topic, payload)
}

func (b *Bridge) publish(topic string, payload []byte) {
	retries := b.maxRetries
	if retries <= 0 {
		retries = 3
	}
	backoff := b.backoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	var publishErr error
	for attempt := 0; attempt <= retries; attempt++ {
		token := b.cli.Publish(topic, b.cfg.QoS, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			b.log.Debugf("published %s", topic)
			return
		}
		b.log.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		time.Sleep(backoff * time.Duration(1<<attempt))
	}
}

// Close stops forwarding and disconnects from the broker.
func (b *Bridge) Close() {
	close(b.done)
	if b.bus != nil {
		b.bus.Unsubscribe(b.sub)
	}
	if b.cli != nil && b.cli.IsConnected() {
		b.cli.Disconnect(250)
	}
}

// sessionEnvelope is the common JSON shape of lifecycle publications. The
// network membership key of a matched session is a secret and is never part
// of a publication.
type sessionEnvelope struct {
	SessionID string `json:"session_id"`
	EVMac     string `json:"ev_mac"`
	StationMc string `json:"station_mac"`
	RunID     string `json:"run_id"`
	Reason    string `json:"reason,omitempty"`
	AtState   string `json:"at_state,omitempty"`
	Timer     string `json:"timer,omitempty"`
	Samples   int    `json:"samples,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func envelope(id model.SessionID, link model.LinkIdentity, runID model.RunID) sessionEnvelope {
	return sessionEnvelope{
		SessionID: string(id),
		EVMac:     link.EV.String(),
		StationMc: link.Station.String(),
		RunID:     runID.String(),
		Timestamp: time.Now().UnixMilli(),
	}
}

func marshalEvent(prefix string, e eventbus.Event) (string, []byte, bool) {
	var (
		topic string
		env   sessionEnvelope
	)
	switch ev := e.(type) {
	case events.SessionStarted:
		topic = TopicStarted(prefix)
		env = envelope(ev.SessionID, ev.Link, ev.RunID)
	case events.AttenuationProfileReady:
		topic = TopicProfile(prefix)
		env = envelope(ev.SessionID, ev.Link, ev.RunID)
		env.Samples = ev.Profile.Samples
	case events.Matched:
		topic = TopicMatched(prefix)
		env = envelope(ev.SessionID, ev.Link, ev.RunID)
	case events.Failed:
		topic = TopicFailed(prefix)
		env = envelope(ev.SessionID, ev.Link, ev.RunID)
		env.Reason = ev.Reason
	case events.TimedOut:
		topic = TopicTimedOut(prefix)
		env = envelope(ev.SessionID, ev.Link, ev.RunID)
		env.AtState = ev.AtState
		env.Timer = ev.Timer
	default:
		return "", nil, false
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", nil, false
	}
	return topic, payload, true
}
