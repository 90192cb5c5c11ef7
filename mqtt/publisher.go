// Package mqtt republishes the link status and decoded snapshots to an MQTT
// broker and accepts panel commands on a command topic.
package mqtt

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"maintlink/config"
	"maintlink/logging"
	"maintlink/plcman"
	"maintlink/status"
)

// CommandResponse is published on <root>/command/response.
type CommandResponse struct {
	Action    string `json:"action"`
	Output    string `json:"output,omitempty"`
	Accepted  bool   `json:"accepted"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// OutputValidator reports whether name is a writable output.
type OutputValidator func(name string) bool

const connectTimeout = 5 * time.Second

// sender delivers one message to the broker.
type sender func(topic string, retained bool, payload []byte) error

// Publisher holds one broker connection. Once started it is a status hub
// subscriber; hub callbacks are queued and published by a single worker.
type Publisher struct {
	config   config.MQTTConfig
	log      *zap.Logger
	client   pahomqtt.Client
	send     sender
	relay    *status.Relay
	cmd      plcman.Commander
	validate OutputValidator
	running  bool
	mu       sync.RWMutex

	// Last published snapshot body, for change detection.
	lastSnap []byte
}

// NewPublisher creates a publisher for cfg. cmd may be nil, in which case the
// command topic is not subscribed.
func NewPublisher(cfg config.MQTTConfig, cmd plcman.Commander, validate OutputValidator) *Publisher {
	return &Publisher{
		config:   cfg,
		log:      logging.Named("mqtt"),
		cmd:      cmd,
		validate: validate,
	}
}

// IsRunning returns whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Address returns the broker URL.
func (p *Publisher) Address() string {
	scheme := "tcp"
	if p.config.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, p.config.Broker, p.config.Port)
}

// Start connects to the broker and starts the publish worker.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(p.Address())
	if p.config.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetClientID(p.config.ClientID)
	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}
	// A failed first connect fails Start; only an established session
	// reconnects on its own.
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(30 * time.Second)
	// Retained bridge presence: online while connected, offline otherwise.
	opts.SetWill(p.topic("bridge"), "offline", 1, true)

	client := pahomqtt.NewClient(opts)
	logging.DebugLog("mqtt", "Attempting to connect to MQTT broker %s", p.Address())

	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		logging.DebugLog("mqtt", "MQTT connection timeout")
		client.Disconnect(0)
		return fmt.Errorf("mqtt connect %s: timeout", p.Address())
	}
	if err := token.Error(); err != nil {
		logging.DebugLog("mqtt", "MQTT connection error: %v", err)
		client.Disconnect(0)
		return fmt.Errorf("mqtt connect %s: %w", p.Address(), err)
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		client.Disconnect(100)
		return nil
	}
	p.client = client
	p.send = func(topic string, retained bool, payload []byte) error {
		t := client.Publish(topic, 1, retained, payload)
		if !t.WaitTimeout(5 * time.Second) {
			return errors.New("publish timeout")
		}
		return t.Error()
	}
	p.startLocked()
	p.mu.Unlock()

	p.publish(p.topic("bridge"), true, []byte("online"))
	p.subscribeCommands()
	p.log.Info("connected to MQTT broker", zap.String("broker", p.Address()))
	return nil
}

// startLocked resets change detection and starts the relay. p.mu is held.
func (p *Publisher) startLocked() {
	p.lastSnap = nil
	p.relay = status.NewRelay("mqtt", status.DefaultRelayQueue, p.handle)
	p.running = true
}

// Stop discards queued events, stops the worker and disconnects.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	relay, client := p.relay, p.client
	p.relay, p.client = nil, nil
	p.mu.Unlock()

	relay.Close()
	if client != nil {
		p.publish(p.topic("bridge"), true, []byte("offline"))
		client.Disconnect(500)
	}
}

func (p *Publisher) topic(suffix string) string {
	return p.config.RootTopic + "/" + suffix
}

func (p *Publisher) currentRelay() *status.Relay {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.relay
}

// Alive reports whether the publisher still wants hub events.
func (p *Publisher) Alive() bool { return p.IsRunning() }

func (p *Publisher) OnSnapshot(s status.Snapshot) {
	if r := p.currentRelay(); r != nil {
		r.OnSnapshot(s)
	}
}

func (p *Publisher) OnStatus(label string) {
	if r := p.currentRelay(); r != nil {
		r.OnStatus(label)
	}
}

func (p *Publisher) OnStats(u status.StatsUpdate) {
	if r := p.currentRelay(); r != nil {
		r.OnStats(u)
	}
}

// handle runs on the relay worker. Snapshots whose decoded content did not
// change since the last publish are skipped.
func (p *Publisher) handle(ev status.Event) {
	payload, err := json.Marshal(ev.Payload())
	if err != nil {
		p.log.Warn("marshal failed", zap.String("type", ev.Type), zap.Error(err))
		return
	}

	if ev.Type == status.EventSnapshot {
		body, err := json.Marshal(ev.Snapshot.Decoded)
		if err == nil {
			if bytes.Equal(body, p.lastSnap) {
				return
			}
			p.lastSnap = body
		}
	}

	p.publish(p.topic(ev.Type), ev.Type == status.EventStatus, payload)
}

func (p *Publisher) publish(topic string, retained bool, payload []byte) {
	p.mu.RLock()
	send := p.send
	p.mu.RUnlock()
	if send == nil {
		return
	}
	if err := send(topic, retained, payload); err != nil {
		logging.DebugLog("mqtt", "Publish to %s failed: %v", topic, err)
		return
	}
	logging.DebugLog("mqtt", "Published %d bytes to %s", len(payload), topic)
}

func (p *Publisher) subscribeCommands() {
	if p.cmd == nil || !p.config.EnableCommands {
		return
	}
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil {
		return
	}

	topic := p.topic("command")
	token := client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		p.handleCommand(msg.Payload())
	})
	if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
		p.log.Warn("command topic subscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
		return
	}
	logging.DebugLog("mqtt", "Subscribed to: %s", topic)
}

// handleCommand executes one <root>/command payload and publishes the
// response.
func (p *Publisher) handleCommand(payload []byte) {
	logging.DebugLog("mqtt", "Command payload: %s", string(payload))

	var cmd plcman.Command
	resp := CommandResponse{Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if err := json.Unmarshal(payload, &cmd); err != nil {
		resp.Error = fmt.Sprintf("invalid JSON: %v", err)
		p.respond(resp)
		return
	}
	resp.Action, resp.Output = cmd.Action, cmd.Output

	if err := plcman.Execute(p.cmd, cmd, p.validate); err != nil {
		resp.Error = err.Error()
	} else {
		resp.Accepted = true
	}
	p.respond(resp)
}

func (p *Publisher) respond(resp CommandResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	p.publish(p.topic("command/response"), false, data)
}
