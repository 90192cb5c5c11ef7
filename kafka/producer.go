package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"maintlink/config"
	"maintlink/logging"
	"maintlink/plcman"
	"maintlink/status"
)

// ConnectionStatus represents the state of the Kafka connection.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// OutputValidator reports whether name is a writable output.
type OutputValidator func(name string) bool

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher produces one message per hub event to the configured topic,
// keyed by event type so each type stays ordered within its partition.
type Publisher struct {
	config   config.KafkaConfig
	log      *zap.Logger
	writer   messageWriter
	relay    *status.Relay
	commands *commandConsumer
	cmd      plcman.Commander
	validate OutputValidator
	status   ConnectionStatus
	lastErr  error
	running  bool
	mu       sync.RWMutex

	// Stats
	messagesSent  int64
	messagesError int64
	lastSendTime  time.Time
}

// NewPublisher creates a publisher for cfg. cmd may be nil, in which case no
// command topic is consumed.
func NewPublisher(cfg config.KafkaConfig, cmd plcman.Commander, validate OutputValidator) *Publisher {
	return &Publisher{
		config:   cfg,
		log:      logging.Named("kafka"),
		cmd:      cmd,
		validate: validate,
		status:   StatusDisconnected,
	}
}

// GetStatus returns the current connection status.
func (p *Publisher) GetStatus() ConnectionStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// GetError returns the last error.
func (p *Publisher) GetError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// GetStats returns producer statistics.
func (p *Publisher) GetStats() (sent, errors int64, lastSend time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.messagesSent, p.messagesError, p.lastSendTime
}

// IsRunning returns whether the publisher is started.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Address returns the configured broker list.
func (p *Publisher) Address() string {
	return strings.Join(p.config.Brokers, ",")
}

// Start verifies that a broker is reachable, then starts the producer and,
// when configured, the command consumer.
func (p *Publisher) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	if len(p.config.Brokers) == 0 {
		p.mu.Unlock()
		return errors.New("kafka: no brokers configured")
	}
	p.status = StatusConnecting
	p.lastErr = nil
	p.mu.Unlock()

	logging.DebugLog("kafka", "CONNECT: connecting to brokers %v", p.config.Brokers)
	if err := p.testConnection(); err != nil {
		p.mu.Lock()
		p.status = StatusError
		p.lastErr = err
		p.mu.Unlock()
		logging.DebugLog("kafka", "CONNECT: FAILED - %v", err)
		return err
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(p.config.Brokers...),
		Balancer:     &kafka.Hash{},
		Transport:    newTransport(p.config),
		RequiredAcks: kafka.RequiredAcks(p.config.RequiredAcks),
		Async:        false,
		MaxAttempts:  3,

		BatchSize:    100,
		BatchBytes:   1048576,
		BatchTimeout: 10 * time.Millisecond,

		AllowAutoTopicCreation: true,
	}

	var reader messageReader
	if p.cmd != nil && p.config.CommandTopic != "" {
		reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:        p.config.Brokers,
			Topic:          p.config.CommandTopic,
			GroupID:        p.config.ConsumerGroup,
			MinBytes:       1,
			MaxBytes:       1e6,
			MaxWait:        100 * time.Millisecond,
			StartOffset:    kafka.LastOffset,
			CommitInterval: time.Second,
			Dialer:         newDialer(p.config),
		})
	}

	p.mu.Lock()
	p.startLocked(writer, reader)
	p.mu.Unlock()

	p.log.Info("connected to Kafka", zap.Strings("brokers", p.config.Brokers), zap.String("topic", p.config.Topic))
	return nil
}

// startLocked installs the writer and starts the workers. p.mu is held.
func (p *Publisher) startLocked(w messageWriter, r messageReader) {
	p.writer = w
	p.relay = status.NewRelay("kafka", status.DefaultRelayQueue, p.handle)
	if r != nil {
		p.commands = newCommandConsumer(p, r)
		p.commands.start()
	}
	p.status = StatusConnected
	p.running = true
}

// Stop stops the workers and closes the writer and reader.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	relay, commands := p.relay, p.commands
	p.relay, p.commands = nil, nil
	p.mu.Unlock()

	relay.Close()
	if commands != nil {
		commands.stop()
	}

	p.mu.Lock()
	w := p.writer
	p.writer = nil
	p.status = StatusDisconnected
	p.lastErr = nil
	p.mu.Unlock()

	logging.DebugLog("kafka", "DISCONNECT: closing writer")
	return w.Close()
}

// testConnection dials each broker in turn until one answers a controller
// lookup.
func (p *Publisher) testConnection() error {
	dialer := newDialer(p.config)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var lastErr error
	for _, broker := range p.config.Brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.Controller()
		conn.Close()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("kafka: no broker reachable: %w", lastErr)
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

// handle runs on the relay worker.
func (p *Publisher) handle(ev status.Event) {
	value, err := json.Marshal(ev.Payload())
	if err != nil {
		p.log.Warn("marshal failed", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	p.produce(kafka.Message{
		Topic: p.config.Topic,
		Key:   []byte(ev.Type),
		Value: value,
		Time:  ev.At,
	})
}

// produce writes one message synchronously and updates the counters.
func (p *Publisher) produce(msg kafka.Message) error {
	p.mu.RLock()
	w := p.writer
	p.mu.RUnlock()
	if w == nil {
		return errors.New("kafka: publisher stopped")
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := w.WriteMessages(ctx, msg)
	cancel()
	if d := time.Since(start); d > 100*time.Millisecond {
		logging.DebugLog("kafka", "PRODUCE: topic '%s' took %v", msg.Topic, d)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.messagesError++
		p.lastErr = err
		if strings.Contains(err.Error(), "Unknown Topic") {
			logging.DebugLog("kafka", "TOPIC: topic '%s' not found on broker", msg.Topic)
		}
		logging.DebugLog("kafka", "PRODUCE: FAILED topic '%s': %v", msg.Topic, err)
		return fmt.Errorf("kafka produce failed: %w", err)
	}
	p.messagesSent++
	p.lastSendTime = time.Now()
	p.lastErr = nil
	return nil
}
