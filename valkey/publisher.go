// Package valkey mirrors the link status into Valkey/Redis keys, announces
// every change on a pub/sub channel and optionally pops panel commands from a
// list.
package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"maintlink/config"
	"maintlink/logging"
	"maintlink/plcman"
	"maintlink/status"
)

// joinKey joins key segments with colons, trimming leading/trailing colons
// from each segment to avoid empty key parts (e.g., "foo::bar" or ":foo:bar:").
func joinKey(segments ...string) string {
	var parts []string
	for _, s := range segments {
		s = strings.Trim(s, ":")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ":")
}

// Envelope is the message published on <prefix>:events.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// CommandResponse is published on <prefix>:commands:responses.
type CommandResponse struct {
	plcman.Command
	Accepted  bool      `json:"accepted"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// store is the subset of the Redis API the publisher needs.
type store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Publish(ctx context.Context, channel string, msg []byte) error
	// Pop blocks up to timeout for the head of list key. It returns nil, nil
	// when the wait times out.
	Pop(ctx context.Context, key string, timeout time.Duration) ([]byte, error)
	Close() error
}

type redisStore struct {
	client *redis.Client
}

func (r redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r redisStore) Publish(ctx context.Context, channel string, msg []byte) error {
	return r.client.Publish(ctx, channel, msg).Err()
}

func (r redisStore) Pop(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	result, err := r.client.BLPop(ctx, timeout, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	return []byte(result[1]), nil
}

func (r redisStore) Close() error { return r.client.Close() }

// Publisher holds one Valkey connection. Once started it is a status hub
// subscriber.
type Publisher struct {
	config   config.ValkeyConfig
	log      *zap.Logger
	store    store
	relay    *status.Relay
	cmd      plcman.Commander
	validate func(name string) bool
	running  bool
	mu       sync.RWMutex

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPublisher creates a publisher for cfg. Commands are only consumed when
// cfg.EnableCommands is set and cmd is not nil.
func NewPublisher(cfg config.ValkeyConfig, cmd plcman.Commander, validate func(name string) bool) *Publisher {
	return &Publisher{
		config:   cfg,
		log:      logging.Named("valkey"),
		cmd:      cmd,
		validate: validate,
	}
}

// Start connects to the server and starts the workers.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	opts := &redis.Options{
		Addr:         p.config.Address,
		Password:     p.config.Password,
		DB:           p.config.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
	if p.config.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)
	logging.DebugLog("valkey", "Attempting to connect to Valkey at %s (DB: %d, TLS: %v)",
		p.config.Address, p.config.Database, p.config.UseTLS)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("failed to connect to Valkey at %s: %w", p.config.Address, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		client.Close()
		return nil
	}
	p.startLocked(redisStore{client: client})
	p.log.Info("connected to Valkey", zap.String("address", p.Address()))
	return nil
}

// startLocked starts the relay and the command listener on s. p.mu is held.
func (p *Publisher) startLocked(s store) {
	p.store = s
	p.stopChan = make(chan struct{})
	p.relay = status.NewRelay("valkey", status.DefaultRelayQueue, p.handle)
	p.running = true

	if p.config.EnableCommands && p.cmd != nil {
		p.wg.Add(1)
		go p.commandListener(s, p.stopChan)
	}
}

// Stop stops the workers and closes the connection.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopChan)
	relay, s := p.relay, p.store
	p.relay = nil
	p.mu.Unlock()

	relay.Close()
	p.wg.Wait()
	return s.Close()
}

// IsRunning returns whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Address returns the server address.
func (p *Publisher) Address() string {
	scheme := "redis"
	if p.config.UseTLS {
		scheme = "rediss"
	}
	return fmt.Sprintf("%s://%s", scheme, p.config.Address)
}

func (p *Publisher) currentRelay() *status.Relay {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.relay
}

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

// handle stores the latest value of the event type under <prefix>:<type>
// and publishes it on <prefix>:events.
func (p *Publisher) handle(ev status.Event) {
	p.mu.RLock()
	s := p.store
	p.mu.RUnlock()

	data, err := json.Marshal(ev.Payload())
	if err != nil {
		p.log.Warn("marshal failed", zap.String("type", ev.Type), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := joinKey(p.config.Prefix, ev.Type)
	if err := s.Set(ctx, key, data, p.config.KeyTTL); err != nil {
		logging.DebugLog("valkey", "SET %s failed: %v", key, err)
		return
	}

	env, err := json.Marshal(Envelope{Type: ev.Type, Data: data, Timestamp: ev.At.UTC()})
	if err != nil {
		return
	}
	channel := joinKey(p.config.Prefix, "events")
	if err := s.Publish(ctx, channel, env); err != nil {
		logging.DebugLog("valkey", "PUBLISH %s failed: %v", channel, err)
	}
}

// commandListener pops commands from <prefix>:commands until stopped.
func (p *Publisher) commandListener(s store, stop <-chan struct{}) {
	defer p.wg.Done()

	queueKey := joinKey(p.config.Prefix, "commands")
	responseChannel := joinKey(p.config.Prefix, "commands", "responses")

	for {
		select {
		case <-stop:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
		payload, err := s.Pop(ctx, queueKey, time.Second)
		cancel()
		if err != nil {
			logging.DebugLog("valkey", "Valkey command queue error: %v", err)
			select {
			case <-stop:
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if payload == nil {
			continue
		}
		p.processCommand(s, payload, responseChannel)
	}
}

func (p *Publisher) processCommand(s store, payload []byte, responseChannel string) {
	resp := CommandResponse{Timestamp: time.Now().UTC()}
	if err := json.Unmarshal(payload, &resp.Command); err != nil {
		resp.Error = fmt.Sprintf("invalid JSON: %v", err)
	} else if err := plcman.Execute(p.cmd, resp.Command, p.validate); err != nil {
		resp.Error = err.Error()
	} else {
		resp.Accepted = true
	}

	data, _ := json.Marshal(resp)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Publish(ctx, responseChannel, data); err != nil {
		logging.DebugLog("valkey", "PUBLISH %s failed: %v", responseChannel, err)
	}
	logging.DebugLog("valkey", "Valkey command %s -> accepted=%v", resp.Action, resp.Accepted)
}
