package valkey

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"maintlink/catalog"
	"maintlink/config"
	"maintlink/plcman"
	"maintlink/status"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type published struct {
	channel string
	msg     []byte
}

type fakeStore struct {
	mu     sync.Mutex
	kv     map[string][]byte
	ttl    map[string]time.Duration
	pubs   []published
	queue  chan []byte
	closed bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		kv:    make(map[string][]byte),
		ttl:   make(map[string]time.Duration),
		queue: make(chan []byte, 10),
	}
}

func (f *fakeStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kv[key] = append([]byte(nil), value...)
	f.ttl[key] = ttl
	return nil
}

func (f *fakeStore) Publish(ctx context.Context, channel string, msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubs = append(f.pubs, published{channel, append([]byte(nil), msg...)})
	return nil
}

func (f *fakeStore) Pop(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	select {
	case msg := <-f.queue:
		return msg, nil
	case <-ctx.Done():
		return nil, nil
	case <-time.After(timeout):
		return nil, nil
	}
}

func (f *fakeStore) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) Get(key string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kv[key]
}

func (f *fakeStore) Published(channel string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, p := range f.pubs {
		if p.channel == channel {
			out = append(out, p.msg)
		}
	}
	return out
}

type fakeCommander struct {
	mu    sync.Mutex
	calls []string
}

func (c *fakeCommander) record(s string) {
	c.mu.Lock()
	c.calls = append(c.calls, s)
	c.mu.Unlock()
}

func (c *fakeCommander) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *fakeCommander) Connect() { c.record("connect") }
func (c *fakeCommander) ConnectTo(host string) { c.record("connect " + host) }
func (c *fakeCommander) Reconnect() { c.record("reconnect") }
func (c *fakeCommander) Disconnect() { c.record("disconnect") }
func (c *fakeCommander) ToggleOutput(n string) { c.record("toggle " + n) }

func newTestPublisher(t *testing.T, cfg config.ValkeyConfig, cmd plcman.Commander) (*Publisher, *fakeStore) {
	t.Helper()
	cat := catalog.Default()
	p := NewPublisher(cfg, cmd, func(name string) bool {
		_, ok := cat.Output(name)
		return ok
	})
	fs := newFakeStore()
	p.mu.Lock()
	p.startLocked(fs)
	p.mu.Unlock()
	t.Cleanup(func() { p.Stop() })
	return p, fs
}

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "maintlink:status", joinKey("maintlink", "status"))
	assert.Equal(t, "a:b", joinKey(":a:", "", "b:"))
	assert.Equal(t, "status", joinKey("", "status"))
}

func TestLatestKeysAndEvents(t *testing.T) {
	cfg := config.DefaultConfig().Valkey
	cfg.KeyTTL = time.Minute
	p, fs := newTestPublisher(t, cfg, nil)

	hub := status.NewHub(status.DefaultCapacities())
	hub.Subscribe(p)
	hub.PublishStatus("PLC Lost Connection")
	hub.PublishSnapshot(status.Snapshot{Seq: 9})
	hub.TickSummary(time.Now())

	require.Eventually(t, func() bool {
		return len(fs.Published("maintlink:events")) == 3
	}, time.Second, time.Millisecond)

	var st status.StatusMessage
	require.NoError(t, json.Unmarshal(fs.Get("maintlink:status"), &st))
	assert.Equal(t, "PLC Lost Connection", st.Label)

	var snap status.Snapshot
	require.NoError(t, json.Unmarshal(fs.Get("maintlink:snapshot"), &snap))
	assert.Equal(t, uint64(9), snap.Seq)
	assert.NotNil(t, fs.Get("maintlink:stats"))
	assert.Equal(t, time.Minute, fs.ttl["maintlink:snapshot"])

	var types []string
	for _, msg := range fs.Published("maintlink:events") {
		var env Envelope
		require.NoError(t, json.Unmarshal(msg, &env))
		types = append(types, env.Type)
	}
	assert.Equal(t, []string{status.EventStatus, status.EventSnapshot, status.EventStats}, types)
}

func TestCommandQueue(t *testing.T) {
	cfg := config.DefaultConfig().Valkey
	cfg.EnableCommands = true
	cmd := &fakeCommander{}
	_, fs := newTestPublisher(t, cfg, cmd)

	fs.queue <- []byte(`{"action":"toggle","output":"clearForcing"}`)
	fs.queue <- []byte(`{"action":"toggle","output":"nope"}`)
	fs.queue <- []byte(`{"action":"disconnect"}`)

	require.Eventually(t, func() bool {
		return len(fs.Published("maintlink:commands:responses")) == 3
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, []string{"toggle clearForcing", "disconnect"}, cmd.Calls())

	var accepted []bool
	for _, msg := range fs.Published("maintlink:commands:responses") {
		var resp CommandResponse
		require.NoError(t, json.Unmarshal(msg, &resp))
		accepted = append(accepted, resp.Accepted)
	}
	assert.Equal(t, []bool{true, false, true}, accepted)
}

func TestCommandsDisabled(t *testing.T) {
	cmd := &fakeCommander{}
	_, fs := newTestPublisher(t, config.DefaultConfig().Valkey, cmd)
	fs.queue <- []byte(`{"action":"disconnect"}`)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, cmd.Calls())
}

func TestStopClosesStore(t *testing.T) {
	p, fs := newTestPublisher(t, config.DefaultConfig().Valkey, nil)
	require.NoError(t, p.Stop())
	assert.False(t, p.Alive())
	assert.True(t, fs.closed)
	require.NoError(t, p.Stop())
}

func TestAddress(t *testing.T) {
	cfg := config.ValkeyConfig{Address: "cache:6379"}
	assert.Equal(t, "redis://cache:6379", NewPublisher(cfg, nil, nil).Address())
	cfg.UseTLS = true
	assert.Equal(t, "rediss://cache:6379", NewPublisher(cfg, nil, nil).Address())
}
