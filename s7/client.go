package s7

import (
	"fmt"
	"sync"
	"time"

	"github.com/robinson/gos7"
)

// Client wraps one gos7 session to an S7 controller. A Client is never
// reconnected in place; callers create a new one for every attempt.
type Client struct {
	handler *gos7.TCPClientHandler
	client  gos7.Client
	address string
	rack    int
	slot    int
	closed  bool

	// gos7 clients are not safe for concurrent use.
	mu sync.Mutex
}

type options struct {
	rack    int
	slot    int
	timeout time.Duration
}

// Option is a functional option for Connect.
type Option func(*options)

// WithRackSlot configures the rack and slot of the CPU.
// S7-1200/1500 CPUs use rack 0 slot 1 (or 0); S7-300/400 usually slot 2.
func WithRackSlot(rack, slot int) Option {
	return func(o *options) {
		o.rack = rack
		o.slot = slot
	}
}

// WithTimeout configures the dial and request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// Connect opens a session to the controller at address (host:port).
func Connect(address string, opts ...Option) (*Client, error) {
	cfg := &options{
		rack:    0,
		slot:    1,
		timeout: 1500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := gos7.NewTCPClientHandler(address, cfg.rack, cfg.slot)
	handler.Timeout = cfg.timeout
	handler.IdleTimeout = 0

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}

	return &Client{
		handler: handler,
		client:  gos7.NewClient(handler),
		address: address,
		rack:    cfg.rack,
		slot:    cfg.slot,
	}, nil
}

// Close ends the session. Calling Close more than once is harmless.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.handler.Close()
}

// ConnectionMode returns a human-readable description of the session.
func (c *Client) ConnectionMode() string {
	if c == nil {
		return "Not connected"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "Disconnected"
	}
	return fmt.Sprintf("S7 %s (Rack %d, Slot %d)", c.address, c.rack, c.slot)
}

// ReadBlock reads size bytes of data block db starting at offset.
func (c *Client) ReadBlock(db, offset, size int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readBlockLocked(db, offset, size)
}

func (c *Client) readBlockLocked(db, offset, size int) ([]byte, error) {
	if c.closed {
		return nil, ErrNotConnected
	}
	buf := make([]byte, size)
	if err := c.client.AGReadDB(db, offset, size, buf); err != nil {
		return nil, &ReadError{DB: db, Offset: offset, Size: size, Err: err}
	}
	return buf, nil
}

// ReadItems reads every item with one block read per span and returns the
// decoded values keyed by Item.Key. Any failed span fails the whole batch.
func (c *Client) ReadItems(items []Item) (map[string]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	values := make(map[string]interface{}, len(items))
	for _, span := range Plan(items) {
		buf, err := c.readBlockLocked(span.DB, span.Offset, span.Size)
		if err != nil {
			return nil, err
		}
		for _, it := range span.Items {
			v, err := Decode(it, buf, span.Offset)
			if err != nil {
				return nil, err
			}
			values[it.Key] = v
		}
	}
	return values, nil
}

// WriteItem writes value to a single item. Bits are written by reading the
// containing byte, changing the bit and writing the byte back.
func (c *Client) WriteItem(it Item, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}

	if it.Kind == KindBit {
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%s: bit items take bool, got %T", it.Key, value)
		}
		cur, err := c.readBlockLocked(it.DB, it.Offset, 1)
		if err != nil {
			return err
		}
		data := []byte{SetBit(cur[0], it.Bit, v)}
		if err := c.client.AGWriteDB(it.DB, it.Offset, 1, data); err != nil {
			return fmt.Errorf("write %s: %w", it.Key, err)
		}
		return nil
	}

	data, err := Encode(it, value)
	if err != nil {
		return err
	}
	if err := c.client.AGWriteDB(it.DB, it.Offset, len(data), data); err != nil {
		return fmt.Errorf("write %s: %w", it.Key, err)
	}
	return nil
}

// CPUInfo contains identification data reported by the CPU.
type CPUInfo struct {
	ModuleTypeName string
	SerialNumber   string
	ASName         string
	Copyright      string
	ModuleName     string
}

// CPUInfo queries the identification block of the connected CPU.
func (c *Client) CPUInfo() (*CPUInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrNotConnected
	}
	info, err := c.client.GetCPUInfo()
	if err != nil {
		return nil, err
	}
	return &CPUInfo{
		ModuleTypeName: info.ModuleTypeName,
		SerialNumber:   info.SerialNumber,
		ASName:         info.ASName,
		Copyright:      info.Copyright,
		ModuleName:     info.ModuleName,
	}, nil
}
