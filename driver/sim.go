package driver

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"maintlink/catalog"
	"maintlink/config"
	"maintlink/s7"
)

// Simulator is an in-process controller holding the panel data blocks.
// Values written through one endpoint are visible to later endpoints.
//
// The program it runs is minimal: AI0 follows a slow sine over the 0-27648
// raw range, the emergency-stop fault mirrors digital input A0, and a
// fault reset clears the fault block and releases itself.
type Simulator struct {
	mu     sync.Mutex
	blocks map[int][]byte
	start  time.Time
	now    func() time.Time
	fail   error
}

var (
	defaultSim     *Simulator
	defaultSimOnce sync.Once
)

// DefaultSimulator returns the process-wide simulator used by the sim family.
func DefaultSimulator() *Simulator {
	defaultSimOnce.Do(func() { defaultSim = NewSimulator() })
	return defaultSim
}

// NewSimulator returns a simulator with the panel blocks allocated.
func NewSimulator() *Simulator {
	s := &Simulator{
		blocks: map[int][]byte{
			catalog.IOBlock:    make([]byte, 80),
			catalog.FaultBlock: make([]byte, 2),
		},
		now: time.Now,
	}
	s.start = s.now()
	s.mustSet("DB1,REAL36", float32(0))
	s.mustSet("DB1,REAL40", float32(100.0/27648))
	s.mustSet("DB1,REAL50", float32(0))
	s.mustSet("DB1,REAL54", float32(10.0/27648))
	return s
}

// SetFailure makes every dial and endpoint operation fail with err until
// cleared with nil.
func (s *Simulator) SetFailure(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

// Set writes a value directly into the simulated memory.
func (s *Simulator) Set(addr string, value interface{}) error {
	it, err := s7.ParseItem(addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(it, value)
}

// Get reads a value directly from the simulated memory.
func (s *Simulator) Get(addr string) (interface{}, error) {
	it, err := s7.ParseItem(addr)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	blk, ok := s.blocks[it.DB]
	if !ok {
		return nil, fmt.Errorf("DB%d does not exist", it.DB)
	}
	return s7.Decode(it, blk, 0)
}

func (s *Simulator) mustSet(addr string, value interface{}) {
	if err := s.Set(addr, value); err != nil {
		panic(err)
	}
}

func (s *Simulator) writeLocked(it s7.Item, value interface{}) error {
	blk, ok := s.blocks[it.DB]
	if !ok {
		return fmt.Errorf("DB%d does not exist", it.DB)
	}
	return patch(blk, 0, it, value)
}

// scan runs one cycle of the simulated program. Must be called with s.mu held.
func (s *Simulator) scan() {
	io := s.blocks[catalog.IOBlock]
	faults := s.blocks[catalog.FaultBlock]

	elapsed := s.now().Sub(s.start).Seconds()
	raw := int16(13824 + 13823*math.Sin(2*math.Pi*elapsed/60))
	_ = patch(io, 0, s7.MustParseItem("DB1,INT30"), raw)
	scalar, _ := s7.Decode(s7.MustParseItem("DB1,REAL40"), io, 0)
	offset, _ := s7.Decode(s7.MustParseItem("DB1,REAL36"), io, 0)
	scaled := float32(raw)*scalar.(float32) + offset.(float32)
	_ = patch(io, 0, s7.MustParseItem("DB1,REAL32"), scaled)

	if io[0]&0x02 != 0 {
		faults[0], faults[1] = 0, 0
		io[0] &^= 0x02
	}
	faults[0] = s7.SetBit(faults[0], 0, io[2]&0x01 != 0)
}

// Dial opens a session to the simulator.
func (s *Simulator) Dial(ctx context.Context, cfg config.PLCConfig) (Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	return &simEndpoint{sim: s, host: cfg.Host}, nil
}

type simEndpoint struct {
	sim    *Simulator
	host   string
	closed atomic.Bool
}

func (e *simEndpoint) check(ctx context.Context) error {
	if e.closed.Load() {
		return s7.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.sim.fail
}

func (e *simEndpoint) Read(ctx context.Context, items []s7.Item) (map[string]interface{}, error) {
	e.sim.mu.Lock()
	defer e.sim.mu.Unlock()
	if err := e.check(ctx); err != nil {
		return nil, err
	}
	e.sim.scan()

	values := make(map[string]interface{}, len(items))
	for _, it := range items {
		blk, ok := e.sim.blocks[it.DB]
		if !ok {
			return nil, fmt.Errorf("DB%d does not exist", it.DB)
		}
		v, err := s7.Decode(it, blk, 0)
		if err != nil {
			return nil, err
		}
		values[it.Key] = v
	}
	return values, nil
}

func (e *simEndpoint) Write(ctx context.Context, item s7.Item, value interface{}) error {
	e.sim.mu.Lock()
	defer e.sim.mu.Unlock()
	if err := e.check(ctx); err != nil {
		return err
	}
	return e.sim.writeLocked(item, value)
}

func (e *simEndpoint) Close() error {
	e.closed.Store(true)
	return nil
}

func (e *simEndpoint) ConnectionMode() string {
	return "Simulated controller (" + e.host + ")"
}
