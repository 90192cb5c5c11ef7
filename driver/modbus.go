package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/goburrow/modbus"

	"maintlink/config"
	"maintlink/logging"
	"maintlink/s7"
)

// ModbusEndpoint reaches the data blocks through a Modbus TCP gateway that
// exposes each block as a run of holding registers, two block bytes per
// register, high byte first.
type ModbusEndpoint struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
	blocks  map[int]int
	address string
}

// DialModbus connects to the gateway at cfg.Address.
func DialModbus(ctx context.Context, cfg config.PLCConfig) (Endpoint, error) {
	if len(cfg.Blocks) == 0 {
		return nil, fmt.Errorf("modbus: no data block register mapping configured")
	}
	addr := cfg.Address()
	logging.DebugConnect("modbus", addr)

	h := modbus.NewTCPClientHandler(addr)
	h.Timeout = cfg.Timeout
	h.SlaveId = cfg.UnitID
	if err := h.Connect(); err != nil {
		logging.DebugConnectError("modbus", addr, err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		_ = h.Close()
		return nil, err
	}

	logging.DebugConnectSuccess("modbus", addr, fmt.Sprintf("unit %d", cfg.UnitID))
	return &ModbusEndpoint{
		handler: h,
		client:  modbus.NewClient(h),
		blocks:  cfg.Blocks,
		address: addr,
	}, nil
}

// registerWindow returns the first holding register and register count that
// cover bytes [offset, offset+size) of db, and the block offset of the first
// byte the window returns.
func registerWindow(blocks map[int]int, db, offset, size int) (first, qty uint16, base int, err error) {
	start, ok := blocks[db]
	if !ok {
		return 0, 0, 0, fmt.Errorf("modbus: DB%d has no register mapping", db)
	}
	firstReg := start + offset/2
	lastReg := start + (offset+size-1)/2
	if firstReg < 0 || lastReg > 0xFFFF {
		return 0, 0, 0, fmt.Errorf("modbus: DB%d [%d+%d] outside register space", db, offset, size)
	}
	return uint16(firstReg), uint16(lastReg - firstReg + 1), offset &^ 1, nil
}

func (e *ModbusEndpoint) readWindow(db, offset, size int) ([]byte, int, uint16, error) {
	first, qty, base, err := registerWindow(e.blocks, db, offset, size)
	if err != nil {
		return nil, 0, 0, err
	}
	buf, err := e.client.ReadHoldingRegisters(first, qty)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("read holding registers %d+%d: %w", first, qty, err)
	}
	logging.DebugBlock("modbus", fmt.Sprintf("DB%d @%d", db, base), buf)
	return buf, base, first, nil
}

// Read performs one holding register read per span.
func (e *ModbusEndpoint) Read(ctx context.Context, items []s7.Item) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	values := make(map[string]interface{}, len(items))
	for _, span := range s7.Plan(items) {
		buf, base, _, err := e.readWindow(span.DB, span.Offset, span.Size)
		if err != nil {
			return nil, err
		}
		for _, it := range span.Items {
			v, err := s7.Decode(it, buf, base)
			if err != nil {
				return nil, err
			}
			values[it.Key] = v
		}
	}
	return values, nil
}

// Write patches the item into the registers that hold it and writes them back.
func (e *ModbusEndpoint) Write(ctx context.Context, item s7.Item, value interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	buf, base, first, err := e.readWindow(item.DB, item.Offset, item.Size())
	if err != nil {
		return err
	}
	if err := patch(buf, base, item, value); err != nil {
		return err
	}
	if _, err := e.client.WriteMultipleRegisters(first, uint16(len(buf)/2), buf); err != nil {
		return fmt.Errorf("write %s: %w", item.Key, err)
	}
	return nil
}

// patch writes value for item into buf, which holds block bytes from base.
func patch(buf []byte, base int, item s7.Item, value interface{}) error {
	pos := item.Offset - base
	if pos < 0 || pos+item.Size() > len(buf) {
		return fmt.Errorf("%s: outside buffer", item.Key)
	}
	if item.Kind == s7.KindBit {
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%s: bit items take bool, got %T", item.Key, value)
		}
		buf[pos] = s7.SetBit(buf[pos], item.Bit, v)
		return nil
	}
	data, err := s7.Encode(item, value)
	if err != nil {
		return err
	}
	copy(buf[pos:], data)
	return nil
}

// Close closes the gateway connection.
func (e *ModbusEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handler.Close()
}

// ConnectionMode describes the session.
func (e *ModbusEndpoint) ConnectionMode() string {
	return fmt.Sprintf("Modbus gateway %s (unit %d)", e.address, e.handler.SlaveId)
}
