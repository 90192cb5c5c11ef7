package driver

import (
	"context"

	"maintlink/config"
	"maintlink/logging"
	"maintlink/s7"
)

// S7Endpoint is a native S7 session.
type S7Endpoint struct {
	client *s7.Client
}

// DialS7 opens a native S7 session using the rack and slot derived from cfg.
func DialS7(ctx context.Context, cfg config.PLCConfig) (Endpoint, error) {
	addr := cfg.Address()
	rack, slot := cfg.RackSlot()

	logging.DebugConnect("s7", addr)
	logging.DebugLog("s7", "rack %d slot %d remote TSAP %#04x", rack, slot, cfg.RemoteTSAP)

	client, err := s7.Connect(addr, s7.WithRackSlot(rack, slot), s7.WithTimeout(cfg.Timeout))
	if err != nil {
		logging.DebugConnectError("s7", addr, err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	if info, err := client.CPUInfo(); err == nil {
		logging.DebugConnectSuccess("s7", addr, info.ModuleTypeName+" "+info.SerialNumber)
	} else {
		logging.DebugConnectSuccess("s7", addr, client.ConnectionMode())
	}
	return &S7Endpoint{client: client}, nil
}

// Read performs a batched block read.
func (e *S7Endpoint) Read(ctx context.Context, items []s7.Item) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.client.ReadItems(items)
}

// Write writes one item.
func (e *S7Endpoint) Write(ctx context.Context, item s7.Item, value interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.client.WriteItem(item, value)
}

// Close ends the session.
func (e *S7Endpoint) Close() error {
	return e.client.Close()
}

// ConnectionMode describes the session.
func (e *S7Endpoint) ConnectionMode() string {
	return e.client.ConnectionMode()
}
