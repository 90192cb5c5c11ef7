// Package driver opens endpoints to the controller over the configured
// transport family.
package driver

import (
	"context"
	"errors"
	"fmt"

	"maintlink/config"
	"maintlink/s7"
)

// ErrUnknownFamily is returned by Open for an unsupported family.
var ErrUnknownFamily = errors.New("unknown PLC family")

// Endpoint is one live session to the controller. An Endpoint is created by
// a successful dial and is never reused after Close.
type Endpoint interface {
	// Read reads every item and returns values keyed by Item.Key.
	Read(ctx context.Context, items []s7.Item) (map[string]interface{}, error)

	// Write writes a single item.
	Write(ctx context.Context, item s7.Item, value interface{}) error

	Close() error

	// ConnectionMode describes the session for display.
	ConnectionMode() string
}

// Dialer opens endpoints.
type Dialer interface {
	Dial(ctx context.Context, cfg config.PLCConfig) (Endpoint, error)
}

// DialFunc adapts a function to the Dialer interface.
type DialFunc func(ctx context.Context, cfg config.PLCConfig) (Endpoint, error)

// Dial calls f.
func (f DialFunc) Dial(ctx context.Context, cfg config.PLCConfig) (Endpoint, error) {
	return f(ctx, cfg)
}

// Open dials the endpoint for cfg.Family.
func Open(ctx context.Context, cfg config.PLCConfig) (Endpoint, error) {
	switch cfg.Family {
	case config.FamilyS7, "":
		return DialS7(ctx, cfg)
	case config.FamilyModbus:
		return DialModbus(ctx, cfg)
	case config.FamilySim:
		return DefaultSimulator().Dial(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, cfg.Family)
	}
}

// Default is the Dialer backed by Open.
var Default Dialer = DialFunc(Open)
