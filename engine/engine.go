// Package engine builds the link supervisor, the status hub and every
// surface and republisher from one configuration, and owns their start and
// stop ordering.
package engine

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"maintlink/catalog"
	"maintlink/config"
	"maintlink/driver"
	"maintlink/kafka"
	"maintlink/logging"
	"maintlink/mqtt"
	"maintlink/plcman"
	"maintlink/status"
	"maintlink/valkey"
	"maintlink/web"
)

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig  *config.Config
	ConfigPath string // empty disables saving

	// Dialer replaces driver.Default when set.
	Dialer driver.Dialer
}

// republisher is a hub subscriber that forwards to a broker.
type republisher interface {
	status.Subscriber
	Start() error
	Address() string
}

type service struct {
	name    string
	pub     republisher
	stop    func()
	id      status.SubscriberID
	running bool
}

// Engine is the assembled service. It embeds the link supervisor, so every
// command and read-only view of *plcman.Manager is available on it; address
// changes made through the Engine are also saved to the config file.
type Engine struct {
	*plcman.Manager

	cfg        *config.Config
	configPath string
	log        *zap.Logger
	cat        *catalog.Catalog
	hub        *status.Hub
	web        *web.Server

	Events *EventBus

	mu       sync.Mutex
	services []*service
	wg       sync.WaitGroup
	started  bool
	stopping bool
}

var (
	_ web.Controller   = (*Engine)(nil)
	_ plcman.Commander = (*Engine)(nil)
)

// New builds the catalog, hub and manager. Nothing runs until Start.
func New(c Config) (*Engine, error) {
	cfg := c.AppConfig
	cat, err := catalog.New(cfg.Catalog.Panel, cfg.Catalog.Outputs)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	hub := status.NewHub(status.Capacities{
		Connection: cfg.History.Connection,
		Values:     cfg.History.Values,
		Errors:     cfg.History.Errors,
	})

	opts := []plcman.Option{
		plcman.WithTiming(plcman.Timing{
			Poll:      cfg.Timing.Poll,
			Reconnect: cfg.Timing.Reconnect,
			Status:    cfg.Timing.Status,
		}),
	}
	if c.Dialer != nil {
		opts = append(opts, plcman.WithDialer(c.Dialer))
	}

	return &Engine{
		Manager:    plcman.New(cfg.PLC, cat, hub, opts...),
		cfg:        cfg,
		configPath: c.ConfigPath,
		log:        logging.Named("engine"),
		cat:        cat,
		hub:        hub,
		Events:     NewEventBus(),
	}, nil
}

// Start launches the supervisor and the web surface, starts every enabled
// republisher in the background and, when configured, connects.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	cfg := e.cfg
	e.Manager.Start()

	if cfg.Web.Enabled {
		e.web = web.NewServer(cfg.Web, e)
		if err := e.web.Start(); err != nil {
			e.web.Close()
			e.web = nil
			e.Manager.Stop()
			e.emit(EventServiceFailed, ServiceEvent{Name: "web", Error: err.Error()})
			return fmt.Errorf("web: %w", err)
		}
		e.emit(EventServiceStarted, ServiceEvent{Name: "web", Address: e.web.Address()})
	}

	if cfg.MQTT.Enabled {
		p := mqtt.NewPublisher(cfg.MQTT, e, e.validOutput)
		e.addService("mqtt", p, p.Stop)
	}
	if cfg.Valkey.Enabled {
		p := valkey.NewPublisher(cfg.Valkey, e, e.validOutput)
		e.addService("valkey", p, func() { p.Stop() })
	}
	if cfg.Kafka.Enabled {
		p := kafka.NewPublisher(cfg.Kafka, e, e.validOutput)
		e.addService("kafka", p, func() { p.Stop() })
	}

	if cfg.PLC.AutoConnect {
		e.log.Info("auto-connect", zap.String("address", cfg.PLC.Address()))
		e.Manager.Connect()
	}
	return nil
}

// addService starts pub in the background. Broker connects can take
// seconds and must not delay the link.
func (e *Engine) addService(name string, pub republisher, stop func()) {
	svc := &service{name: name, pub: pub, stop: stop}

	e.mu.Lock()
	e.services = append(e.services, svc)
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := pub.Start(); err != nil {
			e.log.Warn("republisher failed to start",
				zap.String("service", name), zap.String("address", pub.Address()), zap.Error(err))
			e.emit(EventServiceFailed, ServiceEvent{Name: name, Address: pub.Address(), Error: err.Error()})
			return
		}

		e.mu.Lock()
		if e.stopping {
			e.mu.Unlock()
			stop()
			return
		}
		svc.id = e.hub.Subscribe(pub)
		svc.running = true
		e.mu.Unlock()

		e.log.Info("republisher started", zap.String("service", name), zap.String("address", pub.Address()))
		e.emit(EventServiceStarted, ServiceEvent{Name: name, Address: pub.Address()})
	}()
}

// Stop stops the republishers, then the web surface, then the supervisor.
// It is safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return
	}
	e.stopping = true
	e.mu.Unlock()

	// Wait for in-flight broker connects; they stop themselves once they
	// see stopping.
	e.wg.Wait()

	e.mu.Lock()
	services := e.services
	e.mu.Unlock()
	for _, svc := range services {
		if !svc.running {
			continue
		}
		e.hub.Unsubscribe(svc.id)
		svc.stop()
		svc.running = false
		e.emit(EventServiceStopped, ServiceEvent{Name: svc.name, Address: svc.pub.Address()})
	}

	if e.web != nil {
		if err := e.web.Stop(); err != nil {
			e.log.Warn("web server shutdown", zap.Error(err))
		}
		e.emit(EventServiceStopped, ServiceEvent{Name: "web", Address: e.web.Address()})
	}

	e.Manager.Stop()
	e.log.Info("engine stopped")
}

// Web returns the web server, or nil when the surface is disabled.
func (e *Engine) Web() *web.Server { return e.web }

// AppConfig returns the loaded configuration.
func (e *Engine) AppConfig() *config.Config { return e.cfg }

func (e *Engine) validOutput(name string) bool {
	_, ok := e.cat.Output(name)
	return ok
}

// SetAddress validates host, applies it to the supervisor and saves it.
// With connect set the supervisor also connects to it straight away.
func (e *Engine) SetAddress(host string, connect bool) error {
	host = strings.TrimSpace(host)
	if host == "" || strings.ContainsAny(host, " \t/\\") {
		return fmt.Errorf("%w: host %q", ErrInvalidInput, host)
	}

	if connect {
		e.Manager.ConnectTo(host)
	} else {
		e.Manager.UpdateAddress(host)
	}
	e.emit(EventAddressChanged, AddressEvent{Host: host, Connect: connect})
	return e.saveHost(host)
}

// UpdateAddress replaces the host for the next attempt and saves it.
func (e *Engine) UpdateAddress(host string) {
	if err := e.SetAddress(host, false); err != nil {
		e.log.Warn("address update rejected", zap.Error(err))
	}
}

// ConnectTo connects to host and saves it.
func (e *Engine) ConnectTo(host string) {
	if err := e.SetAddress(host, true); err != nil {
		e.log.Warn("connect rejected", zap.Error(err))
	}
}

func (e *Engine) saveHost(host string) error {
	e.cfg.SetHost(host)
	if e.configPath == "" {
		return nil
	}
	if err := e.cfg.Save(e.configPath); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	e.emit(EventConfigSaved, SystemEvent{Detail: e.configPath})
	return nil
}

func (e *Engine) emit(t EventType, payload interface{}) {
	e.Events.Emit(Event{Type: t, Payload: payload})
}
