// Package config handles the YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"maintlink/catalog"
)

// Family selects the transport used to reach the controller.
type Family string

const (
	FamilyS7     Family = "s7"
	FamilyModbus Family = "modbus"
	FamilySim    Family = "sim"
)

// String returns the family name, defaulting to s7.
func (f Family) String() string {
	if f == "" {
		return string(FamilyS7)
	}
	return string(f)
}

// Valid reports whether f is a known family. Empty means s7.
func (f Family) Valid() bool {
	switch f {
	case "", FamilyS7, FamilyModbus, FamilySim:
		return true
	}
	return false
}

// PLCConfig is the connection configuration for the controller.
type PLCConfig struct {
	Family Family `yaml:"family"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Rack   int    `yaml:"rack"`
	Slot   int    `yaml:"slot"`

	// RemoteTSAP overrides Rack and Slot when set. gos7 always opens a PG
	// connection, so the local TSAP is fixed at 0x0100 and not configurable.
	RemoteTSAP uint16        `yaml:"remote_tsap"`
	Timeout    time.Duration `yaml:"timeout"`

	// Modbus gateway settings. Blocks maps a data block number to the
	// holding register that holds its byte 0.
	UnitID uint8       `yaml:"unit_id,omitempty"`
	Blocks map[int]int `yaml:"blocks,omitempty"`

	AutoConnect bool `yaml:"auto_connect"`
}

// Address returns host:port.
func (p PLCConfig) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// RackSlot returns the rack and slot to address. A configured remote TSAP
// takes precedence: its low byte encodes rack*32 + slot.
func (p PLCConfig) RackSlot() (rack, slot int) {
	if p.RemoteTSAP != 0 {
		low := int(p.RemoteTSAP & 0xFF)
		return low >> 5, low & 0x1F
	}
	return p.Rack, p.Slot
}

// CatalogConfig overrides the demo panel and writable output addresses.
type CatalogConfig struct {
	Panel   catalog.PanelMap  `yaml:"panel"`
	Outputs map[string]string `yaml:"outputs,omitempty"`
}

// TimingConfig holds the three loop periods.
type TimingConfig struct {
	Poll      time.Duration `yaml:"poll"`
	Reconnect time.Duration `yaml:"reconnect"`
	Status    time.Duration `yaml:"status"`
}

// HistoryConfig holds the rolling buffer capacities.
type HistoryConfig struct {
	Connection int `yaml:"connection"`
	Values     int `yaml:"values"`
	Errors     int `yaml:"errors"`
}

// WebConfig holds the HTTP server settings.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MQTTConfig holds the MQTT republisher settings.
type MQTTConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Broker    string `yaml:"broker"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username,omitempty"`
	Password  string `yaml:"password,omitempty"`
	ClientID  string `yaml:"client_id"`
	RootTopic string `yaml:"root_topic"`
	UseTLS    bool   `yaml:"use_tls,omitempty"`

	// Accept commands on <root_topic>/command.
	EnableCommands bool `yaml:"enable_commands,omitempty"`
}

// ValkeyConfig holds the Valkey/Redis republisher settings.
type ValkeyConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Address  string        `yaml:"address"` // host:port
	Password string        `yaml:"password,omitempty"`
	Database int           `yaml:"database"`
	Prefix   string        `yaml:"prefix"`
	UseTLS   bool          `yaml:"use_tls,omitempty"`
	KeyTTL   time.Duration `yaml:"key_ttl,omitempty"` // 0 = no expiry

	// Pop commands from the <prefix>:commands list.
	EnableCommands bool `yaml:"enable_commands,omitempty"`
}

// KafkaConfig holds the Kafka republisher settings.
type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	UseTLS        bool     `yaml:"use_tls,omitempty"`
	TLSSkipVerify bool     `yaml:"tls_skip_verify,omitempty"`
	SASLMechanism string   `yaml:"sasl_mechanism,omitempty"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username      string   `yaml:"username,omitempty"`
	Password      string   `yaml:"password,omitempty"`
	RequiredAcks  int      `yaml:"required_acks,omitempty"` // -1=all, 0=none, 1=leader

	// Consume commands from CommandTopic when set. Commands older than
	// CommandMaxAge are answered but not executed.
	CommandTopic  string        `yaml:"command_topic,omitempty"`
	ConsumerGroup string        `yaml:"consumer_group,omitempty"`
	CommandMaxAge time.Duration `yaml:"command_max_age,omitempty"`
}

// LogConfig holds the process and debug log settings.
type LogConfig struct {
	Path        string `yaml:"path,omitempty"`
	Level       string `yaml:"level"`
	DebugPath   string `yaml:"debug_path,omitempty"`
	DebugFilter string `yaml:"debug_filter,omitempty"`
}

// Config is the top-level configuration.
type Config struct {
	PLC     PLCConfig     `yaml:"plc"`
	Catalog CatalogConfig `yaml:"catalog"`
	Timing  TimingConfig  `yaml:"timing"`
	History HistoryConfig `yaml:"history"`
	Web     WebConfig     `yaml:"web"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Valkey  ValkeyConfig  `yaml:"valkey"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Log     LogConfig     `yaml:"log"`

	mu sync.Mutex
}

// DefaultConfig returns a configuration for the standard training rig.
func DefaultConfig() *Config {
	return &Config{
		PLC: PLCConfig{
			Family:     FamilyS7,
			Host:       "192.168.0.1",
			Port:       102,
			Rack:       0,
			Slot:       1,
			RemoteTSAP: 0x0201,
			Timeout:    1500 * time.Millisecond,
			UnitID:     1,
			Blocks:     map[int]int{catalog.IOBlock: 0, catalog.FaultBlock: 100},
		},
		Catalog: CatalogConfig{
			Panel: catalog.DefaultPanel(),
		},
		Timing: TimingConfig{
			Poll:      100 * time.Millisecond,
			Reconnect: 5 * time.Second,
			Status:    time.Second,
		},
		History: HistoryConfig{
			Connection: 60,
			Values:     100,
			Errors:     20,
		},
		Web: WebConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,
		},
		MQTT: MQTTConfig{
			Port:      1883,
			ClientID:  "maintlink",
			RootTopic: "maintlink",
		},
		Valkey: ValkeyConfig{
			Address: "localhost:6379",
			Prefix:  "maintlink",
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			Topic:         "maintlink",
			RequiredAcks:  1,
			ConsumerGroup: "maintlink",
			CommandMaxAge: 10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default configuration file path (~/.maintlink/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".maintlink", "config.yaml")
}

// Load reads configuration from a YAML file. Fields missing from the file
// keep their defaults. A missing file yields the defaults, which are saved
// to path on a best-effort basis.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		_ = cfg.Save(path)
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path, creating the directory if needed.
func (c *Config) Save(path string) error {
	c.mu.Lock()
	data, err := yaml.Marshal(c)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// SetHost updates the controller host under the config lock.
func (c *Config) SetHost(host string) {
	c.mu.Lock()
	c.PLC.Host = host
	c.mu.Unlock()
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if !c.PLC.Family.Valid() {
		errs = append(errs, fmt.Errorf("plc.family: unknown family %q", c.PLC.Family))
	}
	if c.PLC.Family != FamilySim {
		if c.PLC.Host == "" {
			errs = append(errs, errors.New("plc.host: required"))
		}
		if c.PLC.Port < 1 || c.PLC.Port > 65535 {
			errs = append(errs, fmt.Errorf("plc.port: %d out of range", c.PLC.Port))
		}
	}
	if c.PLC.Timeout <= 0 {
		errs = append(errs, errors.New("plc.timeout: must be positive"))
	}
	if c.Timing.Poll <= 0 || c.Timing.Reconnect <= 0 || c.Timing.Status <= 0 {
		errs = append(errs, errors.New("timing: all periods must be positive"))
	}
	if c.History.Connection < 1 || c.History.Values < 1 || c.History.Errors < 1 {
		errs = append(errs, errors.New("history: capacities must be at least 1"))
	}
	if _, err := catalog.New(c.Catalog.Panel, c.Catalog.Outputs); err != nil {
		errs = append(errs, fmt.Errorf("catalog: %w", err))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker: required when enabled"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers: required when enabled"))
	}

	return errors.Join(errs...)
}
