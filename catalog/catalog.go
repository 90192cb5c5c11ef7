// Package catalog maps the symbolic signals of the training panel to
// controller item addresses and reshapes raw read results into
// structured status records.
package catalog

import (
	"fmt"
	"sort"

	"maintlink/s7"
)

// Demo panel signal names.
const (
	SignalEmergencyStop = "emergencyStop"
	SignalIndicator     = "indicator"
	SignalAnalogue      = "analogue"
)

// PanelMap assigns item addresses to the three demo panel signals.
type PanelMap struct {
	EmergencyStop string `yaml:"emergency_stop" json:"emergencyStop"`
	Indicator     string `yaml:"indicator" json:"indicator"`
	Analogue      string `yaml:"analogue" json:"analogue"`
}

// DefaultPanel returns the addresses wired on the standard training rig.
func DefaultPanel() PanelMap {
	return PanelMap{
		EmergencyStop: faultKey(0),
		Indicator:     bitKey(outputBanks[0].first, 0),
		Analogue:      fmt.Sprintf("DB%d,REAL%d", IOBlock, analogueBase[0][1]),
	}
}

// DefaultOutputs returns the writable boolean signals of the standard rig.
func DefaultOutputs() map[string]string {
	return map[string]string{
		SignalIndicator: bitKey(outputBanks[0].first, 0),
		"clearForcing":  bitKey(0, 0),
		"faultReset":    bitKey(0, 1),
	}
}

// Panel is the decoded demo panel.
type Panel struct {
	EmergencyStop bool    `json:"emergencyStop"`
	Indicator     bool    `json:"indicator"`
	Analogue      float64 `json:"analogue"`
}

// Decoded is the result of formatting one poll cycle.
type Decoded struct {
	Signals map[string]interface{} `json:"signals"`
	Panel   Panel                  `json:"panel"`
	IO      IOStatus               `json:"io"`
	Faults  FaultStatus            `json:"faults"`
}

// Catalog is the immutable address catalog. It is built once at startup.
type Catalog struct {
	panel   map[string]s7.Item
	outputs map[string]s7.Item
	items   []s7.Item
}

// New builds a catalog from the panel map and writable outputs.
// Empty panel entries fall back to DefaultPanel; a nil outputs map uses DefaultOutputs.
func New(panel PanelMap, outputs map[string]string) (*Catalog, error) {
	def := DefaultPanel()
	if panel.EmergencyStop == "" {
		panel.EmergencyStop = def.EmergencyStop
	}
	if panel.Indicator == "" {
		panel.Indicator = def.Indicator
	}
	if panel.Analogue == "" {
		panel.Analogue = def.Analogue
	}
	if outputs == nil {
		outputs = DefaultOutputs()
	}

	c := &Catalog{
		panel:   make(map[string]s7.Item, 3),
		outputs: make(map[string]s7.Item, len(outputs)),
	}

	for name, addr := range map[string]string{
		SignalEmergencyStop: panel.EmergencyStop,
		SignalIndicator:     panel.Indicator,
		SignalAnalogue:      panel.Analogue,
	} {
		it, err := s7.ParseItem(addr)
		if err != nil {
			return nil, fmt.Errorf("panel signal %s: %w", name, err)
		}
		c.panel[name] = it
	}
	if c.panel[SignalEmergencyStop].Kind != s7.KindBit || c.panel[SignalIndicator].Kind != s7.KindBit {
		return nil, fmt.Errorf("panel signals %s and %s must be bit items", SignalEmergencyStop, SignalIndicator)
	}

	for name, addr := range outputs {
		it, err := s7.ParseItem(addr)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", name, err)
		}
		if it.Kind != s7.KindBit {
			return nil, fmt.Errorf("output %s: %s is not a bit item", name, it.Key)
		}
		c.outputs[name] = it
	}

	seen := make(map[string]bool)
	add := func(it s7.Item) {
		if !seen[it.Key] {
			seen[it.Key] = true
			c.items = append(c.items, it)
		}
	}
	for _, it := range ioItems() {
		add(it)
	}
	for _, it := range faultItems() {
		add(it)
	}
	for _, it := range c.panel {
		add(it)
	}
	for _, it := range c.outputs {
		add(it)
	}
	sort.SliceStable(c.items, func(i, j int) bool {
		a, b := c.items[i], c.items[j]
		if a.DB != b.DB {
			return a.DB < b.DB
		}
		if a.Offset != b.Offset {
			return a.Offset < b.Offset
		}
		return a.Bit < b.Bit
	})
	return c, nil
}

// Default returns the catalog of the standard rig.
func Default() *Catalog {
	c, err := New(DefaultPanel(), nil)
	if err != nil {
		panic(err)
	}
	return c
}

// Items returns the fixed poll set. The slice must not be modified.
func (c *Catalog) Items() []s7.Item { return c.items }

// Output resolves a writable boolean signal by name.
func (c *Catalog) Output(name string) (s7.Item, bool) {
	it, ok := c.outputs[name]
	return it, ok
}

// Outputs returns the writable signal names, sorted.
func (c *Catalog) Outputs() []string {
	names := make([]string, 0, len(c.outputs))
	for name := range c.outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PanelItem returns the item a demo panel signal is read from.
func (c *Catalog) PanelItem(signal string) (s7.Item, bool) {
	it, ok := c.panel[signal]
	return it, ok
}

// Format reshapes a flat address->value map into the structured record.
// Missing or mistyped values decode to zero values.
func (c *Catalog) Format(data map[string]interface{}) Decoded {
	v := values(data)
	p := Panel{
		EmergencyStop: v.bool(c.panel[SignalEmergencyStop].Key),
		Indicator:     v.bool(c.panel[SignalIndicator].Key),
		Analogue:      v.float(c.panel[SignalAnalogue].Key),
	}

	signals := map[string]interface{}{
		SignalEmergencyStop: p.EmergencyStop,
		SignalIndicator:     p.Indicator,
		SignalAnalogue:      p.Analogue,
	}
	for name, it := range c.outputs {
		if _, ok := signals[name]; !ok {
			signals[name] = v.bool(it.Key)
		}
	}

	return Decoded{
		Signals: signals,
		Panel:   p,
		IO:      FormatIO(data),
		Faults:  FormatFaults(data),
	}
}

// values is a flat address map with lenient typed accessors.
type values map[string]interface{}

func (v values) bool(key string) bool {
	switch x := v[key].(type) {
	case bool:
		return x
	case int, int16, int32, int64, uint8, uint16, uint32:
		return v.int(key) != 0
	default:
		return false
	}
}

func (v values) int(key string) int64 {
	switch x := v[key].(type) {
	case int:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return int64(x)
	case float64:
		return int64(x)
	default:
		return 0
	}
}

func (v values) float(key string) float64 {
	switch x := v[key].(type) {
	case float32:
		return float64(x)
	case float64:
		return x
	default:
		return float64(v.int(key))
	}
}
