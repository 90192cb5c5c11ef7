package catalog

import (
	"fmt"

	"maintlink/s7"
)

// FaultBlock is the data block holding the panel fault bits.
const FaultBlock = 6

// faultNames are in bit order starting at DB6,X0.0.
var faultNames = []string{
	"eStopPressed",
	"fault2", "fault3", "fault4", "fault5", "fault6", "fault7", "fault8",
	"fault9", "fault10", "fault11", "fault12", "fault13", "fault14",
}

func faultKey(i int) string {
	return fmt.Sprintf("DB%d,X%d.%d", FaultBlock, i/8, i%8)
}

func faultItems() []s7.Item {
	items := make([]s7.Item, len(faultNames))
	for i := range faultNames {
		items[i] = s7.MustParseItem(faultKey(i))
	}
	return items
}

// Fault is one named fault bit.
type Fault struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// FaultStatus is the structured view of the fault block, in bit order.
type FaultStatus struct {
	Faults []Fault `json:"faults"`
}

// FormatFaults reshapes a flat address map into the fault block structure.
func FormatFaults(data map[string]interface{}) FaultStatus {
	v := values(data)
	fs := FaultStatus{Faults: make([]Fault, len(faultNames))}
	for i, name := range faultNames {
		fs.Faults[i] = Fault{Name: name, Active: v.bool(faultKey(i))}
	}
	return fs
}

// EStopPressed reports the emergency-stop fault bit.
func (f FaultStatus) EStopPressed() bool {
	return len(f.Faults) > 0 && f.Faults[0].Active
}

// Active returns the names of the active faults in bit order.
func (f FaultStatus) Active() []string {
	var names []string
	for _, flt := range f.Faults {
		if flt.Active {
			names = append(names, flt.Name)
		}
	}
	return names
}

// ActiveCount returns the number of active faults.
func (f FaultStatus) ActiveCount() int {
	n := 0
	for _, flt := range f.Faults {
		if flt.Active {
			n++
		}
	}
	return n
}

// HasActive reports whether any fault is active.
func (f FaultStatus) HasActive() bool {
	for _, flt := range f.Faults {
		if flt.Active {
			return true
		}
	}
	return false
}
