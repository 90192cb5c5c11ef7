package catalog

import (
	"fmt"

	"maintlink/s7"
)

// IOBlock is the data block holding the training panel I/O image.
const IOBlock = 1

// Channel is the three-bit layout every digital channel uses in the I/O block:
// .0 live state, .1 forced value, .2 forcing active.
type Channel struct {
	State        bool `json:"state"`
	ForcedState  bool `json:"forcedState"`
	ForcedStatus bool `json:"forcedStatus"`
}

// Analogue is one analogue input channel with its scaling parameters.
type Analogue struct {
	Raw    int64   `json:"raw"`
	Scaled float64 `json:"scaled"`
	Offset float64 `json:"offset"`
	Scalar float64 `json:"scalar"`
}

// HMIButtons are the momentary buttons the panel HMI writes into the I/O block.
type HMIButtons struct {
	ClearForcing bool `json:"clearForcing"`
	FaultReset   bool `json:"faultReset"`
}

// IOStatus is the structured view of the I/O block.
type IOStatus struct {
	HMI      HMIButtons `json:"hmiButtons"`
	InputsA  []Channel  `json:"inputsA"`
	InputsB  []Channel  `json:"inputsB"`
	AI0      Analogue   `json:"ai0"`
	AI1      Analogue   `json:"ai1"`
	OutputsA []Channel  `json:"outputsA"`
	OutputsB []Channel  `json:"outputsB"`
}

// bank describes a run of digital channels placed two bytes apart.
type bank struct {
	name  string
	first int
	count int
}

var (
	inputBanks  = []bank{{"A", 2, 8}, {"B", 18, 6}}
	outputBanks = []bank{{"A", 58, 8}, {"B", 74, 2}}
)

// analogueBase holds the byte offsets of raw, scaled, offset and scalar.
var analogueBase = [2][4]int{
	{30, 32, 36, 40},
	{44, 46, 50, 54},
}

func (b bank) byteOf(ch int) int { return b.first + 2*ch }

func bitKey(byteOff, bit int) string {
	return fmt.Sprintf("DB%d,X%d.%d", IOBlock, byteOff, bit)
}

// ioItems lists every item of the I/O block in address order.
func ioItems() []s7.Item {
	var keys []string
	keys = append(keys, bitKey(0, 0), bitKey(0, 1))
	for _, b := range inputBanks {
		for ch := 0; ch < b.count; ch++ {
			for bit := 0; bit < 3; bit++ {
				keys = append(keys, bitKey(b.byteOf(ch), bit))
			}
		}
	}
	for _, ai := range analogueBase {
		keys = append(keys,
			fmt.Sprintf("DB%d,INT%d", IOBlock, ai[0]),
			fmt.Sprintf("DB%d,REAL%d", IOBlock, ai[1]),
			fmt.Sprintf("DB%d,REAL%d", IOBlock, ai[2]),
			fmt.Sprintf("DB%d,REAL%d", IOBlock, ai[3]),
		)
	}
	for _, b := range outputBanks {
		for ch := 0; ch < b.count; ch++ {
			for bit := 0; bit < 3; bit++ {
				keys = append(keys, bitKey(b.byteOf(ch), bit))
			}
		}
	}

	items := make([]s7.Item, len(keys))
	for i, k := range keys {
		items[i] = s7.MustParseItem(k)
	}
	return items
}

func formatBank(b bank, v values) []Channel {
	out := make([]Channel, b.count)
	for ch := range out {
		off := b.byteOf(ch)
		out[ch] = Channel{
			State:        v.bool(bitKey(off, 0)),
			ForcedState:  v.bool(bitKey(off, 1)),
			ForcedStatus: v.bool(bitKey(off, 2)),
		}
	}
	return out
}

func formatAnalogue(ai [4]int, v values) Analogue {
	return Analogue{
		Raw:    v.int(fmt.Sprintf("DB%d,INT%d", IOBlock, ai[0])),
		Scaled: v.float(fmt.Sprintf("DB%d,REAL%d", IOBlock, ai[1])),
		Offset: v.float(fmt.Sprintf("DB%d,REAL%d", IOBlock, ai[2])),
		Scalar: v.float(fmt.Sprintf("DB%d,REAL%d", IOBlock, ai[3])),
	}
}

// FormatIO reshapes a flat address map into the I/O block structure.
// Missing or mistyped entries decode to zero values.
func FormatIO(data map[string]interface{}) IOStatus {
	v := values(data)
	return IOStatus{
		HMI: HMIButtons{
			ClearForcing: v.bool(bitKey(0, 0)),
			FaultReset:   v.bool(bitKey(0, 1)),
		},
		InputsA:  formatBank(inputBanks[0], v),
		InputsB:  formatBank(inputBanks[1], v),
		AI0:      formatAnalogue(analogueBase[0], v),
		AI1:      formatAnalogue(analogueBase[1], v),
		OutputsA: formatBank(outputBanks[0], v),
		OutputsB: formatBank(outputBanks[1], v),
	}
}
