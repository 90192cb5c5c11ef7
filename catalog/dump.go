package catalog

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes a human-readable listing of the decoded panel state.
func Dump(w io.Writer, d Decoded) {
	var b strings.Builder

	b.WriteString("=== I/O Block ===\n")
	fmt.Fprintf(&b, "HMI: clearForcing=%t faultReset=%t\n", d.IO.HMI.ClearForcing, d.IO.HMI.FaultReset)
	dumpBank(&b, "DI", inputBanks, [][]Channel{d.IO.InputsA, d.IO.InputsB})
	for i, ai := range []Analogue{d.IO.AI0, d.IO.AI1} {
		fmt.Fprintf(&b, "AI%d: raw=%d scaled=%.3f offset=%.3f scalar=%.3f\n",
			i, ai.Raw, ai.Scaled, ai.Offset, ai.Scalar)
	}
	dumpBank(&b, "DO", outputBanks, [][]Channel{d.IO.OutputsA, d.IO.OutputsB})

	b.WriteString("=== Faults ===\n")
	if active := d.Faults.Active(); len(active) > 0 {
		fmt.Fprintf(&b, "Active: %s\n", strings.Join(active, ", "))
	}
	fmt.Fprintf(&b, "Total active faults: %d\n", d.Faults.ActiveCount())

	io.WriteString(w, b.String())
}

func dumpBank(b *strings.Builder, prefix string, banks []bank, chans [][]Channel) {
	for i, bk := range banks {
		if i >= len(chans) {
			return
		}
		for ch, c := range chans[i] {
			forced := ""
			if c.ForcedStatus {
				forced = fmt.Sprintf(" (forced %t)", c.ForcedState)
			}
			fmt.Fprintf(b, "%s %s%d [X%d]: %t%s\n", prefix, bk.name, ch, bk.byteOf(ch), c.State, forced)
		}
	}
}
