package tui

import (
	"fmt"
	"strings"
	"time"

	"maintlink/catalog"
	"maintlink/plcman"
	"maintlink/status"
)

func stateIndicator(s plcman.State) string {
	switch s {
	case plcman.StateConnected:
		return StatusIndicatorConnected
	case plcman.StateConnecting:
		return StatusIndicatorConnecting
	case plcman.StateReconnecting:
		return StatusIndicatorError
	default:
		return StatusIndicatorDisconnected
	}
}

func headerText(s plcman.State, label, address string) string {
	if label == "" {
		label = s.String()
	}
	return fmt.Sprintf(" %s %s\n [gray]Controller:[-] %s\n [gray]State:[-] %s",
		stateIndicator(s), label, address, s)
}

func lamp(on bool) string {
	if on {
		return LampOn
	}
	return LampOff
}

func panelText(snap status.Snapshot, have bool) string {
	if !have {
		return " [gray]No data yet[-]"
	}
	var b strings.Builder
	estop := "[green]released[-]"
	if snap.Panel.EmergencyStop {
		estop = "[red::b]PRESSED[-::-]"
	}
	fmt.Fprintf(&b, " Emergency stop  %s\n", estop)
	fmt.Fprintf(&b, " Indicator       %s\n", lamp(snap.Panel.Indicator))
	fmt.Fprintf(&b, " Analogue        %.2f\n\n", snap.Panel.Analogue)

	if active := snap.Faults.Active(); len(active) > 0 {
		fmt.Fprintf(&b, " [red]Faults (%d):[-] %s\n", len(active), strings.Join(active, ", "))
	} else {
		b.WriteString(" [green]No active faults[-]\n")
	}
	fmt.Fprintf(&b, " [gray]Cycle %d at %s[-]", snap.Seq, snap.At.Format("15:04:05.000"))
	return b.String()
}

func bankRow(name string, chans []catalog.Channel) string {
	var b strings.Builder
	fmt.Fprintf(&b, " %-4s", name)
	for _, c := range chans {
		b.WriteString(" ")
		if c.ForcedStatus {
			b.WriteString(LampForced)
		} else {
			b.WriteString(lamp(c.State))
		}
	}
	return b.String()
}

func ioText(io catalog.IOStatus, have bool) string {
	if !have {
		return " [gray]No data yet[-]"
	}
	rows := []string{
		bankRow("DI A", io.InputsA),
		bankRow("DI B", io.InputsB),
		bankRow("DO A", io.OutputsA),
		bankRow("DO B", io.OutputsB),
		"",
		fmt.Sprintf(" AI0  raw %-6d scaled %.2f", io.AI0.Raw, io.AI0.Scaled),
		fmt.Sprintf(" AI1  raw %-6d scaled %.2f", io.AI1.Raw, io.AI1.Scaled),
		"",
		fmt.Sprintf(" HMI  clear forcing %s  fault reset %s", lamp(io.HMI.ClearForcing), lamp(io.HMI.FaultReset)),
	}
	return strings.Join(rows, "\n")
}

func statsText(st status.ConnectionStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, " Requests    %d\n", st.TotalRequests)
	fmt.Fprintf(&b, " Errors      %d\n", st.ErrorCount)
	fmt.Fprintf(&b, " Reconnects  %d\n", st.ReconnectAttempts)
	if st.ConnectedSince != nil {
		fmt.Fprintf(&b, " Up since    %s\n", st.ConnectedSince.Format(time.TimeOnly))
	}
	if st.LastError != "" {
		fmt.Fprintf(&b, " [red]Last error[-]  %s\n", st.LastError)
	}
	for i := len(st.RecentErrors) - 1; i >= 0 && i >= len(st.RecentErrors)-5; i-- {
		e := st.RecentErrors[i]
		fmt.Fprintf(&b, " [gray]%s %s: %s[-]\n", e.At.Format(time.TimeOnly), e.Op, e.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}
