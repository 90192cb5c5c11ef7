package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DebugLogger is the verbose protocol log. It writes one line per event
// tagged with the protocol name, plus hex dumps of raw block buffers.
type DebugLogger struct {
	logger  *zap.Logger
	closer  io.Closer
	mu      sync.RWMutex
	closed  bool
	filters map[string]bool // empty = log all
}

var (
	globalDebugLogger *DebugLogger
	globalDebugMu     sync.RWMutex
)

// NewDebugLogger creates a debug logger writing to path.
// The file is truncated for each session.
func NewDebugLogger(path string) (*DebugLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open debug log file: %w", err)
	}
	l := newDebugLogger(zapcore.AddSync(file), file)
	l.Log("debug", "Debug logging started")
	return l, nil
}

// NewDebugLoggerWriter creates a debug logger writing to w.
func NewDebugLoggerWriter(w io.Writer) *DebugLogger {
	return newDebugLogger(zapcore.AddSync(w), nil)
}

func newDebugLogger(ws zapcore.WriteSyncer, closer io.Closer) *DebugLogger {
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "ts",
		NameKey:          "protocol",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000"),
		EncodeName:       func(n string, e zapcore.PrimitiveArrayEncoder) { e.AppendString("[" + n + "]") },
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	})
	return &DebugLogger{
		logger:  zap.New(zapcore.NewCore(enc, ws, zapcore.DebugLevel)),
		closer:  closer,
		filters: make(map[string]bool),
	}
}

// SetFilter restricts logging to a comma-separated list of protocols.
// An empty filter logs everything. Matching is case-insensitive.
func (l *DebugLogger) SetFilter(filter string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.filters = make(map[string]bool)
	for _, p := range strings.Split(filter, ",") {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		l.filters[p] = true
		// modbus gateways carry s7 data blocks
		if p == "s7" {
			l.filters["modbus"] = true
		}
	}
}

func (l *DebugLogger) shouldLog(protocol string) bool {
	if len(l.filters) == 0 {
		return true
	}
	p := strings.ToLower(protocol)
	return l.filters[p] || p == "debug"
}

// Log writes a formatted message tagged with protocol.
func (l *DebugLogger) Log(protocol, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed || !l.shouldLog(protocol) {
		return
	}
	l.logger.Named(protocol).Debug(fmt.Sprintf(format, args...))
}

// LogBlock writes a hex dump of a raw block buffer.
func (l *DebugLogger) LogBlock(protocol, label string, data []byte) {
	if l == nil {
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed || !l.shouldLog(protocol) {
		return
	}
	l.logger.Named(protocol).Debug(fmt.Sprintf("%s (%d bytes):\n%s", label, len(data), hexDump(data)))
}

// Close flushes and closes the log.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.logger.Named("debug").Debug("Debug logging ended")
	_ = l.logger.Sync()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// hexDump formats data as offset, two groups of eight hex bytes and ASCII:
//
//	0000: 65 00 04 00 00 00 00 00  00 00 00 00 00 00 00 00  e...............
func hexDump(data []byte) string {
	if len(data) == 0 {
		return "    (empty)"
	}

	var sb strings.Builder
	for offset := 0; offset < len(data); offset += 16 {
		fmt.Fprintf(&sb, "    %04X: ", offset)
		for i := 0; i < 16; i++ {
			if i == 8 {
				sb.WriteByte(' ')
			}
			if offset+i < len(data) {
				fmt.Fprintf(&sb, "%02X ", data[offset+i])
			} else {
				sb.WriteString("   ")
			}
		}
		sb.WriteByte(' ')
		for i := 0; i < 16 && offset+i < len(data); i++ {
			b := data[offset+i]
			if b >= 32 && b < 127 {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// SetGlobalDebugLogger installs the process-wide debug logger.
func SetGlobalDebugLogger(logger *DebugLogger) {
	globalDebugMu.Lock()
	defer globalDebugMu.Unlock()
	globalDebugLogger = logger
}

// GetGlobalDebugLogger returns the process-wide debug logger, or nil.
func GetGlobalDebugLogger() *DebugLogger {
	globalDebugMu.RLock()
	defer globalDebugMu.RUnlock()
	return globalDebugLogger
}

// DebugLog logs a message if debug logging is enabled.
func DebugLog(protocol, format string, args ...interface{}) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.Log(protocol, format, args...)
	}
}

// DebugBlock hex dumps a raw buffer if debug logging is enabled.
func DebugBlock(protocol, label string, data []byte) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.LogBlock(protocol, label, data)
	}
}

// DebugConnect logs a connection attempt.
func DebugConnect(protocol, address string) {
	DebugLog(protocol, "CONNECT to %s", address)
}

// DebugConnectSuccess logs a successful connection.
func DebugConnectSuccess(protocol, address, details string) {
	DebugLog(protocol, "CONNECTED to %s - %s", address, details)
}

// DebugConnectError logs a connection failure.
func DebugConnectError(protocol, address string, err error) {
	DebugLog(protocol, "CONNECT FAILED to %s: %v", address, err)
}

// DebugDisconnect logs a disconnection.
func DebugDisconnect(protocol, address, reason string) {
	DebugLog(protocol, "DISCONNECT from %s: %s", address, reason)
}

// DebugError logs an error with context.
func DebugError(protocol, context string, err error) {
	DebugLog(protocol, "ERROR in %s: %v", context, err)
}
