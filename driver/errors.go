package driver

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"maintlink/s7"
)

// IsConnectionError reports whether err indicates the session itself is
// broken, as opposed to a rejected request on a healthy session.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, s7.ErrNotConnected) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// gos7 and goburrow/modbus do not always wrap the underlying error.
	msg := strings.ToLower(err.Error())
	for _, keyword := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"use of closed network connection",
		"i/o timeout",
		"no route to host",
		"network is unreachable",
		"connection timed out",
		"eof",
		"forcibly closed",
		"socket closed",
		"not connected",
	} {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}
