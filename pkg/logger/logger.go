// Package logger provides the logging interface shared by every warpmaster
// component. Backends include the stdlib log package and charmbracelet/log.
package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"
)

// Logger defines the interface for logging across all warpmaster components.
type Logger interface {
	// Info logs an informational message (e.g., "Start download wf for file: 0000000").
	Info(format string, args ...interface{})

	// Warning logs a warning message (e.g., "status query attempt 2/3 timed out").
	Warning(format string, args ...interface{})

	// Error logs an error message (e.g., "cleanup phase failed: ...").
	Error(format string, args ...interface{})

	// Close releases resources held by the logger.
	// Safe to call multiple times. Returns nil for loggers without resources.
	Close() error
}

// fielder is implemented by backends that can carry key/value context.
type fielder interface {
	WithFields(kv ...interface{}) Logger
}

// With returns a logger that attaches the given key/value pairs to every
// entry. Backends without structured fields get the pairs as a message
// prefix instead.
func With(l Logger, kv ...interface{}) Logger {
	if l == nil {
		return NewNopLogger()
	}
	if len(kv) == 0 {
		return l
	}
	if f, ok := l.(fielder); ok {
		return f.WithFields(kv...)
	}
	return &prefixLogger{next: l, prefix: formatFields(kv)}
}

func formatFields(kv []interface{}) string {
	var b strings.Builder
	for i := 0; i < len(kv); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		if i+1 < len(kv) {
			fmt.Fprintf(&b, "%v=%v", kv[i], kv[i+1])
		} else {
			fmt.Fprintf(&b, "%v", kv[i])
		}
	}
	return b.String()
}

// prefixLogger prepends a fixed field string to every message.
type prefixLogger struct {
	next   Logger
	prefix string
}

func (p *prefixLogger) Info(format string, args ...interface{}) {
	p.next.Info("%s "+format, append([]interface{}{p.prefix}, args...)...)
}

func (p *prefixLogger) Warning(format string, args ...interface{}) {
	p.next.Warning("%s "+format, append([]interface{}{p.prefix}, args...)...)
}

func (p *prefixLogger) Error(format string, args ...interface{}) {
	p.next.Error("%s "+format, append([]interface{}{p.prefix}, args...)...)
}

// Close is a no-op; the wrapped logger is owned by the caller.
func (p *prefixLogger) Close() error {
	return nil
}

// StandardLogger wraps the stdlib *log.Logger for console/file output.
type StandardLogger struct {
	logger *log.Logger
}

// NewStandardLogger creates a logger that wraps the given *log.Logger.
func NewStandardLogger(l *log.Logger) *StandardLogger {
	return &StandardLogger{logger: l}
}

// Info logs an informational message with [INFO] prefix.
func (s *StandardLogger) Info(format string, args ...interface{}) {
	s.logger.Printf("[INFO] "+format, args...)
}

// Warning logs a warning message with [WARNING] prefix.
func (s *StandardLogger) Warning(format string, args ...interface{}) {
	s.logger.Printf("[WARNING] "+format, args...)
}

// Error logs an error message with [ERROR] prefix.
func (s *StandardLogger) Error(format string, args ...interface{}) {
	s.logger.Printf("[ERROR] "+format, args...)
}

// Close is a no-op for StandardLogger (no resources to release).
func (s *StandardLogger) Close() error {
	return nil
}

// NopLogger is a logger that discards all messages.
type NopLogger struct{}

// NewNopLogger creates a logger that discards all messages.
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

// Info discards the message.
func (n *NopLogger) Info(format string, args ...interface{}) {}

// Warning discards the message.
func (n *NopLogger) Warning(format string, args ...interface{}) {}

// Error discards the message.
func (n *NopLogger) Error(format string, args ...interface{}) {}

// Close is a no-op.
func (n *NopLogger) Close() error {
	return nil
}

var (
	_ Logger = (*StandardLogger)(nil)
	_ Logger = (*NopLogger)(nil)
	_ Logger = (*prefixLogger)(nil)
)

// MockLogger implements Logger for testing purposes.
// It records all log calls and is safe for concurrent use, since tasks log
// from their own goroutines.
type MockLogger struct {
	mu           sync.Mutex
	infoCalls    []string
	warningCalls []string
	errorCalls   []string
	closeCalled  bool
}

// NewMockLogger creates a new MockLogger for testing.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

// Info records the formatted message.
func (m *MockLogger) Info(format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoCalls = append(m.infoCalls, fmt.Sprintf(format, args...))
}

// Warning records the formatted message.
func (m *MockLogger) Warning(format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warningCalls = append(m.warningCalls, fmt.Sprintf(format, args...))
}

// Error records the formatted message.
func (m *MockLogger) Error(format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCalls = append(m.errorCalls, fmt.Sprintf(format, args...))
}

// Close records that Close was called.
func (m *MockLogger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalled = true
	return nil
}

// InfoCalls returns a copy of the recorded info messages.
func (m *MockLogger) InfoCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.infoCalls...)
}

// WarningCalls returns a copy of the recorded warning messages.
func (m *MockLogger) WarningCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.warningCalls...)
}

// ErrorCalls returns a copy of the recorded error messages.
func (m *MockLogger) ErrorCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.errorCalls...)
}

// CloseCalled reports whether Close was called.
func (m *MockLogger) CloseCalled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalled
}

// Contains reports whether any recorded message at any level contains sub.
func (m *MockLogger) Contains(sub string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, calls := range [][]string{m.infoCalls, m.warningCalls, m.errorCalls} {
		for _, c := range calls {
			if strings.Contains(c, sub) {
				return true
			}
		}
	}
	return false
}

var _ Logger = (*MockLogger)(nil)
