package types

// Logger is the interface that the logger must implement.
// Fields are passed as zap.Field values; anything else is ignored by the zap implementation.
type Logger interface {
	// Debug logs a debug message with the given fields.
	Debug(msg string, fields ...interface{})
	// Info logs an info message with the given fields.
	Info(msg string, fields ...interface{})
	// Warn logs a warn message with the given fields.
	Warn(msg string, fields ...interface{})
	// Error logs an error message with the given fields.
	Error(msg string, fields ...interface{})
	// Fatalf logs a fatal message with the given fields and exits.
	Fatalf(msg string, fields ...interface{})
	// Sync flushes any buffered log entries.
	Sync() error
}

// MockLogger discards everything. Used by tests across the module.
type MockLogger struct{}

func (m *MockLogger) Debug(msg string, fields ...interface{})  {}
func (m *MockLogger) Info(msg string, fields ...interface{})   {}
func (m *MockLogger) Warn(msg string, fields ...interface{})   {}
func (m *MockLogger) Error(msg string, fields ...interface{})  {}
func (m *MockLogger) Fatalf(msg string, fields ...interface{}) {}
func (m *MockLogger) Sync() error                              { return nil }
