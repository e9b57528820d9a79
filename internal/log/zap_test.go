package log

import (
	"bytes"
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/llamacompass/compass/pkg/types"
)

// mockWriteSyncer is a mock implementation of the zapcore.WriteSyncer interface for testing purposes.
type mockWriteSyncer struct {
	buffer bytes.Buffer
}

func (m *mockWriteSyncer) Write(p []byte) (n int, err error) {
	return m.buffer.Write(p)
}

func (m *mockWriteSyncer) Sync() error {
	return nil
}

func newTestLogger(level zapcore.Level) (*zapLogger, *mockWriteSyncer) {
	mock := &mockWriteSyncer{}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), mock, level)
	return &zapLogger{logger: zap.New(core)}, mock
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()
	logger := NewLogger(ctx)
	if logger == nil {
		t.Fatal("Expected logger to be non-nil")
	}
}

func TestNewLogger_ReusesContextLogger(t *testing.T) {
	want := &types.MockLogger{}
	ctx := WithLogger(context.Background(), want)
	if got := NewLogger(ctx); got != want {
		t.Fatalf("Expected logger from context, got %T", got)
	}
}

func TestNewLoggerWithLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		if _, err := NewLoggerWithLevel(level); err != nil {
			t.Errorf("NewLoggerWithLevel(%q) unexpected error: %v", level, err)
		}
	}
	if _, err := NewLoggerWithLevel("verbose"); err == nil {
		t.Error("Expected an error for an unknown level")
	}
}

func TestWithLogger(t *testing.T) {
	ctx := context.Background()
	logger := NewLogger(ctx)
	ctxWithLogger := WithLogger(ctx, logger)
	if ctxWithLogger.Value(loggerKey) == nil {
		t.Fatal("Expected logger to be set in context")
	}
	if FromContext(ctxWithLogger) != logger {
		t.Fatal("Expected FromContext to return the stored logger")
	}
}

func TestFromContext_Default(t *testing.T) {
	if _, ok := FromContext(context.Background()).(*types.MockLogger); !ok {
		t.Fatal("Expected a no-op logger when none is stored")
	}
}

func TestLevels(t *testing.T) {
	tests := []struct {
		name  string
		level zapcore.Level
		log   func(l *zapLogger)
		want  string
	}{
		{name: "debug", level: zap.DebugLevel, log: func(l *zapLogger) { l.Debug("debug message") }, want: "debug message"},
		{name: "info", level: zap.InfoLevel, log: func(l *zapLogger) { l.Info("info message") }, want: "info message"},
		{name: "warn", level: zap.WarnLevel, log: func(l *zapLogger) { l.Warn("warn message") }, want: "warn message"},
		{name: "error", level: zap.ErrorLevel, log: func(l *zapLogger) { l.Error("error message") }, want: "error message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, mock := newTestLogger(tt.level)
			tt.log(logger)
			if !bytes.Contains(mock.buffer.Bytes(), []byte(tt.want)) {
				t.Fatalf("Expected %q to be logged, got %s", tt.want, mock.buffer.String())
			}
		})
	}
}

func TestFieldsAreKeptAndOthersDropped(t *testing.T) {
	logger, mock := newTestLogger(zap.InfoLevel)
	logger.Info("ingested scan", zap.String("scanID", "scan-1"), "not a field", 42)

	out := mock.buffer.String()
	if !bytes.Contains(mock.buffer.Bytes(), []byte(`"scanID":"scan-1"`)) {
		t.Fatalf("Expected scanID field, got %s", out)
	}
	if bytes.Contains(mock.buffer.Bytes(), []byte("not a field")) {
		t.Fatalf("Expected non-zap values to be dropped, got %s", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	logger, mock := newTestLogger(zap.WarnLevel)
	logger.Info("quiet")
	if mock.buffer.Len() != 0 {
		t.Fatalf("Expected info to be filtered at warn level, got %s", mock.buffer.String())
	}
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync() unexpected error: %v", err)
	}
}
