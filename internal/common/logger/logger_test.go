package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"info", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestZapAdapter_FieldsAndErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapAdapter(zap.New(core)).With(map[string]interface{}{"sessionId": "s-1"})

	log.Info("turn processed", map[string]interface{}{"turn": 3})
	log.WithError(errors.New("boom")).Warn("sink write failed", nil)
	log.Error("nlu failed", map[string]interface{}{"error": errors.New("timeout")})

	entries := logs.All()
	assert.Len(t, entries, 3)

	assert.Equal(t, "turn processed", entries[0].Message)
	assert.Equal(t, "s-1", entries[0].ContextMap()["sessionId"])
	assert.EqualValues(t, 3, entries[0].ContextMap()["turn"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])

	assert.Equal(t, "timeout", entries[2].ContextMap()["error"])
}

func TestNewWithOutput_FallsBackOnBadSink(t *testing.T) {
	l := NewWithOutput("info", "json", "unknown-scheme://nowhere")
	assert.NotNil(t, l)
	l.Info("still usable")
}

func TestNoOpAndTestLoggers(t *testing.T) {
	NewNoOpLogger().Info("discarded", map[string]interface{}{"k": "v"})
	NewTestLogger(t).Debug("visible in -v", nil)
}
