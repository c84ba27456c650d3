package stackforge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	scoped := logger.WithField("player_id", testPlayer).WithFields(map[string]interface{}{"operation": "split"})
	scoped.Info("Split %d uses", 3)
	logger.Warn("plain")

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "Split 3 uses", entries[0].Message)
		assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
		assert.Equal(t, map[string]interface{}{"player_id": testPlayer, "operation": "split"}, entries[0].ContextMap())
		assert.Empty(t, entries[1].ContextMap())
	}
	assert.Equal(t, map[string]interface{}{"player_id": testPlayer, "operation": "split"}, scoped.Fields())
	assert.Empty(t, logger.Fields())
}
