package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"development", "production", ""} {
		l, err := New(mode, "info")
		require.NoError(t, err, mode)
		assert.NotNil(t, l.SugaredLogger)
	}

	_, err := New("development", "loud")
	assert.Error(t, err)
}

func TestWithCarriesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.With("source", "maxi").Info("harvest finished", "offers", 12)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "harvest finished", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "maxi", fields["source"])
	assert.EqualValues(t, 12, fields["offers"])
}
