package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOutput(t *testing.T) {
	tests := []struct {
		level   string
		want    logrus.Level
		wantErr bool
	}{
		{"", logrus.InfoLevel, false},
		{"debug", logrus.DebugLevel, false},
		{"WARN", logrus.WarnLevel, false},
		{"chatty", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := NewWithOutput(&bytes.Buffer{}, tt.level)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithOutput(&buf, "info")
	require.NoError(t, err)

	logger.WithFields(logrus.Fields{"partition": 3, "rows": 10}).Info("partition reduced")
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, `msg="partition reduced"`)
	assert.Contains(t, out, "partition=3")
	assert.Contains(t, out, "rows=10")
	assert.NotContains(t, out, "hidden")
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Error("dropped")
	assert.Equal(t, logrus.PanicLevel, logger.GetLevel())
}
