package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tcases := []struct {
		name    string
		env     string
		level   string
		enabled zapcore.Level
		err     bool
	}{
		{name: "dev default", env: "dev", enabled: zapcore.DebugLevel},
		{name: "prod default", env: "prod", enabled: zapcore.InfoLevel},
		{name: "explicit level", env: "prod", level: "warn", enabled: zapcore.WarnLevel},
		{name: "invalid level", env: "dev", level: "loud", err: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			l, err := New(tc.env, tc.level)
			if tc.err {
				assert.Error(t, err, "expected error for level %q", tc.level)
				return
			}

			assert.NoError(t, err)
			assert.True(t, l.Desugar().Core().Enabled(tc.enabled), "expected %s to be enabled", tc.enabled)
			assert.False(t, l.Desugar().Core().Enabled(tc.enabled-1), "expected %s to be disabled", tc.enabled-1)
		})
	}
}
