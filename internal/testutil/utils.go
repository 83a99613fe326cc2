package testutil

import (
	"os"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TestLogger writes debug output to stdout. It does not log through t so room
// goroutines that outlive a test cannot trip the testing package.
func TestLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(os.Stdout),
		zapcore.DebugLevel,
	)
	logger := zap.New(core).Named("test")
	t.Cleanup(func() { _ = logger.Sync() })

	return logger.Sugar()
}
