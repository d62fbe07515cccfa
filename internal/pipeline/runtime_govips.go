//go:build govips && cgo

package pipeline

import (
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	"go.uber.org/zap"
)

var (
	vipsOnce    sync.Once
	vipsMu      sync.Mutex
	vipsRunning bool
)

// Startup brings libvips up once per process and routes its warnings to
// logger. Later calls are no-ops.
func Startup(logger *zap.Logger) error {
	vipsOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
		vipsLog := logger.Named("vips")
		vips.LoggingSettings(func(domain string, level vips.LogLevel, msg string) {
			fields := []zap.Field{zap.String("domain", domain)}
			switch level {
			case vips.LogLevelError, vips.LogLevelCritical:
				vipsLog.Error(msg, fields...)
			case vips.LogLevelWarning:
				vipsLog.Warn(msg, fields...)
			default:
				vipsLog.Debug(msg, fields...)
			}
		}, vips.LogLevelWarning)

		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   64 * 1024 * 1024,
			MaxCacheSize:  0,
		})

		vipsMu.Lock()
		vipsRunning = true
		vipsMu.Unlock()
	})
	return nil
}

func Shutdown() {
	vipsMu.Lock()
	defer vipsMu.Unlock()
	if vipsRunning {
		vips.Shutdown()
		vipsRunning = false
	}
}

func CodecName() string {
	return "libvips"
}

func newEncoder() Encoder {
	return govipsEncoder{}
}
