//go:build !govips || !cgo

package pipeline

import "go.uber.org/zap"

// Startup is a no-op without libvips; the pure Go codecs need no setup.
func Startup(*zap.Logger) error {
	return nil
}

func Shutdown() {}

func CodecName() string {
	return "go"
}

func newEncoder() Encoder {
	return stdlibEncoder{}
}
