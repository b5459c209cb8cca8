//go:build !govips || !cgo

package transform

func Startup() error {
	return nil
}

func Shutdown() {}

func DefaultResampler() Resampler {
	return LanczosResampler{}
}
