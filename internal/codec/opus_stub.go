//go:build !opus

package codec

import "errors"

// Stub used when built without -tags opus: libopus/cgo aren't always
// available on the target, so Opus support is opt-in.

type opusCodec struct{}

func newOpusCodec(int) (*opusCodec, error) {
	return nil, errors.New("opus codec not built: rebuild with -tags opus")
}

func (c *opusCodec) encode([]int16) ([]byte, error) {
	return nil, errors.New("opus codec not built: rebuild with -tags opus")
}

func (c *opusCodec) decode([]byte) ([]int16, error) {
	return nil, errors.New("opus codec not built: rebuild with -tags opus")
}
