//go:build opus

package codec

import "gopkg.in/hraban/opus.v2"

// Opus support is behind a build tag, matching the teacher's
// lk_codecs_opus.go convention: Opus needs libopus + cgo, so it is opt-in
// via `-tags opus` rather than a hard module dependency for every build.

type opusCodec struct {
	enc      *opus.Encoder
	dec      *opus.Decoder
	channels int
	frame    int // samples per channel per 20ms frame at 48kHz
}

func newOpusCodec(channels int) (*opusCodec, error) {
	enc, err := opus.NewEncoder(48000, channels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	dec, err := opus.NewDecoder(48000, channels)
	if err != nil {
		return nil, err
	}
	return &opusCodec{enc: enc, dec: dec, channels: channels, frame: 960}, nil
}

func (c *opusCodec) encode(pcm []int16) ([]byte, error) {
	out := make([]byte, 4000)
	n, err := c.enc.Encode(pcm, out)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

func (c *opusCodec) decode(payload []byte) ([]int16, error) {
	out := make([]int16, c.frame*c.channels)
	n, err := c.dec.Decode(payload, out)
	if err != nil {
		return nil, err
	}
	return out[:n*c.channels], nil
}
