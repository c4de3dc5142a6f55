package codec

import "fmt"

type unsupportedKindError struct{ kind Kind }

func (e unsupportedKindError) Error() string {
	return fmt.Sprintf("codec: unsupported kind %s", e.kind)
}

func errUnsupportedKind(k Kind) error { return unsupportedKindError{kind: k} }

// Codec is a per-call, per-direction encode/decode session. G.722 and Opus
// are stateful (ADPCM history, Opus internal state), so a Codec is
// constructed once per call and reused across frames; G.711 is stateless
// and the g722/opus fields are left nil for it.
type Codec struct {
	kind Kind
	g722 *g722Codec
	opus *opusCodec
}

// New constructs a codec session for kind. channels matters only for Opus
// (mono vs stereo); it is ignored for the other kinds, which are always
// mono on the wire.
func New(kind Kind, channels int) (*Codec, error) {
	c := &Codec{kind: kind}
	switch kind {
	case PCMU, PCMA:
		// stateless, nothing to build
	case G722:
		c.g722 = newG722Codec()
	case Opus:
		if channels < 1 {
			channels = 1
		}
		oc, err := newOpusCodec(channels)
		if err != nil {
			return nil, err
		}
		c.opus = oc
	default:
		return nil, errUnsupportedKind(kind)
	}
	return c, nil
}

func (c *Codec) Kind() Kind { return c.kind }

// Encode converts a PCM16 frame to wire bytes for this codec.
func (c *Codec) Encode(pcm []int16) ([]byte, error) {
	switch c.kind {
	case PCMU, PCMA:
		return encodeG711(pcm, c.kind)
	case G722:
		return c.g722.encode(pcm), nil
	case Opus:
		return c.opus.encode(pcm)
	default:
		return nil, errUnsupportedKind(c.kind)
	}
}

// Decode converts wire bytes to a PCM16 frame at the codec's native rate.
func (c *Codec) Decode(payload []byte) ([]int16, error) {
	switch c.kind {
	case PCMU, PCMA:
		return decodeG711(payload, c.kind)
	case G722:
		return c.g722.decode(payload), nil
	case Opus:
		return c.opus.decode(payload)
	default:
		return nil, errUnsupportedKind(c.kind)
	}
}
