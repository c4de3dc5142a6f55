package codec

import "github.com/gotranspile/g722"

// G722 is a stateful ADPCM variant: the encoder/decoder both carry history
// across frames, so unlike G.711 we keep a long-lived pair per call rather
// than constructing fresh ones per packet.
type g722Codec struct {
	enc *g722.Encoder
	dec *g722.Decoder
}

func newG722Codec() *g722Codec {
	return &g722Codec{
		enc: g722.NewEncoder(g722.Rate64000, g722.FlagNone),
		dec: g722.NewDecoder(g722.Rate64000, g722.FlagNone),
	}
}

func (c *g722Codec) encode(pcm []int16) []byte {
	return c.enc.Encode(pcm)
}

func (c *g722Codec) decode(payload []byte) []int16 {
	return c.dec.Decode(payload)
}
