package codec

import "github.com/zaf/g711"

// encodeG711 and decodeG711 wrap github.com/zaf/g711, which operates on
// PCM16 little-endian byte slices rather than []int16, matching the rest
// of this package's byte-oriented encode/decode surface.
func encodeG711(pcm []int16, kind Kind) ([]byte, error) {
	lpcm := pcm16ToBytes(pcm)
	switch kind {
	case PCMU:
		return g711.EncodeUlaw(lpcm)
	case PCMA:
		return g711.EncodeAlaw(lpcm)
	default:
		return nil, errUnsupportedKind(kind)
	}
}

func decodeG711(payload []byte, kind Kind) ([]int16, error) {
	var lpcm []byte
	var err error
	switch kind {
	case PCMU:
		lpcm, err = g711.DecodeUlaw(payload)
	case PCMA:
		lpcm, err = g711.DecodeAlaw(payload)
	default:
		return nil, errUnsupportedKind(kind)
	}
	if err != nil {
		return nil, err
	}
	return bytesToPCM16(lpcm), nil
}

func pcm16ToBytes(s []int16) []byte {
	b := make([]byte, len(s)*2)
	for i, v := range s {
		b[i*2] = byte(uint16(v))
		b[i*2+1] = byte(uint16(v) >> 8)
	}
	return b
}

func bytesToPCM16(b []byte) []int16 {
	n := len(b) / 2
	s := make([]int16, n)
	for i := 0; i < n; i++ {
		s[i] = int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
	}
	return s
}
