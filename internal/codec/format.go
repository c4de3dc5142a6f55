// Package codec implements the bridge's codec kit (PCMU/PCMA/G722/Opus
// encode and decode, plus a rational-ratio polyphase resampler).
package codec

import "fmt"

// Kind enumerates the small, closed set of codecs this bridge negotiates.
// Modeled as a tagged variant rather than subclassing, per the design notes.
type Kind int

const (
	Unknown Kind = iota
	PCMU
	PCMA
	G722
	Opus
)

func (k Kind) String() string {
	switch k {
	case PCMU:
		return "PCMU"
	case PCMA:
		return "PCMA"
	case G722:
		return "G722"
	case Opus:
		return "OPUS"
	default:
		return "unknown"
	}
}

// SilenceByte is the RFC 3551 comfort-silence encoding for codecs whose
// wire format has one. Opus and G722 have no equivalent single-byte
// silence value, so a zeroed encode is used for those instead.
func (k Kind) SilenceByte() (b byte, ok bool) {
	switch k {
	case PCMU:
		return 0xFF, true
	case PCMA:
		return 0xD5, true
	default:
		return 0, false
	}
}

// ClockRate returns the RTP timestamp clock rate for the codec (distinct
// from the decoded PCM sample rate, which matches it for every codec here
// except G.722).
func (k Kind) ClockRate() int {
	switch k {
	case PCMU, PCMA:
		return 8000
	case G722:
		return 8000 // RFC 3551 quirk: G.722 RTP clock is 8kHz though audio is sampled at 16kHz.
	case Opus:
		return 48000
	default:
		return 8000
	}
}

// SampleRate returns the decoded PCM16 sample rate for the codec.
func (k Kind) SampleRate() int {
	switch k {
	case PCMU, PCMA:
		return 8000
	case G722:
		return 16000
	case Opus:
		return 48000
	default:
		return 8000
	}
}

// Descriptor describes a negotiated codec as parsed from SDP. Read-only
// for the lifetime of a call.
//
// ClockRate and SampleRate differ only for G.722 (see Kind.ClockRate's
// doc comment on the RFC 3551 8kHz-clock/16kHz-audio quirk): ClockRate
// governs RTP timestamp math (gap detection), SampleRate governs the
// actual PCM16 sample count a Decode/Encode call produces/consumes.
type Descriptor struct {
	Kind        Kind
	PayloadType uint8 // 7-bit RTP payload type
	ClockRate   int
	SampleRate  int
	Channels    int
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s pt=%d rate=%d ch=%d", d.Kind, d.PayloadType, d.SampleRate, d.Channels)
}

// DescriptorForPayloadType applies the static fallback map from spec §4.6:
// PT 0 -> mu-law, PT 8 -> A-law, when no SDP entry maps the payload type.
func DescriptorForPayloadType(pt uint8) (Descriptor, bool) {
	switch pt {
	case 0:
		return Descriptor{Kind: PCMU, PayloadType: 0, ClockRate: 8000, SampleRate: 8000, Channels: 1}, true
	case 8:
		return Descriptor{Kind: PCMA, PayloadType: 8, ClockRate: 8000, SampleRate: 8000, Channels: 1}, true
	default:
		return Descriptor{}, false
	}
}
