package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sipaibridge/internal/audio"
	"sipaibridge/internal/codec"
	"sipaibridge/internal/dsp"
)

func g711Payload(t *testing.T, n int) []byte {
	t.Helper()
	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = int16(i % 100)
	}
	wire, err := codec.New(codec.PCMU, 1)
	require.NoError(t, err)
	payload, err := wire.Encode(pcm)
	require.NoError(t, err)
	return payload
}

func TestHandleRTPDecodesPCMUAtTargetRate(t *testing.T) {
	descriptors := map[uint8]codec.Descriptor{
		0: {Kind: codec.PCMU, PayloadType: 0, ClockRate: 8000, SampleRate: 8000, Channels: 1},
	}
	uplink := audio.NewBoundedStream[audio.Frame](4)
	p := NewPipeline(descriptors, 8000, uplink)

	payload := g711Payload(t, 160)
	_, err := p.HandleRTP(1, 160, 0, payload, false)
	require.NoError(t, err)

	frame, ok := uplink.TryGet()
	require.True(t, ok)
	assert.Len(t, frame.PCM, 160)
}

// TestHandleRTPG722FillsSilenceAtAudioRateNotClockRate proves the
// ClockRate/SampleRate split: G.722's RTP clock runs at 8kHz (160
// samples/20ms advance) but its decoded PCM16 is 16kHz (320
// samples/20ms). A gap-fill gone wrong would either crash resampling or
// synthesize half-length silence frames.
func TestHandleRTPG722FillsSilenceAtAudioRateNotClockRate(t *testing.T) {
	descriptors := map[uint8]codec.Descriptor{
		9: {Kind: codec.G722, PayloadType: 9, ClockRate: 8000, SampleRate: 16000, Channels: 1},
	}
	uplink := audio.NewBoundedStream[audio.Frame](8)
	p := NewPipeline(descriptors, 16000, uplink)

	g722, err := codec.New(codec.G722, 1)
	require.NoError(t, err)
	pcm := make([]int16, 320) // one 20ms frame at 16kHz

	// First packet establishes baseline; no gap yet.
	wire, err := g722.Encode(pcm)
	require.NoError(t, err)
	_, err = p.HandleRTP(100, 16000, 9, wire, false)
	require.NoError(t, err)
	first, ok := uplink.TryGet()
	require.True(t, ok)
	assert.Len(t, first.PCM, 320, "G.722 decode should yield 16kHz-rate samples, not 8kHz-rate")

	// Second packet: sequence advances by one, but timestamp jumps by
	// two clock-domain frames (320 = 2*160 at the 8kHz RTP clock),
	// signaling one missed 20ms frame of comfort noise.
	_, err = p.HandleRTP(101, 16000+320, 9, wire, false)
	require.NoError(t, err)

	gapFrame, ok := uplink.TryGet()
	require.True(t, ok, "a silence frame should have been synthesized for the detected gap")
	assert.Len(t, gapFrame.PCM, 320, "silence fill must use the audio sample rate (320), not the clock rate (160)")

	real, ok := uplink.TryGet()
	require.True(t, ok)
	assert.Len(t, real.PCM, 320)
}

func TestHandleRTPUnknownPayloadTypeFallsBackToRFC3551(t *testing.T) {
	uplink := audio.NewBoundedStream[audio.Frame](2)
	p := NewPipeline(map[uint8]codec.Descriptor{}, 8000, uplink)

	payload := g711Payload(t, 160)
	_, err := p.HandleRTP(1, 160, 0, payload, false) // PT 0 -> PCMU fallback
	require.NoError(t, err)

	_, ok := uplink.TryGet()
	assert.True(t, ok)
}

func TestHandleRTPUnknownPayloadTypeNoFallbackErrors(t *testing.T) {
	uplink := audio.NewBoundedStream[audio.Frame](2)
	p := NewPipeline(map[uint8]codec.Descriptor{}, 8000, uplink)

	_, err := p.HandleRTP(1, 160, 99, []byte{0x01}, false)
	require.Error(t, err)
}

func TestHandleRTPNoGapOnConsecutivePackets(t *testing.T) {
	descriptors := map[uint8]codec.Descriptor{
		0: {Kind: codec.PCMU, PayloadType: 0, ClockRate: 8000, SampleRate: 8000, Channels: 1},
	}
	uplink := audio.NewBoundedStream[audio.Frame](8)
	p := NewPipeline(descriptors, 8000, uplink)

	payload := g711Payload(t, 160)
	_, err := p.HandleRTP(1, 160, 0, payload, false)
	require.NoError(t, err)
	_, err = p.HandleRTP(2, 320, 0, payload, false)
	require.NoError(t, err)

	_, ok := uplink.TryGet()
	require.True(t, ok)
	_, ok = uplink.TryGet()
	require.True(t, ok)
	_, ok = uplink.TryGet()
	assert.False(t, ok, "no gap was introduced, so only the two real frames should be enqueued")
}

func TestHandleRTPSequenceLossDoesNotTriggerGapFill(t *testing.T) {
	descriptors := map[uint8]codec.Descriptor{
		0: {Kind: codec.PCMU, PayloadType: 0, ClockRate: 8000, SampleRate: 8000, Channels: 1},
	}
	uplink := audio.NewBoundedStream[audio.Frame](8)
	p := NewPipeline(descriptors, 8000, uplink)

	payload := g711Payload(t, 160)
	_, err := p.HandleRTP(1, 160, 0, payload, false)
	require.NoError(t, err)
	// Sequence jumps by 3 (packet loss, not DTX); gap-fill must not fire
	// since observeGap only fills when seq advances by exactly one.
	_, err = p.HandleRTP(4, 640, 0, payload, false)
	require.NoError(t, err)

	_, ok := uplink.TryGet()
	require.True(t, ok)
	_, ok = uplink.TryGet()
	require.True(t, ok)
	_, ok = uplink.TryGet()
	assert.False(t, ok)
}

func TestHandleRTPResamplesWhenTargetRateDiffers(t *testing.T) {
	descriptors := map[uint8]codec.Descriptor{
		0: {Kind: codec.PCMU, PayloadType: 0, ClockRate: 8000, SampleRate: 8000, Channels: 1},
	}
	uplink := audio.NewBoundedStream[audio.Frame](4)
	p := NewPipeline(descriptors, 16000, uplink) // AI wants 16kHz, codec decodes at 8kHz

	payload := g711Payload(t, 160)
	_, err := p.HandleRTP(1, 160, 0, payload, false)
	require.NoError(t, err)

	frame, ok := uplink.TryGet()
	require.True(t, ok)
	assert.Len(t, frame.PCM, 320, "8kHz->16kHz resample should double the sample count")
}

func TestResetClearsDSPStateNotCodecHistory(t *testing.T) {
	descriptors := map[uint8]codec.Descriptor{
		0: {Kind: codec.PCMU, PayloadType: 0, ClockRate: 8000, SampleRate: 8000, Channels: 1},
	}
	uplink := audio.NewBoundedStream[audio.Frame](4)
	p := NewPipeline(descriptors, 8000, uplink)

	payload := g711Payload(t, 160)
	_, err := p.HandleRTP(1, 160, 0, payload, false)
	require.NoError(t, err)

	assert.NotPanics(t, func() { p.Reset() })
	assert.Equal(t, dsp.New(), p.dsp, "Reset must restore the DSP chain to its initial state")
	assert.Contains(t, p.states, uint8(0), "Reset must keep the per-payload-type codec state")
}
