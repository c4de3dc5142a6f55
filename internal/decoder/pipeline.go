// Package decoder implements the ingress pipeline: RTP payload-type
// resolution, DTX/silence-suppression gap filling, codec decode, stereo
// fold, resample to the AI's sample rate, DSP conditioning, and uplink
// enqueue.
//
// Grounded on the teacher's pipeline.BuildSipDecodeChain and
// silenceFiller (bridge/pipeline/sip_decode.go, silence_filler.go):
// the RTP-sequence/timestamp gap detection here is the same shape,
// rebuilt over this module's own codec/dsp/audio packages instead of
// livekit/media-sdk's RTP handler chain.
package decoder

import (
	"sipaibridge/internal/audio"
	"sipaibridge/internal/codec"
	"sipaibridge/internal/dsp"
)

// maxGapFrames bounds how many silence frames a single detected DTX gap
// will fill, matching the teacher's silenceFiller guard against
// flooding the pipeline when a timestamp discontinuity is actually a
// stream reset rather than a comfort-noise gap.
const maxGapFrames = 25

// codecState is the per-payload-type decode chain: a stateful codec
// instance (G.722/Opus carry ADPCM/Opus history across packets), a
// resampler with its own carried filter history, and the caller's DSP
// chain, plus the running RTP seq/timestamp used for gap detection.
type codecState struct {
	desc       codec.Descriptor
	codec      *codec.Codec
	resampler  *codec.Resampler
	lastSeq    uint16
	lastTS     uint32
	havePacket bool
}

// Pipeline turns inbound RTP packets into conditioned mono PCM16 frames
// at targetRate, pushed onto an uplink queue for the AI realtime client.
type Pipeline struct {
	descriptors map[uint8]codec.Descriptor
	states      map[uint8]*codecState
	targetRate  int
	dsp         *dsp.Chain
	uplink      *audio.BoundedStream[audio.Frame]
}

// NewPipeline builds a decode pipeline for a call. descriptors maps the
// payload types negotiated in the SDP answer to their codec kind;
// lookups that miss fall back to the well-known static PT0 (µ-law) /
// PT8 (A-law) assignments per RFC 3551.
func NewPipeline(descriptors map[uint8]codec.Descriptor, targetRate int, uplink *audio.BoundedStream[audio.Frame]) *Pipeline {
	return &Pipeline{
		descriptors: descriptors,
		states:      make(map[uint8]*codecState),
		targetRate:  targetRate,
		dsp:         dsp.New(),
		uplink:      uplink,
	}
}

// HandleRTP processes one inbound RTP packet and returns whether its
// energy crossed the barge-in threshold.
func (p *Pipeline) HandleRTP(seq uint16, ts uint32, payloadType uint8, payload []byte, aiSpeaking bool) (bargeIn bool, err error) {
	st, err := p.stateFor(payloadType)
	if err != nil {
		return false, err
	}

	missed := st.observeGap(seq, ts)
	if missed > 0 {
		p.fillSilence(st, missed)
	}

	pcm, err := st.codec.Decode(payload)
	if err != nil {
		return false, err
	}

	return p.conditionAndEnqueue(st, pcm, aiSpeaking), nil
}

func (p *Pipeline) stateFor(pt uint8) (*codecState, error) {
	if st, ok := p.states[pt]; ok {
		return st, nil
	}

	desc, ok := p.descriptors[pt]
	if !ok {
		desc, ok = codec.DescriptorForPayloadType(pt)
		if !ok {
			return nil, unknownPayloadTypeError{pt: pt}
		}
	}

	c, err := codec.New(desc.Kind, desc.Channels)
	if err != nil {
		return nil, err
	}

	st := &codecState{
		desc:  desc,
		codec: c,
	}
	if desc.SampleRate != p.targetRate {
		st.resampler = codec.NewResampler(desc.SampleRate, p.targetRate)
	}
	p.states[pt] = st
	return st, nil
}

// observeGap detects a DTX/silence-suppression discontinuity: the RTP
// sequence number advances by exactly one (no packet loss) but the
// timestamp jumps by more than one frame's worth of samples. It returns
// the number of frames to synthesize as silence, capped at
// maxGapFrames.
func (st *codecState) observeGap(seq uint16, ts uint32) int {
	if !st.havePacket {
		st.havePacket = true
		st.lastSeq = seq
		st.lastTS = ts
		return 0
	}

	expectedSeq := st.lastSeq + 1
	samplesPerFrame := uint32(st.desc.ClockRate / 50) // 20ms
	expectedTS := st.lastTS + samplesPerFrame

	st.lastSeq = seq
	st.lastTS = ts

	if seq != expectedSeq || samplesPerFrame == 0 {
		return 0
	}

	tsDiff := ts - expectedTS
	missed := int(tsDiff) / int(samplesPerFrame)
	if missed <= 0 || missed > maxGapFrames {
		return 0
	}
	return missed
}

func (p *Pipeline) fillSilence(st *codecState, frames int) {
	samplesPerFrame := st.desc.SampleRate / 50
	for i := 0; i < frames; i++ {
		silence := make([]int16, samplesPerFrame)
		p.conditionAndEnqueue(st, silence, false)
	}
}

func (p *Pipeline) conditionAndEnqueue(st *codecState, pcm []int16, aiSpeaking bool) bool {
	if st.desc.Channels == 2 {
		pcm = codec.FoldStereoToMono(pcm)
	}
	if st.resampler != nil {
		pcm = st.resampler.Resample(pcm)
	}
	bargeIn := p.dsp.Process(pcm, aiSpeaking)
	p.uplink.Push(audio.Frame{PCM: pcm})
	return bargeIn
}

// Reset clears per-call DSP state (e.g. between calls on a pooled
// Pipeline); resampler and codec histories are call-scoped and are not
// reused, so only the DSP chain needs resetting here.
func (p *Pipeline) Reset() {
	p.dsp.Reset()
}

type unknownPayloadTypeError struct{ pt uint8 }

func (e unknownPayloadTypeError) Error() string {
	return "decoder: no codec for payload type and no RFC 3551 fallback"
}
