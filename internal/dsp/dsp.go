// Package dsp implements the ingress audio-conditioning chain applied to
// every decoded PCM16 frame before it is handed to the AI uplink: a noise
// gate, a DC blocker, an automatic gain control stage, and a soft gate
// that ducks caller audio while the AI is speaking. It also raises the
// barge-in signal the turn controller uses to interrupt playback.
//
// Grounded on the teacher's pcm16leMonoEnergy RMS helper in
// bridge/media_bridge.go, generalized from a one-shot metric into a
// stateful per-call chain.
package dsp

import "math"

const (
	dcBlockerAlpha = 0.995
	agcTargetRMS   = 4000.0
	agcGainMin     = 0.8
	agcGainMax     = 4.0
	softClip       = 24000.0
	bargeInRMS     = 1500.0
	softGateFactor = 0.15
	noiseFloorRMS  = 100.0
)

// Chain holds the per-call state for the ingress DSP pipeline. A Chain
// must not be shared across calls; construct one per call via New and
// Reset it if the underlying call is reused (it is not, today, but
// Reset keeps the type consistent with the rest of the per-call state
// structs in this module).
type Chain struct {
	dcPrevIn  float64
	dcPrevOut float64
	agcGain   float64
}

// New returns a Chain ready to process the first frame of a call.
func New() *Chain {
	c := &Chain{}
	c.Reset()
	return c
}

// Reset restores the chain to its initial state, as if no frames had
// been processed yet.
func (c *Chain) Reset() {
	c.dcPrevIn = 0
	c.dcPrevOut = 0
	c.agcGain = 1.0
}

// Process runs pcm (mono PCM16, modified in place) through the DC
// blocker, AGC, and soft gate, and reports whether the raw input energy
// crossed the barge-in threshold. aiSpeaking indicates whether the AI's
// response is currently being played to the caller; while true, low-energy
// caller audio is attenuated rather than forwarded, to suppress echo and
// room noise from reaching the AI mid-response.
func (c *Chain) Process(pcm []int16, aiSpeaking bool) (bargeIn bool) {
	if len(pcm) == 0 {
		return false
	}

	rawRMS := rms(pcm)
	bargeIn = rawRMS >= bargeInRMS

	if aiSpeaking && rawRMS < noiseFloorRMS {
		for i := range pcm {
			pcm[i] = 0
		}
		return false
	}

	for i, s := range pcm {
		x := float64(s)

		// DC blocker: y[n] = x[n] - x[n-1] + alpha*y[n-1]
		y := x - c.dcPrevIn + dcBlockerAlpha*c.dcPrevOut
		c.dcPrevIn = x
		c.dcPrevOut = y

		pcm[i] = int16(clamp(y, -32768, 32767))
	}

	// AGC: adjust gain toward the target RMS, clamped to the allowed range.
	postDCRMS := rms(pcm)
	if postDCRMS > 1e-6 {
		desired := agcTargetRMS / postDCRMS
		c.agcGain = clamp(desired, agcGainMin, agcGainMax)
	}

	for i, s := range pcm {
		v := float64(s) * c.agcGain
		v = clamp(v, -softClip, softClip)

		if aiSpeaking && rawRMS < bargeInRMS {
			v *= softGateFactor
		}

		pcm[i] = int16(v)
	}

	return bargeIn
}

func rms(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(pcm)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
