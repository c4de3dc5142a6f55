package codec

import "math"

// tapsPerPhase is the filter length per polyphase branch, per spec §4.1
// ("Filter length ≈ 16 taps per phase").
const tapsPerPhase = 16

// Resampler converts PCM16 mono between arbitrary sample rates using a
// polyphase FIR built from a Kaiser-windowed sinc prototype, decomposed by
// GCD(from, to) into an upsample-by-L / downsample-by-M pair. Downsampling
// applies the anti-alias filter before decimation; upsampling applies
// interpolation gain compensation (×L) so the passband stays at unity
// gain. History is carried across Resample calls so 20ms frame boundaries
// introduce no discontinuity; Reset clears it.
//
// Frame-by-frame linear interpolation causes audible crackle at 8->24kHz
// for speech; this is the reason a polyphase FIR is used instead.
type Resampler struct {
	fromHz, toHz int
	l, m         int // interpolation / decimation factors
	taps         [][]float64
	history      []float64 // tail of the (virtual) upsampled input stream
	phase        int       // current polyphase branch, advances by m samples of the upsampled stream each output
}

// NewResampler builds a resampler for converting PCM16 audio from fromHz
// to toHz. Passing fromHz == toHz is valid; Resample then returns its
// input unchanged (identity law required by spec §8).
func NewResampler(fromHz, toHz int) *Resampler {
	r := &Resampler{fromHz: fromHz, toHz: toHz}
	if fromHz <= 0 || toHz <= 0 || fromHz == toHz {
		r.l, r.m = 1, 1
		return r
	}
	g := gcd(fromHz, toHz)
	r.l = toHz / g
	r.m = fromHz / g
	r.buildFilter()
	r.history = make([]float64, (tapsPerPhase*r.l)-1)
	return r
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

// buildFilter constructs the L polyphase branches of a single
// Kaiser-windowed sinc lowpass prototype with cutoff at
// min(1/L, 1/M) (normalized to the upsampled rate), split taps-per-phase
// taps per branch.
func (r *Resampler) buildFilter() {
	const beta = 7.857 // Kaiser window shape, ~80dB stopband attenuation
	n := tapsPerPhase * r.l
	cutoff := 1.0 / math.Max(float64(r.l), float64(r.m))
	proto := make([]float64, n)
	center := float64(n-1) / 2
	for i := 0; i < n; i++ {
		x := float64(i) - center
		var sinc float64
		if x == 0 {
			sinc = 2 * cutoff
		} else {
			sinc = math.Sin(2*math.Pi*cutoff*x) / (math.Pi * x)
		}
		w := kaiser(float64(i), float64(n-1), beta)
		proto[i] = sinc * w
	}
	// Interpolation gain compensation: unity passband gain after the L-fold
	// zero-stuffing that precedes this filter conceptually.
	gain := float64(r.l)
	for i := range proto {
		proto[i] *= gain
	}

	r.taps = make([][]float64, r.l)
	for p := 0; p < r.l; p++ {
		branch := make([]float64, tapsPerPhase)
		for k := 0; k < tapsPerPhase; k++ {
			idx := k*r.l + p
			if idx < len(proto) {
				branch[k] = proto[idx]
			}
		}
		r.taps[p] = branch
	}
}

func kaiser(i, n, beta float64) float64 {
	if n == 0 {
		return 1
	}
	x := (2*i/n - 1)
	arg := beta * math.Sqrt(math.Max(0, 1-x*x))
	return besselI0(arg) / besselI0(beta)
}

// besselI0 is the zeroth-order modified Bessel function of the first
// kind, computed by series expansion (sufficient precision for window
// design use, not a general-purpose numerics routine).
func besselI0(x float64) float64 {
	sum := 1.0
	term := 1.0
	halfX := x / 2
	for k := 1; k < 25; k++ {
		term *= (halfX / float64(k))
		term *= (halfX / float64(k))
		sum += term
		if term < 1e-12*sum {
			break
		}
	}
	return sum
}

// Reset clears the carried history, as if this Resampler were newly
// constructed. Use between calls that should not share continuity (e.g.
// a new call on a reused pool object).
func (r *Resampler) Reset() {
	for i := range r.history {
		r.history[i] = 0
	}
	r.phase = 0
}

// Resample converts pcm (mono PCM16 at fromHz) to mono PCM16 at toHz,
// carrying filter history across calls for continuity.
func (r *Resampler) Resample(pcm []int16) []int16 {
	if r.l == 1 && r.m == 1 {
		out := make([]int16, len(pcm))
		copy(out, pcm)
		return out
	}

	// Conceptual upsampled stream: insert L-1 zeros between input samples.
	// history holds the tail of the previous upsampled stream (length =
	// tapsPerPhase*L - 1) so this call's filter taps see true continuity.
	upLen := len(pcm) * r.l
	stream := make([]float64, len(r.history)+upLen)
	copy(stream, r.history)
	for i, s := range pcm {
		stream[len(r.history)+i*r.l] = float64(s)
	}

	var out []int16
	// Output sample n corresponds to position n*m in the upsampled stream
	// (0-indexed from the start of `stream`, offset by the history length
	// already consumed conceptually before this call).
	pos := r.phase
	histLen := len(r.history)
	for pos < upLen {
		branch := pos % r.l
		base := histLen + pos - branch // aligns to the sample that carries phase 0
		taps := r.taps[branch]
		var acc float64
		for k := 0; k < tapsPerPhase; k++ {
			srcIdx := base - k*r.l
			if srcIdx >= 0 && srcIdx < len(stream) {
				acc += taps[k] * stream[srcIdx]
			}
		}
		out = append(out, clampInt16(acc))
		pos += r.m
	}
	r.phase = pos - upLen

	// Carry the tail of this call's upsampled stream forward as history
	// for the next call.
	tailStart := len(stream) - (tapsPerPhase*r.l - 1)
	if tailStart < 0 {
		tailStart = 0
	}
	newHist := make([]float64, tapsPerPhase*r.l-1)
	copy(newHist, stream[tailStart:])
	r.history = newHist

	return out
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
