package dsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func loudFrame(n int) []int16 {
	pcm := make([]int16, n)
	for i := range pcm {
		if i%2 == 0 {
			pcm[i] = 20000
		} else {
			pcm[i] = -20000
		}
	}
	return pcm
}

func quietFrame(n int) []int16 {
	pcm := make([]int16, n)
	for i := range pcm {
		if i%2 == 0 {
			pcm[i] = 200
		} else {
			pcm[i] = -200
		}
	}
	return pcm
}

func belowNoiseFloorFrame(n int) []int16 {
	pcm := make([]int16, n)
	for i := range pcm {
		if i%2 == 0 {
			pcm[i] = 50
		} else {
			pcm[i] = -50
		}
	}
	return pcm
}

func TestProcessEmptyFrameIsNoop(t *testing.T) {
	c := New()
	assert.False(t, c.Process(nil, false))
}

func TestProcessReportsBargeInOnLoudFrame(t *testing.T) {
	c := New()
	bargeIn := c.Process(loudFrame(160), false)
	assert.True(t, bargeIn)
}

func TestProcessNoBargeInOnQuietFrame(t *testing.T) {
	c := New()
	bargeIn := c.Process(quietFrame(160), false)
	assert.False(t, bargeIn)
}

func TestProcessDucksQuietAudioWhileAISpeaking(t *testing.T) {
	withoutDuck := New()
	pcmA := quietFrame(160)
	withoutDuck.Process(pcmA, false)

	withDuck := New()
	pcmB := quietFrame(160)
	withDuck.Process(pcmB, true)

	var sumA, sumB float64
	for i := range pcmA {
		sumA += abs(float64(pcmA[i]))
		sumB += abs(float64(pcmB[i]))
	}
	assert.Less(t, sumB, sumA, "quiet audio should be attenuated further while the AI is speaking")
}

func TestProcessZeroesBelowNoiseFloorWhileAISpeaking(t *testing.T) {
	c := New()
	pcm := belowNoiseFloorFrame(160)
	bargeIn := c.Process(pcm, true)

	assert.False(t, bargeIn)
	for _, s := range pcm {
		assert.Equal(t, int16(0), s)
	}
}

func TestProcessBelowNoiseFloorNotGatedWhenAIQuiet(t *testing.T) {
	c := New()
	pcm := belowNoiseFloorFrame(160)
	c.Process(pcm, false)

	var sum float64
	for _, s := range pcm {
		sum += abs(float64(s))
	}
	assert.Greater(t, sum, 0.0, "noise-floor gate only applies while the AI is speaking")
}

func TestResetRestoresInitialState(t *testing.T) {
	c := New()
	c.Process(loudFrame(160), false)
	c.Reset()
	assert.Equal(t, 0.0, c.dcPrevIn)
	assert.Equal(t, 0.0, c.dcPrevOut)
	assert.Equal(t, 1.0, c.agcGain)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
