package codec

// FoldStereoToMono averages interleaved stereo PCM16 samples into mono.
// Used for Opus stereo decode per spec §4.6 step 3.
func FoldStereoToMono(stereo []int16) []int16 {
	n := len(stereo) / 2
	mono := make([]int16, n)
	for i := 0; i < n; i++ {
		l := int32(stereo[i*2])
		r := int32(stereo[i*2+1])
		mono[i] = int16((l + r) / 2)
	}
	return mono
}

// ExpandMonoToStereo duplicates mono PCM16 samples into an interleaved
// stereo buffer (L=R=mono).
func ExpandMonoToStereo(mono []int16) []int16 {
	stereo := make([]int16, len(mono)*2)
	for i, v := range mono {
		stereo[i*2] = v
		stereo[i*2+1] = v
	}
	return stereo
}
