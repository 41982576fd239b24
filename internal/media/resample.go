package media

// ResamplePCM converts 16-bit mono little-endian PCM from one sample rate
// to another by linear interpolation. Speech content only; a polyphase
// filter would be overkill for 16kHz/24kHz collaborator output going to
// 48kHz.
func ResamplePCM(pcm []byte, from, to int) []byte {
	if from == to || from <= 0 || to <= 0 || len(pcm) < 2 {
		return pcm
	}
	in := bytesToPCM(pcm)
	outLen := int(int64(len(in)) * int64(to) / int64(from))
	if outLen == 0 {
		return nil
	}
	out := make([]int16, outLen)
	for i := range out {
		// Source position for output sample i.
		pos := float64(i) * float64(from) / float64(to)
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = int16(float64(in[j])*(1-frac) + float64(in[j+1])*frac)
	}
	return pcmToBytes(out)
}
