package audio

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input is returned unchanged when the rates match
// or are not positive. A trailing odd byte is ignored.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	sample := func(i int) int16 {
		return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}

	out := make([]byte, dstSamples*2)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sample(idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sample(idx + 1)
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DownmixMono averages every channel of buf into a single slice.
func DownmixMono(buf *Buffer) []float32 {
	n := buf.Len()
	if buf.Channels() == 1 {
		return buf.Data[0]
	}
	out := make([]float32, n)
	if buf.Channels() == 0 {
		return out
	}
	scale := 1 / float32(buf.Channels())
	for _, ch := range buf.Data {
		for i, s := range ch {
			out[i] += s * scale
		}
	}
	return out
}
