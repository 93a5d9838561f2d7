package audio

import "math"

// FadeGain maps fade progress x in [0,1] to a gain with a soft sigmoid knee:
// g(x) = clamp(0.5 + 1.5(x-0.5)/(1+|x-0.5|), 0, 1). g(0)=0 and g(1)=1.
func FadeGain(x float64) float64 {
	d := x - 0.5
	g := 0.5 + 1.5*d/(1+math.Abs(d))
	if g < 0 {
		return 0
	}
	if g > 1 {
		return 1
	}
	return g
}

// ApplyFade scales each interleaved frame i of dst by FadeGain(x0 + i*dx).
// A negative dx fades out.
func ApplyFade(dst []float32, channels int, x0, dx float64) {
	frames := len(dst) / channels
	for i := 0; i < frames; i++ {
		g := float32(FadeGain(x0 + float64(i)*dx))
		s := dst[i*channels : i*channels+channels]
		for c := range s {
			s[c] *= g
		}
	}
}
