package stretch

import (
	"math"
	"testing"
)

func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)
	}
	return out
}

func TestUnityPassesThrough(t *testing.T) {
	p := NewVarispeed(1, 16)
	p.PushSource(ramp(10), 10)

	out := make([]float32, 20)
	n := p.PullOutput(out, 20)
	// one frame is held back as interpolation look-ahead
	if n != 9 {
		t.Fatalf("PullOutput = %d, want 9", n)
	}
	for i := 0; i < n; i++ {
		if out[i] != float32(i) {
			t.Errorf("out[%d] = %v, want %v", i, out[i], i)
		}
	}
}

func TestContinuesAcrossPushes(t *testing.T) {
	p := NewVarispeed(1, 16)
	src := ramp(20)
	out := make([]float32, 40)

	p.PushSource(src[:10], 10)
	n := p.PullOutput(out, 40)
	p.PushSource(src[10:], 10)
	n += p.PullOutput(out[n:], 40-n)

	if n != 19 {
		t.Fatalf("total output = %d, want 19", n)
	}
	for i := 0; i < n; i++ {
		if out[i] != float32(i) {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], i)
		}
	}
}

func TestTempoScalesRate(t *testing.T) {
	tests := []struct {
		name   string
		tempo  float64
		want   int
		second float32
	}{
		{"double tempo", 2, 5, 2},
		{"half tempo", 0.5, 20, 0.5},
	}
	for _, tt := range tests {
		p := NewVarispeed(1, 16)
		p.SetTempoRatio(tt.tempo)
		p.PushSource(ramp(11), 11)
		out := make([]float32, 64)
		n := p.PullOutput(out, 64)
		if n != tt.want {
			t.Errorf("%s: PullOutput = %d, want %d", tt.name, n, tt.want)
		}
		if out[1] != tt.second {
			t.Errorf("%s: out[1] = %v, want %v", tt.name, out[1], tt.second)
		}
	}
}

func TestPitchKeepsTiming(t *testing.T) {
	tests := []struct {
		name  string
		tempo float64
		pitch float64
		want  int
	}{
		{"octave up", 1, 12, 10},
		{"octave down", 1, -12, 10},
		{"fifth up at double tempo", 2, 7, 5},
	}
	for _, tt := range tests {
		p := NewVarispeed(1, 16)
		p.SetTempoRatio(tt.tempo)
		p.SetPitchSemitones(tt.pitch)
		p.PushSource(ramp(11), 11)
		out := make([]float32, 64)
		if n := p.PullOutput(out, 64); n != tt.want {
			t.Errorf("%s: PullOutput = %d, want %d", tt.name, n, tt.want)
		}
	}
}

// risingCrossings counts upward zero crossings.
func risingCrossings(x []float32) int {
	n := 0
	for i := 1; i < len(x); i++ {
		if x[i-1] < 0 && x[i] >= 0 {
			n++
		}
	}
	return n
}

func TestPitchShiftsFrequency(t *testing.T) {
	const frames = 16384
	src := make([]float32, frames)
	for i := range src {
		src[i] = float32(math.Sin(2 * math.Pi * float64(i) / 64))
	}

	tests := []struct {
		name   string
		pitch  float64
		lo, hi int
	}{
		{"unshifted", 0, 63, 65},
		{"octave up", 12, 110, 146},
		{"octave down", -12, 26, 38},
	}
	for _, tt := range tests {
		p := NewVarispeed(1, 256)
		p.SetPitchSemitones(tt.pitch)
		out := make([]float32, 0, frames)
		buf := make([]float32, 256)
		for off := 0; off < frames; off += 256 {
			p.PushSource(src[off:off+256], 256)
			n := p.PullOutput(buf, 256)
			out = append(out, buf[:n]...)
		}
		if len(out) < frames-2 {
			t.Fatalf("%s: output = %d frames, want %d", tt.name, len(out), frames-1)
		}
		// skip the first window while the delay line fills
		got := risingCrossings(out[2048 : 2048+4096])
		if got < tt.lo || got > tt.hi {
			t.Errorf("%s: crossings = %d, want in [%d,%d]", tt.name, got, tt.lo, tt.hi)
		}
	}
}

func TestInvalidPitchIgnored(t *testing.T) {
	v := NewVarispeed(1, 8).(*Varispeed)
	v.SetPitchSemitones(math.NaN())
	v.SetPitchSemitones(math.Inf(1))
	if v.shift.active() {
		t.Error("non-finite pitch enabled the shifter")
	}
}

func TestInvalidTempoIgnored(t *testing.T) {
	v := NewVarispeed(2, 8).(*Varispeed)
	v.SetTempoRatio(0)
	v.SetTempoRatio(-3)
	if v.Rate() != 1 {
		t.Errorf("Rate = %v, want 1", v.Rate())
	}
}

func TestClearDropsBufferedFrames(t *testing.T) {
	p := NewVarispeed(2, 8)
	p.PushSource(make([]float32, 16), 8)
	p.Clear()
	out := make([]float32, 16)
	if n := p.PullOutput(out, 8); n != 0 {
		t.Errorf("PullOutput after Clear = %d, want 0", n)
	}
}

func TestStereoInterleaving(t *testing.T) {
	p := NewVarispeed(2, 8)
	src := []float32{1, -1, 2, -2, 3, -3}
	p.PushSource(src, 3)
	out := make([]float32, 6)
	if n := p.PullOutput(out, 3); n != 2 {
		t.Fatalf("PullOutput = %d, want 2", n)
	}
	want := []float32{1, -1, 2, -2}
	for i, w := range want {
		if out[i] != w {
			t.Errorf("out[%d] = %v, want %v", i, out[i], w)
		}
	}
}

func TestPushBeyondCapacityIsTruncated(t *testing.T) {
	p := NewVarispeed(1, 2) // capacity 10 frames
	p.PushSource(ramp(32), 32)
	out := make([]float32, 64)
	if n := p.PullOutput(out, 64); n != 9 {
		t.Errorf("PullOutput = %d, want 9", n)
	}
}
