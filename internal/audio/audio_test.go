package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// --- Constants ---

func TestConstants(t *testing.T) {
	// 48kHz * 20ms = 960 samples per channel
	if got := SampleRate * int(FrameDuration/time.Millisecond) / 1000; got != FrameSize {
		t.Errorf("FrameSize mismatch: want %d, got %d", got, FrameSize)
	}
	if FrameSamples != FrameSize*Channels {
		t.Errorf("FrameSamples = %d, want %d", FrameSamples, FrameSize*Channels)
	}
	if FrameBytes != FrameSamples*2 {
		t.Errorf("FrameBytes = %d, want %d", FrameBytes, FrameSamples*2)
	}
}

// --- FadeGain ---

func TestFadeGainBoundaries(t *testing.T) {
	tests := []struct {
		input float64
		want  float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.5, 0.5},
		{1, 1},
		{1.5, 1},
	}
	for _, tt := range tests {
		got := FadeGain(tt.input)
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("FadeGain(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestFadeGainMonotonic(t *testing.T) {
	prev := 0.0
	for i := 1; i <= 1000; i++ {
		x := float64(i) / 1000.0
		val := FadeGain(x)
		if val < prev {
			t.Errorf("FadeGain not monotonic: f(%v)=%v < %v", x, val, prev)
		}
		prev = val
	}
}

func TestFadeGainSymmetry(t *testing.T) {
	for _, d := range []float64{0.1, 0.2, 0.3, 0.4, 0.5} {
		sum := FadeGain(0.5+d) + FadeGain(0.5-d)
		if diff := sum - 1.0; diff > 1e-10 || diff < -1e-10 {
			t.Errorf("FadeGain symmetry broken at d=%v: sum=%v", d, sum)
		}
	}
}

func TestApplyFadeInAndOut(t *testing.T) {
	in := make([]float32, 20) // 10 stereo frames
	for i := range in {
		in[i] = 1
	}
	ApplyFade(in, 2, 0, 0.1)
	if in[0] != 0 || in[1] != 0 {
		t.Errorf("first frame = %v,%v, want silence", in[0], in[1])
	}
	for i := 1; i < 10; i++ {
		if in[i*2] < in[(i-1)*2] {
			t.Errorf("fade-in fell at frame %d", i)
		}
		if in[i*2] != in[i*2+1] {
			t.Errorf("channels differ at frame %d", i)
		}
	}

	out := make([]float32, 10)
	for i := range out {
		out[i] = 1
	}
	ApplyFade(out, 1, 1, -0.1)
	if out[0] != 1 {
		t.Errorf("fade-out starts at %v, want 1", out[0])
	}
	for i := 1; i < 10; i++ {
		if out[i] > out[i-1] {
			t.Errorf("fade-out rose at frame %d", i)
		}
	}
}

// --- PCM conversion ---

func TestFloatToInt16Clips(t *testing.T) {
	src := []float32{0, 1, -1, 2, -2, 0.5}
	dst := make([]int16, len(src))
	FloatToInt16(dst, src)
	want := []int16{0, 32767, -32767, 32767, -32768, 16383}
	for i, w := range want {
		if dst[i] != w {
			t.Errorf("dst[%d] = %d, want %d", i, dst[i], w)
		}
	}
}

func TestSamplesToBytes(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 256}
	buf := SamplesToBytes(samples)
	if len(buf) != len(samples)*2 {
		t.Fatalf("SamplesToBytes length = %d, want %d", len(buf), len(samples)*2)
	}
	// 256 = 0x0100 -> bytes [0x00, 0x01]
	idx := 5 * 2
	if buf[idx] != 0x00 || buf[idx+1] != 0x01 {
		t.Errorf("Sample 256 encoded as [%02x, %02x], want [00, 01]", buf[idx], buf[idx+1])
	}
}

func TestFloat32LERoundTrip(t *testing.T) {
	src := []float32{0, 1, -1, 0.25, -0.125, 3.5}
	buf := make([]byte, len(src)*4)
	PutFloat32LE(buf, src)
	got := make([]float32, len(src))
	Float32FromLE(got, buf)
	for i := range src {
		if got[i] != src[i] {
			t.Errorf("round trip [%d] = %v, want %v", i, got[i], src[i])
		}
	}
}

// --- Backends ---

// writeRampWAV writes sample (i%1000)*(c+1) scaled so every depth decodes to
// the same float as the 16-bit file.
func writeRampWAV(t *testing.T, path string, rate, chans, frames int) {
	t.Helper()
	writeRampWAVDepth(t, path, rate, chans, frames, 16)
}

func writeRampWAVDepth(t *testing.T, path string, rate, chans, frames, depth int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, rate, depth, chans, 1)
	data := make([]int, frames*chans)
	for i := 0; i < frames; i++ {
		for c := 0; c < chans; c++ {
			data[i*chans+c] = (i % 1000) * (c + 1) << (depth - 16)
		}
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: chans, SampleRate: rate},
		Data:           data,
		SourceBitDepth: depth,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()
}

func TestWAVBackendReadAndSeek(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ramp.wav")
	writeRampWAV(t, path, 48000, 2, 3000)

	s, err := NewWAVBackend(48000, 2).Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer s.Close()

	buf := make([]float32, 2*10)
	n, err := s.Read(buf)
	if err != nil || n != 10 {
		t.Fatalf("Read = %d, %v; want 10, nil", n, err)
	}
	if want := float32(5) / 32768; buf[10] != want || buf[11] != 2*want {
		t.Errorf("frame 5 = %v,%v, want %v,%v", buf[10], buf[11], want, 2*want)
	}

	if err := s.Seek(2995); err != nil {
		t.Fatalf("Seek error: %v", err)
	}
	n, _ = s.Read(buf)
	if n != 5 {
		t.Errorf("Read near end = %d frames, want 5 (short read)", n)
	}
	if want := float32(995) / 32768; buf[0] != want {
		t.Errorf("frame 2995 = %v, want %v", buf[0], want)
	}
	if err := s.Seek(5000); !errors.Is(err, ErrSeek) {
		t.Errorf("Seek past end = %v, want ErrSeek", err)
	}
}

func TestWAVBackendBitDepths(t *testing.T) {
	for _, depth := range []int{16, 24, 32} {
		t.Run(fmt.Sprintf("%dbit", depth), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "ramp.wav")
			writeRampWAVDepth(t, path, 48000, 2, 2000, depth)

			s, err := NewWAVBackend(48000, 2).Open(path)
			if err != nil {
				t.Fatalf("Open error: %v", err)
			}
			defer s.Close()

			if err := s.Seek(1200); err != nil {
				t.Fatalf("Seek error: %v", err)
			}
			buf := make([]float32, 2*4)
			if n, err := s.Read(buf); n != 4 || err != nil {
				t.Fatalf("Read = %d, %v; want 4, nil", n, err)
			}
			for i := 0; i < 4; i++ {
				want := float32(200+i) / 32768
				if buf[2*i] != want || buf[2*i+1] != 2*want {
					t.Errorf("frame %d = %v,%v, want %v,%v", 1200+i, buf[2*i], buf[2*i+1], want, 2*want)
				}
			}

			// Seeking back restarts the data chunk reader.
			if err := s.Seek(10); err != nil {
				t.Fatalf("Seek back error: %v", err)
			}
			big := make([]float32, 2*2000)
			n, err := s.Read(big)
			if n != 1990 || err != nil {
				t.Fatalf("Read to end = %d, %v; want 1990, nil", n, err)
			}
			if want := float32(999) / 32768; big[2*989] != want {
				t.Errorf("frame 999 = %v, want %v", big[2*989], want)
			}
			if n, _ := s.Read(big); n != 0 {
				t.Errorf("Read at end = %d, want 0", n)
			}
		})
	}
}

func TestWAVBackendDownmix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	writeRampWAV(t, path, 48000, 2, 100)

	s, err := NewWAVBackend(48000, 1).Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer s.Close()
	buf := make([]float32, 4)
	s.Seek(8)
	if n, _ := s.Read(buf); n != 4 {
		t.Fatalf("Read = %d frames, want 4", n)
	}
	if want := float32(8*3) / 2 / 32768; buf[0] != want {
		t.Errorf("downmixed frame = %v, want %v", buf[0], want)
	}
}

func TestWAVBackendMonoSpread(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mono.wav")
	writeRampWAV(t, path, 48000, 1, 100)

	s, err := NewWAVBackend(48000, 2).Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer s.Close()
	buf := make([]float32, 8)
	s.Seek(3)
	s.Read(buf)
	if buf[0] != buf[1] || buf[0] != float32(3)/32768 {
		t.Errorf("mono frame spread = %v,%v", buf[0], buf[1])
	}
}

func TestWAVBackendRejects(t *testing.T) {
	dir := t.TempDir()
	other := filepath.Join(dir, "44k.wav")
	writeRampWAV(t, other, 44100, 2, 100)

	b := NewWAVBackend(48000, 2)
	if _, err := b.Open(other); !errors.Is(err, ErrUnsupported) {
		t.Errorf("rate mismatch: err = %v, want ErrUnsupported", err)
	}
	if _, err := b.Open(filepath.Join(dir, "song.mp3")); !errors.Is(err, ErrUnsupported) {
		t.Errorf("mp3: err = %v, want ErrUnsupported", err)
	}
}

type stubBackend struct {
	err    error
	opened []string
}

func (b *stubBackend) Open(path string) (Stream, error) {
	b.opened = append(b.opened, path)
	if b.err != nil {
		return nil, b.err
	}
	return nil, nil
}

func TestChainFallsThrough(t *testing.T) {
	first := &stubBackend{err: ErrUnsupported}
	second := &stubBackend{}
	if _, err := (Chain{first, second}).Open("a.flac"); err != nil {
		t.Fatalf("Chain.Open error: %v", err)
	}
	if len(first.opened) != 1 || len(second.opened) != 1 {
		t.Errorf("opened = %v, %v; want one each", first.opened, second.opened)
	}
}

func TestChainReportsRealError(t *testing.T) {
	boom := errors.New("disk on fire")
	_, err := (Chain{&stubBackend{err: boom}, &stubBackend{err: ErrUnsupported}}).Open("a.wav")
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	_, err = (Chain{&stubBackend{err: ErrUnsupported}}).Open("a.xyz")
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestFFmpegCommandSeeks(t *testing.T) {
	b := NewFFmpegBackend(48000, 2)
	args := strings.Join(b.Command("song.flac", 24000).Args, " ")
	for _, want := range []string{"-ss 0.500000", "-i song.flac", "-f f32le", "-ar 48000", "-ac 2", "pipe:1"} {
		if !strings.Contains(args, want) {
			t.Errorf("command %q missing %q", args, want)
		}
	}
	if strings.Contains(b.Command("song.flac", 0).String(), "-ss") {
		t.Error("command from frame 0 should not seek")
	}
}

func TestFFmpegOpenMissingFile(t *testing.T) {
	if _, err := NewFFmpegBackend(48000, 2).Open(filepath.Join(t.TempDir(), "gone.mp3")); err == nil {
		t.Error("Open of missing file should fail")
	}
}
