package timeline

import (
	"math/rand"
	"testing"
)

// 120 bpm at 44100 Hz in both domains: 22050 frames per beat.
type fixedConv struct{}

func (fixedConv) NativeToOut(_ int, frames uint64) uint64 { return frames }
func (fixedConv) BeatsToOutSamples(_ int, beats float64) uint64 {
	if beats < 0 {
		beats = -beats
	}
	return uint64(beats*22050 + 0.5)
}

// 1000.1 frames per beat, so every conversion rounds.
type fracConv struct{}

func (fracConv) NativeToOut(_ int, frames uint64) uint64 { return frames }
func (fracConv) BeatsToOutSamples(_ int, beats float64) uint64 {
	if beats < 0 {
		beats = -beats
	}
	return uint64(beats*1000.1 + 0.5)
}

type fakePreloader struct {
	calls []uint64
}

func (p *fakePreloader) Preload(songID int, first uint64) Preload {
	p.calls = append(p.calls, first)
	return Preload{FirstFrame: first, NumFrames: 4, Frames: make([]float32, 8)}
}

func newTrack() (*Track, *fakePreloader) {
	pre := &fakePreloader{}
	return NewTrack(fixedConv{}, pre), pre
}

func checkSorted(t *testing.T, tr *Track) {
	t.Helper()
	clips := tr.CopyClips()
	for i, c := range clips {
		if !(c.Start < c.End) {
			t.Fatalf("clip %d empty or inverted: [%v,%v)", i, c.Start, c.End)
		}
		if i > 0 && clips[i-1].End > c.Start {
			t.Fatalf("clips %d and %d overlap: [%v,%v) [%v,%v)",
				i-1, i, clips[i-1].Start, clips[i-1].End, c.Start, c.End)
		}
		if c.Preload.Frames != nil && c.Preload.FirstFrame != c.FirstFrame {
			t.Fatalf("clip %d preload starts at %d, clip first frame %d", i, c.Preload.FirstFrame, c.FirstFrame)
		}
	}
}

func TestInsertTruncatesTail(t *testing.T) {
	tr, _ := newTrack()
	tr.InsertClip(0, 8, 0, 0, 0, 0, 0)
	tr.InsertClip(4, 12, 0, 0, 1, 0, 0)

	clips := tr.CopyClips()
	if len(clips) != 2 {
		t.Fatalf("len = %d, want 2", len(clips))
	}
	if clips[0].Start != 0 || clips[0].End != 4 || clips[0].SongID != 0 {
		t.Errorf("clip 0 = [%v,%v) song %d, want [0,4) song 0", clips[0].Start, clips[0].End, clips[0].SongID)
	}
	if clips[1].Start != 4 || clips[1].End != 12 || clips[1].SongID != 1 {
		t.Errorf("clip 1 = [%v,%v) song %d, want [4,12) song 1", clips[1].Start, clips[1].End, clips[1].SongID)
	}
}

func TestInsertSameRangeTwice(t *testing.T) {
	tr, _ := newTrack()
	tr.InsertClip(2, 6, 0, 0, 0, 0, 0)
	tr.InsertClip(2, 6, 0, 0, 1, 0, 0)
	if tr.Len() != 1 {
		t.Fatalf("len = %d, want 1", tr.Len())
	}
	if c, _ := tr.Clip(0); c.SongID != 1 {
		t.Errorf("SongID = %d, want 1", c.SongID)
	}
	if got := len(tr.DrainRetired()); got != 1 {
		t.Errorf("retired = %d, want 1", got)
	}
}

func TestInsertRejectsEmptyRange(t *testing.T) {
	tr, pre := newTrack()
	if tr.InsertClip(4, 4, 0, 0, 0, 0, 0) {
		t.Error("InsertClip(4,4) = true, want false")
	}
	if tr.Len() != 0 || len(pre.calls) != 0 {
		t.Errorf("len = %d, preloads = %d; want nothing", tr.Len(), len(pre.calls))
	}
}

func TestInsertKeepsOrder(t *testing.T) {
	tr, _ := newTrack()
	tr.InsertClip(8, 10, 0, 0, 0, 0, 0)
	tr.InsertClip(0, 2, 0, 0, 0, 0, 0)
	tr.InsertClip(4, 6, 0, 0, 0, 0, 0)
	clips := tr.CopyClips()
	for i, want := range []float64{0, 4, 8} {
		if clips[i].Start != want {
			t.Errorf("clip %d start = %v, want %v", i, clips[i].Start, want)
		}
	}
}

func TestEraseInteriorSplits(t *testing.T) {
	tr, pre := newTrack()
	tr.InsertClip(0, 8, 0, 0, 0, 1000, 0)
	original, _ := tr.Clip(0)

	tr.EraseRange(2, 6)
	clips := tr.CopyClips()
	if len(clips) != 2 {
		t.Fatalf("len = %d, want 2", len(clips))
	}
	left, right := clips[0], clips[1]
	if left.Start != 0 || left.End != 2 {
		t.Errorf("left = [%v,%v), want [0,2)", left.Start, left.End)
	}
	if right.Start != 6 || right.End != 8 {
		t.Errorf("right = [%v,%v), want [6,8)", right.Start, right.End)
	}
	if left.FirstFrame != 1000 {
		t.Errorf("left FirstFrame = %d, want 1000", left.FirstFrame)
	}
	if want := uint64(1000 + 6*22050); right.FirstFrame != want {
		t.Errorf("right FirstFrame = %d, want %d", right.FirstFrame, want)
	}
	if &left.Preload.Frames[0] != &original.Preload.Frames[0] {
		t.Error("left half should keep the original preload")
	}
	if &right.Preload.Frames[0] == &left.Preload.Frames[0] {
		t.Error("right half should get its own preload")
	}
	if right.Preload.FirstFrame != right.FirstFrame {
		t.Errorf("right preload at %d, want %d", right.Preload.FirstFrame, right.FirstFrame)
	}
	if len(pre.calls) != 2 {
		t.Errorf("preload decodes = %d, want 2", len(pre.calls))
	}
	if got := len(tr.DrainRetired()); got != 0 {
		t.Errorf("retired = %d, want 0 (split retires nothing)", got)
	}
}

func TestEraseHeadAndTail(t *testing.T) {
	tr, _ := newTrack()
	tr.InsertClip(0, 4, 0, 0, 0, 0, 0)
	tr.InsertClip(6, 10, 0, 0, 0, 0, 0)

	tr.EraseRange(3, 7)
	clips := tr.CopyClips()
	if len(clips) != 2 {
		t.Fatalf("len = %d, want 2", len(clips))
	}
	if clips[0].End != 3 {
		t.Errorf("tail-trimmed end = %v, want 3", clips[0].End)
	}
	if clips[1].Start != 7 || clips[1].FirstFrame != 22050 {
		t.Errorf("head-trimmed clip = start %v first %d, want 7 and 22050", clips[1].Start, clips[1].FirstFrame)
	}
	if got := len(tr.DrainRetired()); got != 1 {
		t.Errorf("retired = %d, want 1 (old head preload)", got)
	}
}

func TestEraseFullCover(t *testing.T) {
	tr, _ := newTrack()
	tr.InsertClip(1, 2, 0, 0, 0, 0, 0)
	tr.InsertClip(3, 4, 0, 0, 0, 0, 0)
	tr.InsertClip(5, 6, 0, 0, 0, 0, 0)
	tr.EraseRange(0, 10)
	if tr.Len() != 0 {
		t.Errorf("len = %d, want 0", tr.Len())
	}
	if got := len(tr.DrainRetired()); got != 3 {
		t.Errorf("retired = %d, want 3", got)
	}
	if got := len(tr.DrainRetired()); got != 0 {
		t.Errorf("second drain = %d, want 0", got)
	}
}

func TestEraseComposes(t *testing.T) {
	convs := []struct {
		name string
		conv Converter
	}{
		{"22050 per beat", fixedConv{}},
		{"1000.1 per beat", fracConv{}},
	}
	cases := []struct{ a, b, c float64 }{
		{2, 4, 6},
		{-1, 3, 9},
		{0, 5, 20},
		{1, 7, 8},
		{5, 9, 11},
		{5, 5.3, 5.6},
	}
	for _, cv := range convs {
		for _, tc := range cases {
			one := NewTrack(cv.conv, &fakePreloader{})
			two := NewTrack(cv.conv, &fakePreloader{})
			for _, tr := range []*Track{one, two} {
				tr.InsertClip(0, 4, 0, 0, 0, 0, 0)
				tr.InsertClip(5, 12, 0, 0, 1, 500, 0)
				tr.InsertClip(13, 15, 0, 0, 2, 0, 0)
			}
			one.EraseRange(tc.a, tc.b)
			one.EraseRange(tc.b, tc.c)
			two.EraseRange(tc.a, tc.c)

			got, want := one.CopyClips(), two.CopyClips()
			if len(got) != len(want) {
				t.Fatalf("%s %v: len %d vs %d", cv.name, tc, len(got), len(want))
			}
			for i := range got {
				g, w := got[i], want[i]
				if g.Start != w.Start || g.End != w.End || g.SongID != w.SongID || g.FirstFrame != w.FirstFrame {
					t.Errorf("%s %v clip %d: [%v,%v) song %d ff %d, want [%v,%v) song %d ff %d",
						cv.name, tc, i, g.Start, g.End, g.SongID, g.FirstFrame, w.Start, w.End, w.SongID, w.FirstFrame)
				}
			}
		}
	}
}

func TestTrimsDoNotDrift(t *testing.T) {
	tr := NewTrack(fracConv{}, &fakePreloader{})
	tr.InsertClip(0, 8, 0, 0, 0, 0, 0)
	tr.EraseRange(0, 4)
	tr.EraseRange(4, 6)

	c, _ := tr.Clip(0)
	// 6 beats at 1000.1 frames per beat, rounded once
	if c.Start != 6 || c.FirstFrame != 6001 {
		t.Errorf("clip = start %v first %d, want 6 and 6001", c.Start, c.FirstFrame)
	}
	if c.AnchorBeat != 0 || c.AnchorFrame != 0 {
		t.Errorf("anchor = %v/%d, want 0/0", c.AnchorBeat, c.AnchorFrame)
	}
}

func TestRandomEditsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tr, _ := newTrack()
	for i := 0; i < 2000; i++ {
		a := float64(rng.Intn(64)) / 2
		b := a + float64(rng.Intn(16)+1)/2
		if rng.Intn(3) == 0 {
			tr.EraseRange(a, b)
		} else {
			tr.InsertClip(a, b, 0, 0, rng.Intn(3), uint64(rng.Intn(100000)), 0)
		}
		checkSorted(t, tr)
	}
}

func TestCopyClipsIsDetached(t *testing.T) {
	tr, _ := newTrack()
	tr.InsertClip(0, 8, 0, 0, 0, 0, 0)
	snap := tr.CopyClips()
	tr.EraseRange(2, 6)
	if len(snap) != 1 || snap[0].End != 8 {
		t.Errorf("snapshot changed after edit: %+v", snap)
	}
}

func TestPreloadRead(t *testing.T) {
	p := Preload{FirstFrame: 10, NumFrames: 3, Frames: []float32{1, 1, 2, 2, 3, 3}}
	dst := make([]float32, 8)

	if n := p.Read(dst, 9, 4, 2); n != 0 {
		t.Errorf("Read before window = %d, want 0", n)
	}
	if n := p.Read(dst, 11, 4, 2); n != 2 {
		t.Errorf("Read(11) = %d, want 2", n)
	}
	if dst[0] != 2 || dst[3] != 3 {
		t.Errorf("Read copied %v", dst[:4])
	}
	if n := p.Read(dst, 13, 4, 2); n != 0 {
		t.Errorf("Read past window = %d, want 0", n)
	}
}

func TestIndexAt(t *testing.T) {
	tr, _ := newTrack()
	if got := tr.IndexAt(3); got != -1 {
		t.Errorf("empty IndexAt = %d, want -1", got)
	}
	tr.InsertClip(2, 4, 0, 0, 0, 0, 0)
	tr.InsertClip(6, 8, 0, 0, 0, 0, 0)

	tests := []struct {
		beat float64
		want int
	}{
		{0, 0},
		{2, 0},
		{5, 0},
		{6, 1},
		{100, 1},
	}
	for _, tt := range tests {
		if got := tr.IndexAt(tt.beat); got != tt.want {
			t.Errorf("IndexAt(%v) = %d, want %d", tt.beat, got, tt.want)
		}
	}
}
