// Package library is the append-only song registry shared by the control
// and render sides of the engine.
package library

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Song is one decodable audio source.
type Song struct {
	ID         int
	Filename   string
	Title      string
	SampleRate float64 // native decode rate
	BPM        float64
	Duration   time.Duration // zero when unknown

	samplesPerBeat    float64 // native domain
	outSamplesPerBeat float64
	outPerNative      float64
}

// BeatsToSamples converts beats to native-domain frames.
func (s Song) BeatsToSamples(beats float64) uint64 {
	return BeatsToFrames(beats, s.samplesPerBeat)
}

// SamplesToBeats converts native-domain frames to beats.
func (s Song) SamplesToBeats(samples float64) float64 {
	return samples / s.samplesPerBeat
}

// BeatsToOutSamples converts beats of this song's material to output-domain frames.
func (s Song) BeatsToOutSamples(beats float64) uint64 {
	return BeatsToFrames(beats, s.outSamplesPerBeat)
}

// OutSamplesToBeats converts output-domain frames to beats of this song.
func (s Song) OutSamplesToBeats(samples float64) float64 {
	return samples / s.outSamplesPerBeat
}

// OutSamplesPerBeat is the number of output-domain frames per beat of this song.
func (s Song) OutSamplesPerBeat() float64 { return s.outSamplesPerBeat }

// NativeToOut remaps a native-domain frame index into the output domain.
func (s Song) NativeToOut(frames uint64) uint64 {
	return uint64(math.Round(float64(frames) * s.outPerNative))
}

// SamplesPerBeat returns (60/bpm) * rate.
func SamplesPerBeat(bpm, rate float64) float64 {
	return 60 / bpm * rate
}

// BeatsToFrames rounds |beats| * samplesPerBeat to the nearest frame.
func BeatsToFrames(beats, samplesPerBeat float64) uint64 {
	return uint64(math.Abs(beats)*samplesPerBeat + 0.5)
}

// Library is safe for one writer and any number of readers. Readers never
// block: they load an immutable snapshot of the song list.
type Library struct {
	outRate float64

	mu    sync.Mutex
	songs atomic.Pointer[[]Song]
}

// New creates an empty library whose output domain runs at outputRate.
func New(outputRate int) *Library {
	l := &Library{outRate: float64(outputRate)}
	empty := []Song{}
	l.songs.Store(&empty)
	return l
}

// OutputRate returns the output-domain sample rate.
func (l *Library) OutputRate() float64 { return l.outRate }

// Add appends a song and returns its id, or -1 if the rate or bpm is not
// positive and finite.
func (l *Library) Add(filename string, sampleRate, bpm float64) int {
	return l.AddSong(Song{Filename: filename, SampleRate: sampleRate, BPM: bpm})
}

// AddSong appends s, assigning its id and derived factors. Returns -1 when
// s has no usable rate or bpm.
func (l *Library) AddSong(s Song) int {
	if !positiveFinite(s.SampleRate) || !positiveFinite(s.BPM) {
		return -1
	}
	s.samplesPerBeat = SamplesPerBeat(s.BPM, s.SampleRate)
	s.outSamplesPerBeat = SamplesPerBeat(s.BPM, l.outRate)
	s.outPerNative = l.outRate / s.SampleRate

	l.mu.Lock()
	defer l.mu.Unlock()
	old := *l.songs.Load()
	next := make([]Song, len(old), len(old)+1)
	copy(next, old)
	s.ID = len(old)
	next = append(next, s)
	l.songs.Store(&next)
	return s.ID
}

// positiveFinite is false for NaN as well as for zero, negatives and +Inf.
func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

// Len returns the number of registered songs.
func (l *Library) Len() int { return len(*l.songs.Load()) }

// Valid reports whether id names a registered song.
func (l *Library) Valid(id int) bool {
	return id >= 0 && id < l.Len()
}

// Song returns the song with the given id.
func (l *Library) Song(id int) (Song, bool) {
	songs := *l.songs.Load()
	if id < 0 || id >= len(songs) {
		return Song{}, false
	}
	return songs[id], true
}

// Songs returns a copy of every registered song in id order.
func (l *Library) Songs() []Song {
	songs := *l.songs.Load()
	out := make([]Song, len(songs))
	copy(out, songs)
	return out
}

// Filename returns the song's path, or "" for an unknown id.
func (l *Library) Filename(id int) string {
	s, _ := l.Song(id)
	return s.Filename
}

// SampleRate returns the song's native rate, or 0 for an unknown id.
func (l *Library) SampleRate(id int) float64 {
	s, _ := l.Song(id)
	return s.SampleRate
}

// BPM returns the song's tempo, or 0 for an unknown id.
func (l *Library) BPM(id int) float64 {
	s, _ := l.Song(id)
	return s.BPM
}

// BeatsToSamples converts beats to native frames; 0 for an unknown id.
func (l *Library) BeatsToSamples(id int, beats float64) uint64 {
	s, ok := l.Song(id)
	if !ok {
		return 0
	}
	return s.BeatsToSamples(beats)
}

// SamplesToBeats converts native frames to beats; 0 for an unknown id.
func (l *Library) SamplesToBeats(id int, samples float64) float64 {
	s, ok := l.Song(id)
	if !ok {
		return 0
	}
	return s.SamplesToBeats(samples)
}

// BeatsToOutSamples converts beats to output-domain frames; 0 for an unknown id.
func (l *Library) BeatsToOutSamples(id int, beats float64) uint64 {
	s, ok := l.Song(id)
	if !ok {
		return 0
	}
	return s.BeatsToOutSamples(beats)
}

// OutSamplesToBeats converts output-domain frames to beats; 0 for an unknown id.
func (l *Library) OutSamplesToBeats(id int, samples float64) float64 {
	s, ok := l.Song(id)
	if !ok {
		return 0
	}
	return s.OutSamplesToBeats(samples)
}

// NativeToOut remaps native frames to the output domain; 0 for an unknown id.
func (l *Library) NativeToOut(id int, frames uint64) uint64 {
	s, ok := l.Song(id)
	if !ok {
		return 0
	}
	return s.NativeToOut(frames)
}
