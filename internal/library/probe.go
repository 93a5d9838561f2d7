package library

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/tcolgate/mp3"
	"github.com/tidwall/gjson"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

var allowedExtensions = []string{
	".mp3",
	".m4a",
	".aac",
	".wav",
	".flac",
	".ogg",
}

// AllowedExtensions returns the audio file extensions the importer accepts.
func AllowedExtensions() []string {
	result := make([]string, len(allowedExtensions))
	copy(result, allowedExtensions)
	return result
}

// Info is what probing a file could find out about it. Zero fields are unknown.
type Info struct {
	SampleRate float64
	BPM        float64
	Title      string
	Duration   time.Duration
}

// ProbeFunc inspects an audio file.
type ProbeFunc func(path string) (Info, error)

// bpm tag keys per container: ID3v2.3/4, ID3v2.2, MP4, Vorbis comments.
var bpmKeys = []string{"TBPM", "TBP", "tmpo", "bpm", "BPM"}

// Probe reads the native sample rate, tempo tag, title and duration of an
// audio file. WAV headers are parsed directly; other formats go through
// ffprobe. A missing ffprobe is not an error as long as the file opens.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	var info Info
	ext := strings.ToLower(filepath.Ext(path))

	if ext == ".wav" {
		d := wav.NewDecoder(f)
		if d.IsValidFile() {
			info.SampleRate = float64(d.SampleRate)
			if dur, err := d.Duration(); err == nil {
				info.Duration = dur
			}
		}
	}

	if info.SampleRate == 0 {
		if data, err := ffmpeg.Probe(path); err == nil {
			applyFFprobe(&info, data)
		}
	}

	if info.Duration == 0 && ext == ".mp3" {
		if _, err := f.Seek(0, io.SeekStart); err == nil {
			if dur, err := mp3Duration(f); err == nil {
				info.Duration = dur
			}
		}
	}

	if _, err := f.Seek(0, io.SeekStart); err == nil {
		if meta, err := tag.ReadFrom(f); err == nil {
			info.Title = strings.TrimSpace(meta.Title())
			info.BPM = bpmFromTags(meta.Raw())
		}
	}

	if info.Title == "" {
		info.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return info, nil
}

func applyFFprobe(info *Info, data string) {
	stream := gjson.Get(data, `streams.#(codec_type=="audio")`)
	if !stream.Exists() {
		return
	}
	if sr := stream.Get("sample_rate"); sr.Exists() {
		if v, err := strconv.ParseFloat(sr.String(), 64); err == nil {
			info.SampleRate = v
		}
	}
	if d := gjson.Get(data, "format.duration").Float(); d > 0 {
		info.Duration = time.Duration(d * float64(time.Second))
	}
	if title := gjson.Get(data, "format.tags.title"); title.Exists() {
		info.Title = strings.TrimSpace(title.String())
	}
}

func bpmFromTags(raw map[string]interface{}) float64 {
	for _, key := range bpmKeys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if bpm := parseBPM(v); bpm > 0 {
			return bpm
		}
	}
	return 0
}

func parseBPM(v interface{}) float64 {
	switch t := v.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	case int:
		return float64(t)
	case float64:
		return t
	case []string:
		if len(t) > 0 {
			return parseBPM(t[0])
		}
	}
	return 0
}

func mp3Duration(r io.Reader) (time.Duration, error) {
	decoder := mp3.NewDecoder(r)
	var frame mp3.Frame
	var skipped int
	var total time.Duration

	for {
		err := decoder.Decode(&frame, &skipped)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
		total += frame.Duration()
	}
	return total, nil
}

// Register adds a song, filling a missing rate or bpm by probing the file.
// Returns -1 when no usable rate and bpm can be found.
func (l *Library) Register(path string, sampleRate, bpm float64, probe ProbeFunc) (int, error) {
	s := Song{Filename: path, SampleRate: sampleRate, BPM: bpm}
	info := Info{Title: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))}
	if sampleRate <= 0 || bpm <= 0 {
		if probe == nil {
			probe = Probe
		}
		probed, err := probe(path)
		if err != nil {
			return -1, fmt.Errorf("probe %s: %w", path, err)
		}
		info = probed
	}
	if s.SampleRate <= 0 {
		s.SampleRate = info.SampleRate
	}
	if s.BPM <= 0 {
		s.BPM = info.BPM
	}
	s.Title = info.Title
	s.Duration = info.Duration

	id := l.AddSong(s)
	if id < 0 {
		return -1, fmt.Errorf("register %s: rate %.0f, bpm %.2f: %w", path, s.SampleRate, s.BPM, ErrNoTempo)
	}
	return id, nil
}

// ErrNoTempo is returned when a song has no usable rate or bpm.
var ErrNoTempo = errors.New("no usable sample rate or bpm")
