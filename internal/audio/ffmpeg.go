package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// FFmpegBackend decodes anything ffmpeg can read. Each stream runs one ffmpeg
// process that writes f32le PCM at the output rate; seeking restarts the
// process with an input-side -ss.
type FFmpegBackend struct {
	SampleRate int
	Channels   int
}

// NewFFmpegBackend creates a backend decoding to rate and channels.
func NewFFmpegBackend(rate, channels int) *FFmpegBackend {
	return &FFmpegBackend{SampleRate: rate, Channels: channels}
}

func (b *FFmpegBackend) Open(path string) (Stream, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("ffmpeg open %s: %w", path, err)
	}
	return &ffmpegStream{backend: b, path: path}, nil
}

// Command builds the decode command for path starting at an output-domain frame.
func (b *FFmpegBackend) Command(path string, frame uint64) *exec.Cmd {
	in := ffmpeg.KwArgs{}
	if frame > 0 {
		in["ss"] = strconv.FormatFloat(float64(frame)/float64(b.SampleRate), 'f', 6, 64)
	}
	return ffmpeg.Input(path, in).
		Output("pipe:1", ffmpeg.KwArgs{
			"f":      "f32le",
			"acodec": "pcm_f32le",
			"ar":     b.SampleRate,
			"ac":     b.Channels,
		}).
		GlobalArgs("-loglevel", "error").
		Compile()
}

type ffmpegStream struct {
	backend *FFmpegBackend
	path    string

	cmd     *exec.Cmd
	out     io.ReadCloser
	pos     uint64 // frame the next Read returns
	running bool
	scratch []byte
}

func (s *ffmpegStream) Seek(frame uint64) error {
	if s.running && frame == s.pos {
		return nil
	}
	s.stop()
	s.pos = frame
	return s.start()
}

func (s *ffmpegStream) start() error {
	cmd := s.backend.Command(s.path, s.pos)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start: %w", err)
	}
	s.cmd = cmd
	s.out = out
	s.running = true
	return nil
}

func (s *ffmpegStream) Read(dst []float32) (int, error) {
	if !s.running {
		if err := s.start(); err != nil {
			return 0, err
		}
	}
	ch := s.backend.Channels
	frames := len(dst) / ch
	need := frames * ch * 4
	if cap(s.scratch) < need {
		s.scratch = make([]byte, need)
	}
	buf := s.scratch[:need]

	n, err := io.ReadFull(s.out, buf)
	got := n / (ch * 4)
	Float32FromLE(dst[:got*ch], buf[:got*ch*4])
	s.pos += uint64(got)

	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return got, nil
		}
		return got, fmt.Errorf("ffmpeg read %s: %w", s.path, err)
	}
	return got, nil
}

func (s *ffmpegStream) stop() {
	if !s.running {
		return
	}
	s.out.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	s.running = false
}

func (s *ffmpegStream) Close() error {
	s.stop()
	return nil
}
