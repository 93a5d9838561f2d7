package stream

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/exec"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/satindergrewal/beatgrid/internal/audio"
)

// HTTPHandler serves the mix as a chunked MP3 stream.
// Each connection runs one ffmpeg process encoding PCM -> MP3 in real time.
type HTTPHandler struct {
	broadcaster *Broadcaster
	sampleRate  int
	name        string
}

// NewHTTPHandler creates an HTTP stream handler for stereo s16le frames at
// sampleRate.
func NewHTTPHandler(b *Broadcaster, sampleRate int, name string) *HTTPHandler {
	return &HTTPHandler{broadcaster: b, sampleRate: sampleRate, name: name}
}

// EncoderCommand builds the ffmpeg PCM stdin -> MP3 stdout command.
func (h *HTTPHandler) EncoderCommand(ctx context.Context) *exec.Cmd {
	base := ffmpeg.Input("pipe:0", ffmpeg.KwArgs{
		"f":  "s16le",
		"ar": h.sampleRate,
		"ac": audio.Channels,
	}).
		Output("pipe:1", ffmpeg.KwArgs{
			"codec:a":       "libmp3lame",
			"b:a":           "192k",
			"f":             "mp3",
			"fflags":        "nobuffer",
			"flush_packets": 1,
		}).
		GlobalArgs("-loglevel", "error").
		Compile()
	return exec.CommandContext(ctx, base.Args[0], base.Args[1:]...)
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := h.EncoderCommand(ctx)
	pcm, mp3, err := encoderPipes(cmd)
	if err != nil {
		log.Printf("http monitor: %v", err)
		http.Error(w, "encoder unavailable", http.StatusServiceUnavailable)
		return
	}
	defer cmd.Wait()

	l := h.broadcaster.Subscribe("http")
	defer h.broadcaster.Unsubscribe(l)
	log.Printf("http monitor connected (%d listeners)", h.broadcaster.ListenerCount())

	hdr := w.Header()
	hdr.Set("Content-Type", "audio/mpeg")
	hdr.Set("Cache-Control", "no-cache, no-store")
	hdr.Set("Connection", "close")
	hdr.Set("Access-Control-Allow-Origin", "*")
	hdr.Set("ICY-Name", h.name)

	go writePCM(ctx, l, pcm)

	_, err = io.Copy(flushWriter{w, flusher}, mp3)
	if err != nil && ctx.Err() == nil {
		log.Printf("http monitor: %v", err)
	}
	cancel()
	log.Printf("http monitor disconnected")
}

// encoderPipes wires and starts cmd.
func encoderPipes(cmd *exec.Cmd) (io.WriteCloser, io.ReadCloser, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("encoder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("encoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start encoder: %w", err)
	}
	return stdin, stdout, nil
}

// writePCM copies listener frames to the encoder until either side stops.
func writePCM(ctx context.Context, l *Listener, pcm io.WriteCloser) {
	defer pcm.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case frame := <-l.C:
			if _, err := pcm.Write(audio.SamplesToBytes(frame)); err != nil {
				return
			}
		}
	}
}

// flushWriter pushes every encoded block to the client immediately.
type flushWriter struct {
	w io.Writer
	f http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	fw.f.Flush()
	return n, err
}
