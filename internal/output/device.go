package output

import (
	"fmt"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/satindergrewal/beatgrid/internal/audio"
)

// Device plays a source through the default sound card. The oto callback
// goroutine becomes the render thread.
type Device struct {
	otoCtx    *oto.Context
	otoPlayer *oto.Player
}

// OpenDevice starts playback of src. tap, if set, sees every rendered
// period after it has been copied out.
func OpenDevice(src Source, sampleRate, channels int, buffer time.Duration, tap func([]float32)) (*Device, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   buffer,
	}
	otoCtx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready

	bufferFrames := int(buffer.Seconds() * float64(sampleRate))
	r := newDeviceReader(src, channels, tap)
	r.buf = make([]float32, bufferFrames*channels)

	d := &Device{otoCtx: otoCtx}
	d.otoPlayer = otoCtx.NewPlayer(r)
	d.otoPlayer.SetBufferSize(bufferFrames * channels * 4)
	d.otoPlayer.Play()
	return d, nil
}

// Close stops playback.
func (d *Device) Close() error {
	if d.otoPlayer == nil {
		return nil
	}
	return d.otoPlayer.Close()
}

// deviceReader implements io.Reader for oto over float32 periods.
type deviceReader struct {
	src      Source
	channels int
	tap      func([]float32)
	buf      []float32
}

func newDeviceReader(src Source, channels int, tap func([]float32)) *deviceReader {
	return &deviceReader{src: src, channels: channels, tap: tap}
}

func (r *deviceReader) Read(b []byte) (int, error) {
	frameBytes := 4 * r.channels
	frames := len(b) / frameBytes
	if frames == 0 {
		return 0, nil
	}
	n := frames * r.channels
	if cap(r.buf) < n {
		r.buf = make([]float32, n)
	}
	buf := r.buf[:n]
	r.src.Render(buf)
	audio.PutFloat32LE(b, buf)
	if r.tap != nil {
		r.tap(buf)
	}
	return frames * frameBytes, nil
}
