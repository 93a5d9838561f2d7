package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/beatgrid/internal/audio"
	"github.com/satindergrewal/beatgrid/internal/command"
	"github.com/satindergrewal/beatgrid/internal/config"
	"github.com/satindergrewal/beatgrid/internal/library"
	"github.com/satindergrewal/beatgrid/internal/output"
	"github.com/satindergrewal/beatgrid/internal/stream"
	"github.com/satindergrewal/beatgrid/internal/tui"
	"github.com/satindergrewal/beatgrid/internal/world"
)

func main() {
	plain := flag.Bool("plain", false, "line-mode prompt instead of the TUI")
	logPath := flag.String("log", "beatgrid.log", "log file while the TUI owns the terminal")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if !*plain {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.SetOutput(io.Discard)
		} else {
			defer f.Close()
			log.SetOutput(f)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend := audio.Chain{
		audio.NewWAVBackend(cfg.SampleRate, cfg.Channels),
		audio.NewFFmpegBackend(cfg.SampleRate, cfg.Channels),
	}
	w, err := world.New(cfg.Engine(), cfg.BPM, backend, world.Options{})
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	log.Printf("beatgrid starting: %d Hz, %d ch, %.1f bpm, output=%s",
		cfg.SampleRate, cfg.Channels, cfg.BPM, cfg.OutputMode)

	if cfg.ImportDir != "" {
		watcher, err := library.NewWatcher(w.Library(), cfg.ImportDir, library.WatcherOptions{
			DefaultBPM: cfg.ImportBPM,
		})
		if err != nil {
			log.Printf("import dir %s: %v", cfg.ImportDir, err)
		} else {
			defer watcher.Close()
			log.Printf("watching %s for songs", cfg.ImportDir)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		w.RunIO(gctx, cfg.IOInterval)
		return nil
	})

	mixer := output.NewMixer(w, cfg.RouteByPlayhead)
	pipeline := output.NewPipeline(mixer, cfg.SampleRate, cfg.Channels)
	broadcaster := stream.NewBroadcaster()

	switch {
	case cfg.Device():
		var tap func([]float32)
		if cfg.Stream() {
			tap = pipeline.Feed
			g.Go(func() error {
				pipeline.Drain(gctx)
				return nil
			})
		} else {
			pipeline.Close()
		}
		dev, err := output.OpenDevice(mixer, cfg.SampleRate, cfg.Channels, cfg.DeviceBuffer, tap)
		if err != nil {
			log.Fatalf("audio device: %v", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			return dev.Close()
		})
	case cfg.Stream():
		g.Go(func() error {
			pipeline.Run(gctx)
			return nil
		})
	default:
		pipeline.Close()
	}

	g.Go(func() error {
		broadcaster.Run(gctx, pipeline.Frames())
		return nil
	})

	var webrtcHandler *stream.WebRTCHandler
	if cfg.Stream() && cfg.Port != 0 {
		mux := http.NewServeMux()
		mux.Handle("/stream", stream.NewHTTPHandler(broadcaster, cfg.SampleRate, "beatgrid"))

		webrtcHandler, err = stream.NewWebRTCHandler(broadcaster, cfg.SampleRate, "beatgrid")
		if err != nil {
			log.Printf("webrtc monitor disabled: %v", err)
		} else {
			mux.Handle("/offer", webrtcHandler)
		}

		mux.HandleFunc("/api/status", func(rw http.ResponseWriter, r *http.Request) {
			rw.Header().Set("Content-Type", "application/json")
			rw.Header().Set("Access-Control-Allow-Origin", "*")
			json.NewEncoder(rw).Encode(newStatusResponse(w, broadcaster, webrtcHandler, pipeline))
		})

		addr := fmt.Sprintf(":%d", cfg.Port)
		server := &http.Server{Addr: addr, Handler: mux}
		g.Go(func() error {
			<-gctx.Done()
			if webrtcHandler != nil {
				webrtcHandler.Close()
			}
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			return server.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			log.Printf("streaming on %s (/stream, /offer, /api/status)", addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	if *plain {
		err = runPlain(gctx, w, os.Stdin, os.Stdout)
	} else {
		_, err = tea.NewProgram(tui.NewModel(w), tea.WithContext(gctx)).Run()
		if errors.Is(err, tea.ErrProgramKilled) {
			err = nil
		}
	}
	if err != nil {
		log.Printf("ui: %v", err)
	}

	log.Println("shutting down...")
	cancel()
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runPlain is the line-mode prompt. Returns on q, end of input or ctx.
func runPlain(ctx context.Context, ctrl command.Controller, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	fmt.Fprint(out, "> ")
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			res, err := command.Execute(ctrl, line)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			} else if res.Output != "" {
				fmt.Fprintln(out, res.Output)
			}
			if res.Quit {
				return nil
			}
			fmt.Fprint(out, "> ")
		}
	}
}

type songView struct {
	ID       int     `json:"id"`
	Filename string  `json:"filename"`
	Title    string  `json:"title,omitempty"`
	BPM      float64 `json:"bpm"`
	Duration float64 `json:"duration"`
}

type statusResponse struct {
	world.Status
	SongList      []songView     `json:"song_list"`
	Listeners     map[string]int `json:"listeners"`
	WebRTCPeers   int            `json:"webrtc_peers"`
	Position      float64        `json:"position"`
	DroppedFrames uint64         `json:"dropped_frames"`
}

func newStatusResponse(w *world.World, b *stream.Broadcaster, rtc *stream.WebRTCHandler, p *output.Pipeline) statusResponse {
	pos, dropped := p.Status()
	resp := statusResponse{
		Status:        w.Status(),
		SongList:      []songView{},
		Listeners:     b.Counts(),
		Position:      pos.Seconds(),
		DroppedFrames: dropped,
	}
	if rtc != nil {
		resp.WebRTCPeers = rtc.PeerCount()
	}
	for _, s := range w.Songs() {
		resp.SongList = append(resp.SongList, songView{
			ID:       s.ID,
			Filename: s.Filename,
			Title:    s.Title,
			BPM:      s.BPM,
			Duration: s.Duration.Seconds(),
		})
	}
	return resp
}
