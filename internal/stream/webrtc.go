package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/beatgrid/internal/audio"
)

// ErrOpusRate means the mix does not run at the one rate Opus accepts here.
var ErrOpusRate = errors.New("webrtc monitor needs a 48 kHz mix")

// WebRTCHandler answers SDP offers with a low-latency Opus monitor of the
// mix. Each peer gets its own encoder fed from a broadcaster listener.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	streamID    string
	bitrate     int

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]context.CancelFunc
}

// NewWebRTCHandler creates a WebRTC monitor handler. The broadcaster must
// carry 48 kHz stereo frames.
func NewWebRTCHandler(b *Broadcaster, sampleRate int, streamID string) (*WebRTCHandler, error) {
	if sampleRate != audio.SampleRate {
		return nil, fmt.Errorf("%w: got %d Hz", ErrOpusRate, sampleRate)
	}
	return &WebRTCHandler{
		broadcaster: b,
		streamID:    streamID,
		bitrate:     128000,
		peers:       make(map[*webrtc.PeerConnection]context.CancelFunc),
	}, nil
}

// PeerCount returns the number of connected monitors.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// negotiationError carries the HTTP status for a failed offer.
type negotiationError struct {
	status int
	step   string
	err    error
}

func (e *negotiationError) Error() string { return e.step + ": " + e.err.Error() }
func (e *negotiationError) Unwrap() error { return e.err }

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, track, err := h.answer(offer)
	if err != nil {
		var ne *negotiationError
		status := http.StatusInternalServerError
		if errors.As(err, &ne) {
			status = ne.status
		}
		log.Printf("webrtc: %v", err)
		http.Error(w, err.Error(), status)
		return
	}
	h.attach(pc, track)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

// answer builds a send-only peer for offer and waits for ICE gathering so
// the returned local description is complete.
func (h *WebRTCHandler) answer(offer webrtc.SessionDescription) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, nil, &negotiationError{http.StatusInternalServerError, "create peer connection", err}
	}
	fail := func(status int, step string, err error) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
		pc.Close()
		return nil, nil, &negotiationError{status, step, err}
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: audio.SampleRate, Channels: audio.Channels},
		"mix",
		h.streamID,
	)
	if err != nil {
		return fail(http.StatusInternalServerError, "create track", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		return fail(http.StatusInternalServerError, "add track", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fail(http.StatusBadRequest, "set remote description", err)
	}
	sdp, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail(http.StatusInternalServerError, "create answer", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(sdp); err != nil {
		return fail(http.StatusInternalServerError, "set local description", err)
	}
	<-gathered
	return pc, track, nil
}

// attach registers pc and starts feeding it until it hangs up.
func (h *WebRTCHandler) attach(pc *webrtc.PeerConnection, track *webrtc.TrackLocalStaticSample) {
	ctx, stop := context.WithCancel(context.Background())
	h.mu.Lock()
	h.peers[pc] = stop
	n := len(h.peers)
	h.mu.Unlock()
	log.Printf("webrtc monitor connected (%d total)", n)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			if h.detach(pc) {
				pc.Close()
				log.Printf("webrtc monitor left (%d remaining)", h.PeerCount())
			}
		}
	})

	go h.feed(ctx, track)
}

// detach cancels and forgets pc. Reports whether it was still registered.
func (h *WebRTCHandler) detach(pc *webrtc.PeerConnection) bool {
	h.mu.Lock()
	stop, ok := h.peers[pc]
	delete(h.peers, pc)
	h.mu.Unlock()
	if ok {
		stop()
	}
	return ok
}

// feed encodes broadcaster frames to Opus for one peer.
func (h *WebRTCHandler) feed(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppRestrictedLowdelay)
	if err != nil {
		log.Printf("webrtc: opus encoder: %v", err)
		return
	}
	if err := enc.SetBitrate(h.bitrate); err != nil {
		log.Printf("webrtc: opus bitrate %d: %v", h.bitrate, err)
	}

	l := h.broadcaster.Subscribe("webrtc")
	defer h.broadcaster.Unsubscribe(l)

	packet := make([]byte, 4000)
	for {
		var frame []int16
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case frame = <-l.C:
		}
		n, err := enc.Encode(frame, packet)
		if err != nil {
			log.Printf("webrtc: opus encode: %v", err)
			continue
		}
		if err := track.WriteSample(media.Sample{Data: packet[:n], Duration: audio.FrameDuration}); err != nil {
			return
		}
	}
}

// Close hangs up every monitor.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[*webrtc.PeerConnection]context.CancelFunc)
	h.mu.Unlock()
	for pc, stop := range peers {
		stop()
		pc.Close()
	}
}
