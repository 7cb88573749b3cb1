// Package rtc serves live camera video to browser viewers over
// WebRTC. Each viewer gets its own VP8 track fed by a dedicated
// encoder; signaling rides the websocket handlers in internal/api.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"golang.org/x/time/rate"

	"github.com/nexguard/nexguard/internal/capture"
	"github.com/nexguard/nexguard/internal/config"
	"github.com/nexguard/nexguard/internal/frame"
	"github.com/nexguard/nexguard/internal/metrics"
	"github.com/nexguard/nexguard/internal/render"
)

var ErrCameraNotFound = errors.New("camera not found")

const humanBanner = "| HUMAN DETECTED"

// FrameProvider is the capture-side view the session manager needs.
type FrameProvider interface {
	LatestFrame(id int) (frame.Frame, bool)
	Camera(id int) (capture.Config, error)
}

// ResultProvider is the inference-side view.
type ResultProvider interface {
	LatestResults(id int) (frame.Result, bool)
}

var _ FrameProvider = (*capture.Manager)(nil)

type peer struct {
	pc     *webrtc.PeerConnection
	track  *webrtc.TrackLocalStaticSample
	cancel context.CancelFunc
}

// SessionManager owns every viewer peer connection, keyed by camera
// then by peer id. One VP8 track and encoder per viewer.
type SessionManager struct {
	frames  FrameProvider
	results ResultProvider
	cfg     config.WebRTCConfig
	api     *webrtc.API
	newEnc  EncoderFactory

	mu    sync.Mutex
	peers map[int]map[string]*peer
	wg    sync.WaitGroup
}

func NewSessionManager(frames FrameProvider, results ResultProvider, cfg config.WebRTCConfig) (*SessionManager, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register vp8: %w", err)
	}

	return &SessionManager{
		frames:  frames,
		results: results,
		cfg:     cfg,
		api:     webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		newEnc:  NewVP8Encoder,
		peers:   make(map[int]map[string]*peer),
	}, nil
}

// Connect registers a viewer for the camera and returns the answer
// SDP for its offer. A repeated peer id replaces the old session.
func (s *SessionManager) Connect(ctx context.Context, cameraID int, peerID, offerSDP string) (string, error) {
	cam, err := s.frames.Camera(cameraID)
	if err != nil {
		return "", ErrCameraNotFound
	}

	s.ClosePeer(cameraID, peerID)

	pc, err := s.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: s.iceServers()}},
	})
	if err != nil {
		return "", fmt.Errorf("create peer connection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", fmt.Sprintf("camera_%d", cameraID),
	)
	if err != nil {
		pc.Close()
		return "", fmt.Errorf("create track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return "", fmt.Errorf("add track: %w", err)
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("[RTC] camera %d peer %s: %s", cameraID, peerID, state)
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			s.ClosePeer(cameraID, peerID)
		}
	})

	answer, err := s.negotiate(pc, offerSDP)
	if err != nil {
		pc.Close()
		return "", err
	}

	prodCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.peers[cameraID] == nil {
		s.peers[cameraID] = make(map[string]*peer)
	}
	s.peers[cameraID][peerID] = &peer{pc: pc, track: track, cancel: cancel}
	s.mu.Unlock()
	metrics.RTCViewers.Inc()

	s.wg.Add(1)
	go s.produce(prodCtx, cameraID, cam, track)

	return answer, nil
}

func (s *SessionManager) negotiate(pc *webrtc.PeerConnection, offerSDP string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	// Wait for ICE gathering so the answer carries candidates; clients
	// can still trickle theirs afterwards.
	select {
	case <-gathered:
	case <-time.After(3 * time.Second):
	}
	return pc.LocalDescription().SDP, nil
}

// AddICECandidate feeds a trickled candidate to the viewer's peer
// connection.
func (s *SessionManager) AddICECandidate(cameraID int, peerID string, cand webrtc.ICECandidateInit) error {
	s.mu.Lock()
	p := s.peers[cameraID][peerID]
	s.mu.Unlock()
	if p == nil {
		return fmt.Errorf("no session for camera %d peer %s", cameraID, peerID)
	}
	return p.pc.AddICECandidate(cand)
}

// ClosePeer tears down one viewer session. No-op when absent.
func (s *SessionManager) ClosePeer(cameraID int, peerID string) {
	s.mu.Lock()
	p := s.peers[cameraID][peerID]
	if p != nil {
		delete(s.peers[cameraID], peerID)
		if len(s.peers[cameraID]) == 0 {
			delete(s.peers, cameraID)
		}
	}
	s.mu.Unlock()

	if p == nil {
		return
	}
	p.cancel()
	p.pc.Close()
	metrics.RTCViewers.Dec()
}

// CloseAll drops every viewer. Used on shutdown.
func (s *SessionManager) CloseAll() {
	s.mu.Lock()
	var all []*peer
	for _, byPeer := range s.peers {
		for _, p := range byPeer {
			all = append(all, p)
		}
	}
	s.peers = make(map[int]map[string]*peer)
	s.mu.Unlock()

	for _, p := range all {
		p.cancel()
		p.pc.Close()
		metrics.RTCViewers.Dec()
	}
	s.wg.Wait()
}

// Viewers reports the number of connected viewers for a camera.
func (s *SessionManager) Viewers(cameraID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers[cameraID])
}

func (s *SessionManager) iceServers() []string {
	if len(s.cfg.ICEServers) > 0 {
		return s.cfg.ICEServers
	}
	return []string{"stun:stun.l.google.com:19302"}
}

// produce pushes frames to one viewer's encoder at the camera's
// frame rate until its context is cancelled.
func (s *SessionManager) produce(ctx context.Context, cameraID int, cam capture.Config, track *webrtc.TrackLocalStaticSample) {
	defer s.wg.Done()

	fps := int(cam.FPS)
	if fps <= 0 {
		fps = 15
	}
	enc, err := s.newEnc(ctx, track, cam.Width, cam.Height, fps)
	if err != nil {
		log.Printf("[RTC] camera %d: encoder start failed: %v", cameraID, err)
		return
	}
	defer enc.Close()

	limiter := rate.NewLimiter(rate.Limit(fps), 1)
	st := &viewState{}
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		f := s.nextFrame(cameraID, cam.Width, cam.Height, st, time.Now())
		if err := enc.Write(f); err != nil {
			if ctx.Err() == nil {
				log.Printf("[RTC] camera %d: encoder write failed: %v", cameraID, err)
			}
			return
		}
	}
}

type viewState struct {
	lastResultNum  uint64
	lastRendered   frame.Frame
	lastRenderedAt time.Time
}

func (st *viewState) remember(f frame.Frame, at time.Time) frame.Frame {
	st.lastRendered = f
	st.lastRenderedAt = at
	return f
}

// nextFrame picks what the viewer sees this tick: a fresh annotated
// result, the latest raw frame overlaid with recent detections when
// the result has gone stale, the last rendered frame while it is
// still fresh, or a synthetic placeholder when the camera has been
// silent too long.
func (s *SessionManager) nextFrame(cameraID, width, height int, st *viewState, now time.Time) frame.Frame {
	stale := s.cfg.StaleAfter()
	if stale <= 0 {
		stale = 2 * time.Second
	}

	res, haveRes := s.results.LatestResults(cameraID)
	resFresh := haveRes && now.Sub(res.Timestamp) < stale

	if resFresh && res.Number != st.lastResultNum {
		st.lastResultNum = res.Number
		return st.remember(res.Annotated, now)
	}

	raw, haveRaw := s.frames.LatestFrame(cameraID)
	if haveRaw && now.Sub(raw.Timestamp) < stale {
		var dets []frame.Detection
		banner := ""
		if resFresh {
			dets = res.Detections
			if hasPerson(dets) {
				banner = humanBanner
			}
		}
		return st.remember(render.Annotate(raw, dets, banner), now)
	}

	// Re-emitting does not refresh the cache age, so a dead camera
	// drops to the placeholder once the window passes.
	if !st.lastRenderedAt.IsZero() && now.Sub(st.lastRenderedAt) < stale {
		return st.lastRendered
	}

	return render.NoSignal(cameraID, width, height, now)
}

func hasPerson(dets []frame.Detection) bool {
	for _, d := range dets {
		if strings.EqualFold(d.ClassName, "person") {
			return true
		}
	}
	return false
}
