// Package api exposes the HTTP surface: camera and inference
// control, detection queries, clip serving with range support, and
// the WebRTC signaling websocket.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexguard/nexguard/internal/capture"
	"github.com/nexguard/nexguard/internal/data"
	"github.com/nexguard/nexguard/internal/frame"
	"github.com/nexguard/nexguard/internal/media"
	"github.com/nexguard/nexguard/internal/middleware"
)

// CaptureController is the capture-manager view the handlers need.
type CaptureController interface {
	Add(cfg capture.Config) error
	Update(cfg capture.Config) error
	Remove(id int) error
	Start(id int) error
	Stop(id int) error
	IsActive(id int) bool
	Camera(id int) (capture.Config, error)
	Status(id int) (capture.Status, error)
	StatusAll() []capture.Status
}

// InferenceController is the dispatcher view the handlers need.
type InferenceController interface {
	StartProcessing(cameraID int)
	StopProcessing(cameraID int)
	IsProcessing(cameraID int) bool
	LatestResults(cameraID int) (frame.Result, bool)
	LoadModel(path string) error
	Model() string
	SetConfThreshold(v float64)
	ConfThreshold() float64
}

// Signaler is the WebRTC session-manager view of the WS handler.
type Signaler interface {
	Connect(ctx context.Context, cameraID int, peerID, offerSDP string) (string, error)
	AddICECandidate(cameraID int, peerID string, cand webrtc.ICECandidateInit) error
	ClosePeer(cameraID int, peerID string)
}

// CameraStore persists camera registrations.
type CameraStore interface {
	Get(ctx context.Context, id int) (*data.Camera, error)
	List(ctx context.Context) ([]data.Camera, error)
	Create(ctx context.Context, c *data.Camera) error
	Update(ctx context.Context, c *data.Camera) error
	Delete(ctx context.Context, id int) error
}

// DetectionReader serves detection queries.
type DetectionReader interface {
	Get(ctx context.Context, id int64) (*data.Detection, error)
	ListRecent(ctx context.Context, cameraID int, limit int) ([]data.Detection, error)
}

// MediaReader resolves stored clip paths.
type MediaReader interface {
	VideoPath(ctx context.Context, detectionID int64) (string, error)
}

type Server struct {
	Capture     CaptureController
	Inference   InferenceController
	Signaler    Signaler
	Cameras     CameraStore
	Detections  DetectionReader
	Media       MediaReader
	Transcoder  media.Transcoder
	Auth        middleware.Authenticator
	StorageRoot string
}

// Router assembles the chi route tree. Control and media routes sit
// behind bearer auth when an authenticator is configured; /healthz,
// /metrics and the signaling WS stay open.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger)
	r.Use(middleware.CORS)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/webrtc/{camera_id}", s.handleSignaling)

	r.Group(func(r chi.Router) {
		if s.Auth != nil {
			r.Use(middleware.RequireAuth(s.Auth))
		}

		r.Route("/cameras", func(r chi.Router) {
			r.Get("/", s.handleListCameras)
			r.Post("/", s.handleCreateCamera)
			r.Get("/status", s.handleStatusAll)
			r.Route("/{id}", func(r chi.Router) {
				r.Put("/", s.handleUpdateCamera)
				r.Delete("/", s.handleDeleteCamera)
				r.Post("/stream/start", s.handleStreamStart)
				r.Post("/stream/stop", s.handleStreamStop)
				r.Get("/stream/status", s.handleStreamStatus)
			})
		})

		r.Route("/inference", func(r chi.Router) {
			r.Post("/start/{camera_id}", s.handleInferenceStart)
			r.Post("/stop/{camera_id}", s.handleInferenceStop)
			r.Get("/results/{camera_id}", s.handleInferenceResults)
			r.Get("/model", s.handleGetModel)
			r.Post("/model", s.handleLoadModel)
			r.Post("/threshold", s.handleSetThreshold)
		})

		r.Get("/detections", s.handleListDetections)
		r.Get("/detections/media/video/{detection_id}", s.handleDetectionVideo)
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
