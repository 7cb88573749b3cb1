package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexguard/nexguard/internal/capture"
	"github.com/nexguard/nexguard/internal/data"
	"github.com/nexguard/nexguard/internal/frame"
	"github.com/nexguard/nexguard/internal/middleware"
)

type fakeCapture struct {
	mu         sync.Mutex
	cams       map[int]capture.Config
	active     map[int]bool
	startErr   error
	startCalls int
}

func newFakeCapture(ids ...int) *fakeCapture {
	f := &fakeCapture{cams: make(map[int]capture.Config), active: make(map[int]bool)}
	for _, id := range ids {
		f.cams[id] = capture.Config{ID: id, Name: "cam", URL: "rtsp://x", FPS: 15, Width: 640, Height: 480}
	}
	return f
}

func (f *fakeCapture) Add(cfg capture.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cams[cfg.ID]; ok {
		return capture.ErrCameraExists
	}
	f.cams[cfg.ID] = cfg
	return nil
}

func (f *fakeCapture) Update(cfg capture.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cams[cfg.ID]; !ok {
		return capture.ErrCameraNotFound
	}
	f.cams[cfg.ID] = cfg
	return nil
}

func (f *fakeCapture) Remove(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cams[id]; !ok {
		return capture.ErrCameraNotFound
	}
	delete(f.cams, id)
	return nil
}

func (f *fakeCapture) Start(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr != nil {
		return f.startErr
	}
	if _, ok := f.cams[id]; !ok {
		return capture.ErrCameraNotFound
	}
	f.active[id] = true
	return nil
}

func (f *fakeCapture) Stop(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cams[id]; !ok {
		return capture.ErrCameraNotFound
	}
	f.active[id] = false
	return nil
}

func (f *fakeCapture) IsActive(id int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[id]
}

func (f *fakeCapture) Camera(id int) (capture.Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.cams[id]
	if !ok {
		return capture.Config{}, capture.ErrCameraNotFound
	}
	return cfg, nil
}

func (f *fakeCapture) Status(id int) (capture.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cams[id]; !ok {
		return capture.Status{}, capture.ErrCameraNotFound
	}
	return capture.Status{CameraID: id, Active: f.active[id]}, nil
}

func (f *fakeCapture) StatusAll() []capture.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []capture.Status
	for id := range f.cams {
		out = append(out, capture.Status{CameraID: id, Active: f.active[id]})
	}
	return out
}

type fakeInference struct {
	mu         sync.Mutex
	processing map[int]bool
	results    map[int]frame.Result
	model      string
	threshold  float64
	loadErr    error
}

func newFakeInference() *fakeInference {
	return &fakeInference{processing: make(map[int]bool), results: make(map[int]frame.Result), threshold: 0.5}
}

func (f *fakeInference) StartProcessing(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processing[id] = true
}
func (f *fakeInference) StopProcessing(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processing[id] = false
}
func (f *fakeInference) IsProcessing(id int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processing[id]
}

func (f *fakeInference) LatestResults(id int) (frame.Result, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.results[id]
	return res, ok
}

func (f *fakeInference) LoadModel(path string) error {
	if f.loadErr != nil {
		return f.loadErr
	}
	f.model = path
	return nil
}

func (f *fakeInference) Model() string              { return f.model }
func (f *fakeInference) SetConfThreshold(v float64) { f.threshold = v }
func (f *fakeInference) ConfThreshold() float64     { return f.threshold }

type fakeSignaler struct {
	mu     sync.Mutex
	answer string
	closed []string
}

func (f *fakeSignaler) Connect(ctx context.Context, cameraID int, peerID, offerSDP string) (string, error) {
	return f.answer, nil
}

func (f *fakeSignaler) AddICECandidate(cameraID int, peerID string, cand webrtc.ICECandidateInit) error {
	return nil
}

func (f *fakeSignaler) ClosePeer(cameraID int, peerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, peerID)
}

func (f *fakeSignaler) closedPeers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.closed)
}

type fakeCameraStore struct {
	rows   map[int]data.Camera
	nextID int
}

func newFakeCameraStore() *fakeCameraStore {
	return &fakeCameraStore{rows: make(map[int]data.Camera)}
}

func (f *fakeCameraStore) Get(ctx context.Context, id int) (*data.Camera, error) {
	c, ok := f.rows[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	return &c, nil
}

func (f *fakeCameraStore) List(ctx context.Context) ([]data.Camera, error) {
	var out []data.Camera
	for _, c := range f.rows {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeCameraStore) Create(ctx context.Context, c *data.Camera) error {
	f.nextID++
	c.ID = f.nextID
	f.rows[c.ID] = *c
	return nil
}

func (f *fakeCameraStore) Update(ctx context.Context, c *data.Camera) error {
	if _, ok := f.rows[c.ID]; !ok {
		return data.ErrRecordNotFound
	}
	f.rows[c.ID] = *c
	return nil
}

func (f *fakeCameraStore) Delete(ctx context.Context, id int) error {
	if _, ok := f.rows[id]; !ok {
		return data.ErrRecordNotFound
	}
	delete(f.rows, id)
	return nil
}

type fakeDetections struct {
	rows []data.Detection
}

func (f *fakeDetections) Get(ctx context.Context, id int64) (*data.Detection, error) {
	for _, d := range f.rows {
		if d.ID == id {
			return &d, nil
		}
	}
	return nil, data.ErrRecordNotFound
}

func (f *fakeDetections) ListRecent(ctx context.Context, cameraID int, limit int) ([]data.Detection, error) {
	return f.rows, nil
}

func newTestServer(cap *fakeCapture, inf *fakeInference) *Server {
	return &Server{
		Capture:    cap,
		Inference:  inf,
		Signaler:   &fakeSignaler{answer: "v=0 answer"},
		Cameras:    newFakeCameraStore(),
		Detections: &fakeDetections{},
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(newFakeCapture(), newFakeInference())
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStreamLifecycle(t *testing.T) {
	cap := newFakeCapture(1)
	s := newTestServer(cap, newFakeInference())
	router := s.Router()

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"start", http.MethodPost, "/cameras/1/stream/start", http.StatusOK},
		{"status running", http.MethodGet, "/cameras/1/stream/status", http.StatusOK},
		{"stop", http.MethodPost, "/cameras/1/stream/stop", http.StatusOK},
		{"start unknown", http.MethodPost, "/cameras/9/stream/start", http.StatusNotFound},
		{"start bad id", http.MethodPost, "/cameras/abc/stream/start", http.StatusBadRequest},
		{"status all", http.MethodGet, "/cameras/status", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.False(t, cap.IsActive(1))
}

func TestInferenceEndpoints(t *testing.T) {
	cap := newFakeCapture(1)
	inf := newFakeInference()
	s := newTestServer(cap, inf)
	router := s.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inference/start/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, inf.IsProcessing(1))
	assert.True(t, cap.IsActive(1)) // auto-started

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inference/results/1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	inf.results[1] = frame.Result{CameraID: 1, Number: 12, Timestamp: time.Now()}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inference/results/1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"frame_number":12`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inference/stop/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, inf.IsProcessing(1))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inference/model",
		strings.NewReader(`{"path":"models/yolov8n.onnx"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "models/yolov8n.onnx", inf.model)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inference/threshold",
		strings.NewReader(`{"threshold":0.7}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.7, inf.threshold)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inference/threshold",
		strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCameraCRUD(t *testing.T) {
	cap := newFakeCapture()
	s := newTestServer(cap, newFakeInference())
	router := s.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cameras",
		strings.NewReader(`{"name":"front-door","url":"rtsp://door/1","fps":15,"width":640,"height":480}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, cap.cams, 1)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cameras", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "front-door")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cameras",
		strings.NewReader(`{"name":"","url":""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/cameras/1",
		strings.NewReader(`{"name":"front-door","url":"rtsp://door/2","fps":10,"width":640,"height":480}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rtsp://door/2", cap.cams[1].URL)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/cameras/1", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, cap.cams)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/cameras/1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(newFakeCapture(1), newFakeInference())
	auth := middleware.NewJWTAuthenticator("test-signing-key")
	s.Auth = auth
	router := s.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cameras/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Health stays open.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	token, err := auth.Issue("operator", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/cameras/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
