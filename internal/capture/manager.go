// Package capture owns the per-camera frame acquisition workers and
// their bounded frame rings.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexguard/nexguard/internal/frame"
	"github.com/nexguard/nexguard/internal/metrics"
)

var (
	ErrCameraNotFound = errors.New("camera not found")
	ErrCameraExists   = errors.New("camera already registered")
)

const (
	openAttempts   = 3
	openRetryDelay = 500 * time.Millisecond
	reconnectDelay = time.Second
	paceSlice      = time.Millisecond
)

// Camera states reported by Status.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateFailed  = "failed"
)

type Config struct {
	ID     int     `json:"id"`
	Name   string  `json:"name"`
	URL    string  `json:"url"`
	FPS    float64 `json:"fps"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
}

type Status struct {
	CameraID       int    `json:"camera_id"`
	Name           string `json:"name"`
	Active         bool   `json:"active"`
	State          string `json:"state"`
	FramesCaptured uint64 `json:"frames_captured"`
	FramesDropped  uint64 `json:"frames_dropped"`
	LastError      string `json:"last_error,omitempty"`
}

type camera struct {
	cfg  Config
	ring *frame.Ring[frame.Frame]

	frames atomic.Uint64

	mu      sync.Mutex
	active  bool
	state   string
	lastErr string
	cancel  context.CancelFunc
	done    chan struct{}
}

// Manager registers cameras and runs one capture worker per started
// camera. All methods are safe for concurrent use.
type Manager struct {
	mu         sync.RWMutex
	cams       map[int]*camera
	factory    SourceFactory
	bufferSize int
}

func NewManager(factory SourceFactory, bufferSize int) *Manager {
	if factory == nil {
		factory = NewFFmpegSource
	}
	if bufferSize < 1 {
		bufferSize = 10
	}
	return &Manager{
		cams:       make(map[int]*camera),
		factory:    factory,
		bufferSize: bufferSize,
	}
}

func (m *Manager) Add(cfg Config) error {
	if cfg.FPS <= 0 || cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("invalid camera config for id %d", cfg.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cams[cfg.ID]; ok {
		return ErrCameraExists
	}
	m.cams[cfg.ID] = &camera{
		cfg:   cfg,
		ring:  frame.NewRing[frame.Frame](m.bufferSize),
		state: StateIdle,
	}
	return nil
}

// Update replaces the camera config. A running camera is restarted so
// the worker picks up the new source settings.
func (m *Manager) Update(cfg Config) error {
	m.mu.RLock()
	cam, ok := m.cams[cfg.ID]
	m.mu.RUnlock()
	if !ok {
		return ErrCameraNotFound
	}

	wasActive := m.IsActive(cfg.ID)
	if wasActive {
		if err := m.Stop(cfg.ID); err != nil {
			return err
		}
	}

	cam.mu.Lock()
	cam.cfg = cfg
	cam.mu.Unlock()

	if wasActive {
		return m.Start(cfg.ID)
	}
	return nil
}

func (m *Manager) Remove(id int) error {
	if err := m.Stop(id); err != nil && !errors.Is(err, ErrCameraNotFound) {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cams[id]; !ok {
		return ErrCameraNotFound
	}
	delete(m.cams, id)
	return nil
}

// Start launches the capture worker. Starting an already active
// camera is a no-op.
func (m *Manager) Start(id int) error {
	m.mu.RLock()
	cam, ok := m.cams[id]
	m.mu.RUnlock()
	if !ok {
		return ErrCameraNotFound
	}

	cam.mu.Lock()
	defer cam.mu.Unlock()
	if cam.active {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cam.active = true
	cam.state = StateRunning
	cam.lastErr = ""
	cam.cancel = cancel
	cam.done = make(chan struct{})
	cam.frames.Store(0)

	src := m.factory(cam.cfg.URL, cam.cfg.Width, cam.cfg.Height)
	go m.run(ctx, cam, src)
	return nil
}

// Stop cancels the worker and waits for it to exit. Stopping an
// inactive camera is a no-op.
func (m *Manager) Stop(id int) error {
	m.mu.RLock()
	cam, ok := m.cams[id]
	m.mu.RUnlock()
	if !ok {
		return ErrCameraNotFound
	}

	cam.mu.Lock()
	if !cam.active {
		cam.mu.Unlock()
		return nil
	}
	cancel := cam.cancel
	done := cam.done
	cam.mu.Unlock()

	cancel()
	<-done

	cam.mu.Lock()
	cam.active = false
	if cam.state == StateRunning {
		cam.state = StateIdle
	}
	cam.mu.Unlock()
	return nil
}

func (m *Manager) StartAll() {
	for _, id := range m.ids() {
		if err := m.Start(id); err != nil {
			log.Printf("[CAPTURE] start camera %d: %v", id, err)
		}
	}
}

func (m *Manager) StopAll() {
	for _, id := range m.ids() {
		if err := m.Stop(id); err != nil {
			log.Printf("[CAPTURE] stop camera %d: %v", id, err)
		}
	}
}

func (m *Manager) IsActive(id int) bool {
	m.mu.RLock()
	cam, ok := m.cams[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return cam.active
}

// LatestFrame returns the newest frame in the camera's ring,
// discarding older ones. The newest frame stays in the ring so
// concurrent consumers never steal it from each other.
func (m *Manager) LatestFrame(id int) (frame.Frame, bool) {
	m.mu.RLock()
	cam, ok := m.cams[id]
	m.mu.RUnlock()
	if !ok {
		return frame.Frame{}, false
	}
	return cam.ring.DrainToLatest()
}

// DrainFrames empties the camera's ring, oldest first. Used by the
// clip recorder to pick up pre-event footage.
func (m *Manager) DrainFrames(id int) []frame.Frame {
	m.mu.RLock()
	cam, ok := m.cams[id]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return cam.ring.DrainAll()
}

func (m *Manager) Camera(id int) (Config, error) {
	m.mu.RLock()
	cam, ok := m.cams[id]
	m.mu.RUnlock()
	if !ok {
		return Config{}, ErrCameraNotFound
	}
	cam.mu.Lock()
	defer cam.mu.Unlock()
	return cam.cfg, nil
}

func (m *Manager) Status(id int) (Status, error) {
	m.mu.RLock()
	cam, ok := m.cams[id]
	m.mu.RUnlock()
	if !ok {
		return Status{}, ErrCameraNotFound
	}
	return cam.status(), nil
}

func (m *Manager) StatusAll() []Status {
	m.mu.RLock()
	cams := make([]*camera, 0, len(m.cams))
	for _, cam := range m.cams {
		cams = append(cams, cam)
	}
	m.mu.RUnlock()

	out := make([]Status, 0, len(cams))
	for _, cam := range cams {
		out = append(out, cam.status())
	}
	return out
}

func (c *camera) status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		CameraID:       c.cfg.ID,
		Name:           c.cfg.Name,
		Active:         c.active,
		State:          c.state,
		FramesCaptured: c.frames.Load(),
		FramesDropped:  c.ring.Drops(),
		LastError:      c.lastErr,
	}
}

func (m *Manager) ids() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int, 0, len(m.cams))
	for id := range m.cams {
		ids = append(ids, id)
	}
	return ids
}

// run is the capture worker. It opens the source with bounded
// retries, then reads at the configured rate until cancelled. Read
// failures trigger a reconnect loop that retries until the source
// comes back or the worker is stopped.
func (m *Manager) run(ctx context.Context, cam *camera, src Source) {
	defer close(cam.done)

	cfg := cam.currentConfig()
	camLabel := strconv.Itoa(cfg.ID)

	if !openWithRetry(ctx, cam, src) {
		return
	}
	defer src.Close()

	interval := time.Duration(float64(time.Second) / cfg.FPS)
	buf := make([]byte, cfg.Width*cfg.Height*3)
	next := time.Now()

	for {
		if ctx.Err() != nil {
			return
		}

		if err := src.ReadFrame(buf); err != nil {
			log.Printf("[CAPTURE] camera %d read failed: %v, reconnecting", cfg.ID, err)
			_ = src.Close()
			metrics.RecordReconnect(camLabel)
			for {
				if !sleepCtx(ctx, reconnectDelay) {
					return
				}
				if openErr := src.Open(); openErr != nil {
					log.Printf("[CAPTURE] camera %d reopen failed: %v, retrying", cfg.ID, openErr)
					continue
				}
				break
			}
			continue
		}

		n := cam.frames.Add(1)
		f := frame.Frame{
			CameraID:  cfg.ID,
			Number:    n,
			Width:     cfg.Width,
			Height:    cfg.Height,
			Pixels:    append([]byte(nil), buf...),
			Timestamp: time.Now(),
		}
		if cam.ring.PushDropOldest(f) {
			metrics.RecordFrameDrop(camLabel)
		}
		metrics.RecordFrame(camLabel)

		// Pace to the configured fps in small slices so Stop stays
		// responsive.
		next = next.Add(interval)
		for {
			wait := time.Until(next)
			if wait <= 0 {
				if wait < -interval {
					next = time.Now()
				}
				break
			}
			slice := paceSlice
			if wait < slice {
				slice = wait
			}
			if !sleepCtx(ctx, slice) {
				return
			}
		}
	}
}

func openWithRetry(ctx context.Context, cam *camera, src Source) bool {
	cfg := cam.currentConfig()
	var lastErr error
	for attempt := 1; attempt <= openAttempts; attempt++ {
		if err := src.Open(); err != nil {
			lastErr = err
			log.Printf("[CAPTURE] camera %d open attempt %d/%d failed: %v", cfg.ID, attempt, openAttempts, err)
			if attempt < openAttempts && !sleepCtx(ctx, openRetryDelay) {
				return false
			}
			continue
		}
		return true
	}
	cam.fail(fmt.Errorf("open after %d attempts: %w", openAttempts, lastErr))
	return false
}

func (c *camera) fail(err error) {
	c.mu.Lock()
	c.state = StateFailed
	c.active = false
	c.lastErr = err.Error()
	c.mu.Unlock()
	log.Printf("[CAPTURE] camera %d failed: %v", c.cfg.ID, err)
}

func (c *camera) currentConfig() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
