// Package inference runs per-camera detection workers between the
// capture rings and the detection event manager.
package inference

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/nexguard/nexguard/internal/capture"
	"github.com/nexguard/nexguard/internal/detect"
	"github.com/nexguard/nexguard/internal/frame"
	"github.com/nexguard/nexguard/internal/metrics"
	"github.com/nexguard/nexguard/internal/render"
)

var ErrNoModel = errors.New("no model loaded")

const idleWait = 10 * time.Millisecond

// DetectorFactory builds a detector for a model path. Injected so
// tests run without a live model runner.
type DetectorFactory func(modelPath string) (detect.Detector, error)

// ResultSink receives every filtered inference result. The detection
// event manager implements this.
type ResultSink interface {
	Handle(ctx context.Context, res frame.Result)
}

// FrameProvider is the slice of the capture manager the dispatcher
// needs.
type FrameProvider interface {
	LatestFrame(id int) (frame.Frame, bool)
}

type worker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type Dispatcher struct {
	frames  FrameProvider
	sink    ResultSink
	factory DetectorFactory

	modelMu   sync.RWMutex
	detector  detect.Detector
	modelPath string
	threshold float64

	mu         sync.Mutex
	workers    map[int]*worker
	results    map[int]*frame.Ring[frame.Result]
	resultsCap int
}

var _ FrameProvider = (*capture.Manager)(nil)

func NewDispatcher(frames FrameProvider, sink ResultSink, factory DetectorFactory, threshold float64, resultsCap int) *Dispatcher {
	if resultsCap < 1 {
		resultsCap = 5
	}
	return &Dispatcher{
		frames:     frames,
		sink:       sink,
		factory:    factory,
		threshold:  clamp01(threshold),
		workers:    make(map[int]*worker),
		results:    make(map[int]*frame.Ring[frame.Result]),
		resultsCap: resultsCap,
	}
}

// LoadModel builds a detector for path and swaps it in. Workers pick
// up the new detector on their next frame.
func (d *Dispatcher) LoadModel(path string) error {
	det, err := d.factory(path)
	if err != nil {
		return err
	}

	d.modelMu.Lock()
	old := d.detector
	d.detector = det
	d.modelPath = path
	d.modelMu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	log.Printf("[INFER] model loaded: %s", path)
	return nil
}

func (d *Dispatcher) Model() string {
	d.modelMu.RLock()
	defer d.modelMu.RUnlock()
	if d.detector == nil {
		return ""
	}
	return d.detector.Model()
}

func (d *Dispatcher) ModelPath() string {
	d.modelMu.RLock()
	defer d.modelMu.RUnlock()
	return d.modelPath
}

func (d *Dispatcher) SetConfThreshold(v float64) {
	d.modelMu.Lock()
	d.threshold = clamp01(v)
	d.modelMu.Unlock()
}

func (d *Dispatcher) ConfThreshold() float64 {
	d.modelMu.RLock()
	defer d.modelMu.RUnlock()
	return d.threshold
}

// StartProcessing launches the worker for a camera. Already running
// is a no-op.
func (d *Dispatcher) StartProcessing(cameraID int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.workers[cameraID]; ok {
		return
	}
	if _, ok := d.results[cameraID]; !ok {
		d.results[cameraID] = frame.NewRing[frame.Result](d.resultsCap)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{cancel: cancel, done: make(chan struct{})}
	d.workers[cameraID] = w
	go d.run(ctx, cameraID, d.results[cameraID], w.done)
}

// StopProcessing cancels the camera's worker and waits for exit.
func (d *Dispatcher) StopProcessing(cameraID int) {
	d.mu.Lock()
	w, ok := d.workers[cameraID]
	if ok {
		delete(d.workers, cameraID)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	w.cancel()
	<-w.done
}

func (d *Dispatcher) StopAll() {
	d.mu.Lock()
	ids := make([]int, 0, len(d.workers))
	for id := range d.workers {
		ids = append(ids, id)
	}
	d.mu.Unlock()
	for _, id := range ids {
		d.StopProcessing(id)
	}
}

func (d *Dispatcher) IsProcessing(cameraID int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.workers[cameraID]
	return ok
}

// LatestResults returns the newest result for a camera without
// consuming it.
func (d *Dispatcher) LatestResults(cameraID int) (frame.Result, bool) {
	d.mu.Lock()
	ring, ok := d.results[cameraID]
	d.mu.Unlock()
	if !ok {
		return frame.Result{}, false
	}
	return ring.Peek()
}

func (d *Dispatcher) run(ctx context.Context, cameraID int, ring *frame.Ring[frame.Result], done chan struct{}) {
	defer close(done)

	var lastNum uint64
	for {
		if ctx.Err() != nil {
			return
		}

		f, ok := d.frames.LatestFrame(cameraID)
		if !ok || f.Number == lastNum {
			// Nothing new yet.
			if !sleepCtx(ctx, idleWait) {
				return
			}
			continue
		}
		lastNum = f.Number

		d.modelMu.RLock()
		det := d.detector
		threshold := d.threshold
		d.modelMu.RUnlock()
		if det == nil {
			if !sleepCtx(ctx, idleWait) {
				return
			}
			continue
		}

		start := time.Now()
		dets, err := det.Infer(ctx, f)
		metrics.RecordInferenceLatency(float64(time.Since(start).Milliseconds()))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[INFER] camera %d infer failed: %v", cameraID, err)
			continue
		}

		kept := make([]frame.Detection, 0, len(dets))
		for _, dd := range dets {
			if dd.Confidence >= threshold {
				kept = append(kept, dd)
			}
		}

		res := frame.Result{
			CameraID:   cameraID,
			Number:     f.Number,
			Detections: kept,
			Annotated:  render.Annotate(f, kept, ""),
			// The event timestamp is when the frame was captured, not
			// when inference finished.
			Timestamp: f.Timestamp,
		}
		ring.PushDropOldest(res)

		if d.sink != nil && len(kept) > 0 {
			d.sink.Handle(ctx, res)
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func sleepCtx(ctx context.Context, dur time.Duration) bool {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
