package inference

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexguard/nexguard/internal/detect"
	"github.com/nexguard/nexguard/internal/frame"
)

// scriptedFrames serves the same frame until Advance is called.
type scriptedFrames struct {
	mu  sync.Mutex
	num uint64
	ts  time.Time
}

func (s *scriptedFrames) LatestFrame(id int) (frame.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.num == 0 {
		return frame.Frame{}, false
	}
	ts := s.ts
	if ts.IsZero() {
		ts = time.Now()
	}
	return frame.Frame{
		CameraID:  id,
		Number:    s.num,
		Width:     4,
		Height:    4,
		Pixels:    make([]byte, 4*4*3),
		Timestamp: ts,
	}, true
}

func (s *scriptedFrames) Advance() {
	s.mu.Lock()
	s.num++
	s.mu.Unlock()
}

type fakeDetector struct {
	mu     sync.Mutex
	calls  int
	dets   []frame.Detection
	err    error
	closed bool
}

func (d *fakeDetector) Infer(ctx context.Context, f frame.Frame) ([]frame.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.dets, d.err
}

func (d *fakeDetector) Model() string { return "fake" }

func (d *fakeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type recordingSink struct {
	mu      sync.Mutex
	results []frame.Result
}

func (s *recordingSink) Handle(ctx context.Context, res frame.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func (s *recordingSink) first() frame.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[0]
}

func factoryFor(det detect.Detector) DetectorFactory {
	return func(path string) (detect.Detector, error) { return det, nil }
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestDispatcher_SkipsUnchangedFrames(t *testing.T) {
	frames := &scriptedFrames{}
	det := &fakeDetector{}
	d := NewDispatcher(frames, nil, factoryFor(det), 0.5, 5)
	require.NoError(t, d.LoadModel("model.onnx"))

	d.StartProcessing(1)
	defer d.StopAll()

	frames.Advance()
	eventually(t, func() bool { return det.callCount() == 1 })

	// Same frame number stays untouched.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, det.callCount())

	frames.Advance()
	eventually(t, func() bool { return det.callCount() == 2 })
}

func TestDispatcher_ThresholdFiltersDetections(t *testing.T) {
	frames := &scriptedFrames{}
	det := &fakeDetector{dets: []frame.Detection{
		{ClassName: "person", ClassID: 1, Confidence: 0.9, X1: 1, Y1: 1, X2: 3, Y2: 3},
		{ClassName: "person", ClassID: 1, Confidence: 0.3, X1: 0, Y1: 0, X2: 2, Y2: 2},
	}}
	sink := &recordingSink{}
	d := NewDispatcher(frames, sink, factoryFor(det), 0.5, 5)
	require.NoError(t, d.LoadModel("model.onnx"))

	d.StartProcessing(1)
	defer d.StopAll()
	frames.Advance()

	eventually(t, func() bool { return sink.count() == 1 })

	res, ok := d.LatestResults(1)
	require.True(t, ok)
	require.Len(t, res.Detections, 1)
	assert.Equal(t, 0.9, res.Detections[0].Confidence)
	assert.Equal(t, 1, res.Detections[0].ClassID)
	assert.Equal(t, len(res.Annotated.Pixels), 4*4*3)
}

func TestDispatcher_ResultTimestampIsCaptureTime(t *testing.T) {
	captured := time.Now().Add(-45 * time.Second)
	frames := &scriptedFrames{ts: captured}
	det := &fakeDetector{dets: []frame.Detection{
		{ClassName: "person", Confidence: 0.9, X1: 1, Y1: 1, X2: 3, Y2: 3},
	}}
	sink := &recordingSink{}
	d := NewDispatcher(frames, sink, factoryFor(det), 0.5, 5)
	require.NoError(t, d.LoadModel("model.onnx"))

	d.StartProcessing(1)
	defer d.StopAll()
	frames.Advance()

	eventually(t, func() bool { return sink.count() == 1 })
	assert.True(t, sink.first().Timestamp.Equal(captured))

	res, ok := d.LatestResults(1)
	require.True(t, ok)
	assert.True(t, res.Timestamp.Equal(captured))
}

func TestDispatcher_NoSinkCallWithoutDetections(t *testing.T) {
	frames := &scriptedFrames{}
	det := &fakeDetector{} // no detections
	sink := &recordingSink{}
	d := NewDispatcher(frames, sink, factoryFor(det), 0.5, 5)
	require.NoError(t, d.LoadModel("model.onnx"))

	d.StartProcessing(1)
	defer d.StopAll()
	frames.Advance()

	eventually(t, func() bool { return det.callCount() >= 1 })
	assert.Equal(t, 0, sink.count())

	// Result is still published for viewers.
	_, ok := d.LatestResults(1)
	assert.True(t, ok)
}

func TestDispatcher_NoModelMeansNoInference(t *testing.T) {
	frames := &scriptedFrames{}
	det := &fakeDetector{}
	d := NewDispatcher(frames, nil, factoryFor(det), 0.5, 5)

	d.StartProcessing(1)
	defer d.StopAll()
	frames.Advance()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, det.callCount())
	assert.Equal(t, "", d.Model())
}

func TestDispatcher_LoadModelSwapsAndClosesOld(t *testing.T) {
	first := &fakeDetector{}
	second := &fakeDetector{}
	dets := []detect.Detector{first, second}
	i := 0
	factory := func(path string) (detect.Detector, error) {
		det := dets[i]
		i++
		return det, nil
	}

	d := NewDispatcher(&scriptedFrames{}, nil, factory, 0.5, 5)
	require.NoError(t, d.LoadModel("a.onnx"))
	require.NoError(t, d.LoadModel("b.onnx"))

	assert.True(t, first.closed)
	assert.False(t, second.closed)
	assert.Equal(t, "b.onnx", d.ModelPath())
}

func TestDispatcher_LoadModelFactoryError(t *testing.T) {
	factory := func(path string) (detect.Detector, error) {
		return nil, errors.New("bad model")
	}
	d := NewDispatcher(&scriptedFrames{}, nil, factory, 0.5, 5)
	assert.Error(t, d.LoadModel("broken.onnx"))
	assert.Equal(t, "", d.ModelPath())
}

func TestDispatcher_ThresholdClamped(t *testing.T) {
	d := NewDispatcher(&scriptedFrames{}, nil, factoryFor(&fakeDetector{}), 2.5, 5)
	assert.Equal(t, 1.0, d.ConfThreshold())

	d.SetConfThreshold(-1)
	assert.Equal(t, 0.0, d.ConfThreshold())

	d.SetConfThreshold(0.7)
	assert.Equal(t, 0.7, d.ConfThreshold())
}

func TestDispatcher_StartStopIdempotent(t *testing.T) {
	d := NewDispatcher(&scriptedFrames{}, nil, factoryFor(&fakeDetector{}), 0.5, 5)

	d.StartProcessing(1)
	d.StartProcessing(1)
	assert.True(t, d.IsProcessing(1))

	d.StopProcessing(1)
	d.StopProcessing(1)
	assert.False(t, d.IsProcessing(1))
}

func TestDispatcher_ResultsRingBounded(t *testing.T) {
	frames := &scriptedFrames{}
	det := &fakeDetector{}
	d := NewDispatcher(frames, nil, factoryFor(det), 0.5, 5)
	require.NoError(t, d.LoadModel("model.onnx"))

	d.StartProcessing(1)
	defer d.StopAll()

	for j := 0; j < 20; j++ {
		frames.Advance()
		eventually(t, func() bool { return det.callCount() >= j+1 })
	}

	res, ok := d.LatestResults(1)
	require.True(t, ok)
	assert.Equal(t, uint64(20), res.Number)
}
