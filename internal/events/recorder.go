package events

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/nexguard/nexguard/internal/frame"
	"github.com/nexguard/nexguard/internal/metrics"
	"github.com/nexguard/nexguard/internal/platform/paths"
)

const recorderPoll = 100 * time.Millisecond

// FrameTap is the capture-side view the recorder needs.
type FrameTap interface {
	DrainFrames(id int) []frame.Frame
}

// ResultTap is the inference-side view the recorder needs.
type ResultTap interface {
	LatestResults(id int) (frame.Result, bool)
}

type recording struct {
	detectionID int64
	end         time.Time
	cancel      context.CancelFunc
}

// Recorder runs at most one post-event clip recording per camera.
// Repeat events extend the end time of the running recording instead
// of starting another.
type Recorder struct {
	frames  FrameTap
	results ResultTap
	encoder ClipEncoder

	storageRoot string
	videoSubdir string
	lead        time.Duration
	trail       time.Duration
	fps         int

	// onComplete persists the finished clip. relPath is
	// storage-relative, duration in seconds.
	onComplete func(cameraID int, detectionID int64, relPath string, sizeBytes int64, duration float64)

	mu     sync.Mutex
	active map[int]*recording
	wg     sync.WaitGroup
}

func NewRecorder(frames FrameTap, results ResultTap, encoder ClipEncoder,
	storageRoot, videoSubdir string, lead, trail time.Duration, fps int,
	onComplete func(cameraID int, detectionID int64, relPath string, sizeBytes int64, duration float64)) *Recorder {

	if fps <= 0 {
		fps = 20
	}
	return &Recorder{
		frames:      frames,
		results:     results,
		encoder:     encoder,
		storageRoot: storageRoot,
		videoSubdir: videoSubdir,
		lead:        lead,
		trail:       trail,
		fps:         fps,
		onComplete:  onComplete,
		active:      make(map[int]*recording),
	}
}

// StartOrExtend begins a recording for the camera, or pushes out the
// end time of the one already running. Returns true when an existing
// recording was extended.
func (r *Recorder) StartOrExtend(cameraID int, cameraName string, detectionID int64, eventAt time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.active[cameraID]; ok {
		rec.end = eventAt.Add(r.trail)
		return true
	}

	ctx, cancel := context.WithCancel(context.Background())
	rec := &recording{
		detectionID: detectionID,
		end:         eventAt.Add(r.trail),
		cancel:      cancel,
	}
	r.active[cameraID] = rec
	metrics.ActiveRecordings.Inc()

	r.wg.Add(1)
	go r.run(ctx, cameraID, cameraName, rec, eventAt)
	return false
}

// Recording reports whether a clip is being captured for the camera.
func (r *Recorder) Recording(cameraID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[cameraID]
	return ok
}

// Close cancels running recordings and waits for them to wind down.
func (r *Recorder) Close() {
	r.mu.Lock()
	for _, rec := range r.active {
		rec.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Recorder) run(ctx context.Context, cameraID int, cameraName string, rec *recording, eventAt time.Time) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.active, cameraID)
		r.mu.Unlock()
		metrics.ActiveRecordings.Dec()
	}()

	// Pre-event footage: whatever the capture ring still holds from
	// the lead window.
	cutoff := eventAt.Add(-r.lead)
	var clip []frame.Frame
	for _, f := range r.frames.DrainFrames(cameraID) {
		if !f.Timestamp.Before(cutoff) {
			clip = append(clip, f)
		}
	}

	var lastNum uint64
	if len(clip) > 0 {
		lastNum = clip[len(clip)-1].Number
	}

	ticker := time.NewTicker(recorderPoll)
	defer ticker.Stop()

poll:
	for {
		select {
		case <-ctx.Done():
			break poll
		case <-ticker.C:
			if res, ok := r.results.LatestResults(cameraID); ok && res.Number != lastNum {
				lastNum = res.Number
				clip = append(clip, res.Annotated)
			}

			r.mu.Lock()
			done := !time.Now().Before(rec.end)
			r.mu.Unlock()
			if done {
				break poll
			}
		}
	}

	if len(clip) == 0 {
		log.Printf("[RECORD] camera %d: no frames captured for detection %d, skipping clip", cameraID, rec.detectionID)
		return
	}

	relPath := clipRelPath(r.videoSubdir, cameraName, cameraID, eventAt, rec.detectionID)
	absPath, err := paths.SafeJoin(r.storageRoot, relPath)
	if err != nil {
		log.Printf("[RECORD] camera %d: bad clip path: %v", cameraID, err)
		return
	}

	if err := r.encoder.Encode(context.Background(), absPath, r.fps, clip); err != nil {
		log.Printf("[RECORD] camera %d: clip encode failed: %v", cameraID, err)
		return
	}

	var size int64
	if st, err := os.Stat(absPath); err == nil {
		size = st.Size()
	}
	duration := float64(len(clip)) / float64(r.fps)
	if r.onComplete != nil {
		r.onComplete(cameraID, rec.detectionID, relPath, size, duration)
	}
	log.Printf("[RECORD] camera %d: clip saved %s (%d frames)", cameraID, relPath, len(clip))
}
