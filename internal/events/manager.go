// Package events turns raw detections into persisted detection
// events: database rows, annotated stills, post-event clips and
// alert notifications.
package events

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/nexguard/nexguard/internal/capture"
	"github.com/nexguard/nexguard/internal/config"
	"github.com/nexguard/nexguard/internal/data"
	"github.com/nexguard/nexguard/internal/frame"
	"github.com/nexguard/nexguard/internal/metrics"
	"github.com/nexguard/nexguard/internal/notify"
	"github.com/nexguard/nexguard/internal/platform/paths"
	"github.com/nexguard/nexguard/internal/render"
)

const cooldownMaxKeys = 4096

// DetectionStore persists detection events.
type DetectionStore interface {
	Create(ctx context.Context, d *data.Detection) error
	SetClipPath(ctx context.Context, id int64, clipPath string) error
}

// MediaStore persists artifact rows.
type MediaStore interface {
	Create(ctx context.Context, m *data.Media) error
}

// CameraDirectory resolves registered camera configs.
type CameraDirectory interface {
	Camera(id int) (capture.Config, error)
}

// LiveCache mirrors results for external pollers. Optional.
type LiveCache interface {
	Publish(ctx context.Context, res frame.Result) error
}

type Options struct {
	Config      config.EventsConfig
	StorageRoot string
	ImgSubdir   string
	VideoSubdir string

	Detections DetectionStore
	Media      MediaStore
	Cameras    CameraDirectory
	Frames     FrameTap
	Results    ResultTap
	Encoder    ClipEncoder
	Alerts     *notify.Pool
	Live       LiveCache
}

// Manager applies the event policy to inference results and owns the
// persistence and recording that follow an accepted event.
type Manager struct {
	detections DetectionStore
	media      MediaStore
	cameras    CameraDirectory
	cooldown   *Cooldown
	recorder   *Recorder
	alerts     *notify.Pool
	live       LiveCache

	storageRoot string
	imgSubdir   string

	minConfidence float64
	allowed       map[string]struct{}
	alertsEnabled bool
}

func NewManager(opts Options) *Manager {
	allowed := make(map[string]struct{}, len(opts.Config.AllowedClasses))
	for _, c := range opts.Config.AllowedClasses {
		allowed[c] = struct{}{}
	}

	encoder := opts.Encoder
	if encoder == nil {
		encoder = FFmpegClipEncoder{}
	}

	m := &Manager{
		detections:    opts.Detections,
		media:         opts.Media,
		cameras:       opts.Cameras,
		cooldown:      NewCooldown(cooldownMaxKeys, opts.Config.Cooldown()),
		alerts:        opts.Alerts,
		live:          opts.Live,
		storageRoot:   opts.StorageRoot,
		imgSubdir:     opts.ImgSubdir,
		minConfidence: opts.Config.MinConfidence,
		allowed:       allowed,
		alertsEnabled: opts.Config.EnableAlerts,
	}
	m.recorder = NewRecorder(
		opts.Frames, opts.Results, encoder,
		opts.StorageRoot, opts.VideoSubdir,
		opts.Config.ClipLead(), opts.Config.ClipTrail(), opts.Config.ClipFPS,
		m.clipComplete,
	)
	return m
}

// Handle applies the event policy to every detection in the result.
// Persistence failures are logged; they never propagate back into
// the inference worker.
func (m *Manager) Handle(ctx context.Context, res frame.Result) {
	if m.live != nil {
		if err := m.live.Publish(ctx, res); err != nil {
			log.Printf("[EVENTS] live cache publish failed: %v", err)
		}
	}

	for _, det := range res.Detections {
		if det.Confidence < m.minConfidence {
			continue
		}
		if _, ok := m.allowed[det.ClassName]; !ok {
			continue
		}
		if m.cooldown.Suppressed(res.CameraID, det.ClassName) {
			metrics.RecordSuppressed(det.ClassName)
			continue
		}
		if err := m.record(ctx, res, det); err != nil {
			log.Printf("[EVENTS] camera %d: record %s event failed: %v", res.CameraID, det.ClassName, err)
		}
	}
}

// Recording exposes recorder state for status endpoints.
func (m *Manager) Recording(cameraID int) bool {
	return m.recorder.Recording(cameraID)
}

// Close drains in-flight recordings.
func (m *Manager) Close() {
	m.recorder.Close()
}

func (m *Manager) record(ctx context.Context, res frame.Result, det frame.Detection) error {
	cameraName := fmt.Sprintf("camera-%d", res.CameraID)
	if cam, err := m.cameras.Camera(res.CameraID); err == nil && cam.Name != "" {
		cameraName = cam.Name
	}

	ts := res.Timestamp
	relImg := imageRelPath(m.imgSubdir, cameraName, res.CameraID, ts, det.ClassName)

	row := &data.Detection{
		CameraID:   res.CameraID,
		CameraName: cameraName,
		ClassName:  det.ClassName,
		Confidence: det.Confidence,
		X1:         det.X1,
		Y1:         det.Y1,
		X2:         det.X2,
		Y2:         det.Y2,
		ImagePath:  relImg,
		OccurredAt: ts,
	}
	if err := m.detections.Create(ctx, row); err != nil {
		return fmt.Errorf("persist detection: %w", err)
	}
	m.cooldown.Open(res.CameraID, det.ClassName)

	// The still is best effort. A failed write drops the image
	// artifact but keeps the detection row, the recording and the
	// alert.
	if size, err := m.saveStill(res.Annotated, relImg); err != nil {
		log.Printf("[EVENTS] camera %d: save still failed: %v", res.CameraID, err)
	} else if err := m.media.Create(ctx, &data.Media{
		DetectionID: row.ID,
		CameraID:    res.CameraID,
		Kind:        data.MediaImage,
		Path:        relImg,
		SizeBytes:   size,
	}); err != nil {
		log.Printf("[EVENTS] camera %d: persist image media failed: %v", res.CameraID, err)
	}

	if extended := m.recorder.StartOrExtend(res.CameraID, cameraName, row.ID, ts); extended {
		log.Printf("[EVENTS] camera %d: extended running recording", res.CameraID)
	}

	if m.alertsEnabled && m.alerts != nil {
		m.alerts.Enqueue(notify.Alert{
			DetectionID: row.ID,
			CameraID:    res.CameraID,
			CameraName:  cameraName,
			ClassName:   det.ClassName,
			Confidence:  det.Confidence,
			ImagePath:   relImg,
			OccurredAt:  ts,
		})
	}

	metrics.RecordDetection(det.ClassName)
	return nil
}

func (m *Manager) saveStill(annotated frame.Frame, relPath string) (int64, error) {
	absPath, err := paths.SafeJoin(m.storageRoot, relPath)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0750); err != nil {
		return 0, fmt.Errorf("create image dir: %w", err)
	}
	jpg, err := render.EncodeJPEG(annotated)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(absPath, jpg, 0640); err != nil {
		return 0, err
	}
	return int64(len(jpg)), nil
}

// clipComplete persists the finished clip artifact.
func (m *Manager) clipComplete(cameraID int, detectionID int64, relPath string, sizeBytes int64, duration float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.media.Create(ctx, &data.Media{
		DetectionID: detectionID,
		CameraID:    cameraID,
		Kind:        data.MediaVideo,
		Path:        relPath,
		SizeBytes:   sizeBytes,
		Duration:    duration,
	}); err != nil {
		log.Printf("[EVENTS] camera %d: persist clip media failed: %v", cameraID, err)
	}
	if err := m.detections.SetClipPath(ctx, detectionID, relPath); err != nil {
		log.Printf("[EVENTS] camera %d: set clip path failed: %v", cameraID, err)
	}
}
