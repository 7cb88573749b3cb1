// Package detect defines the object detector boundary. The inference
// dispatcher only sees the Detector interface; the shipped
// implementation hands frames to a model runner over NATS.
package detect

import (
	"context"

	"github.com/nexguard/nexguard/internal/frame"
)

// Detector runs one model over one frame.
type Detector interface {
	// Infer returns all detections for the frame, unfiltered by
	// confidence.
	Infer(ctx context.Context, f frame.Frame) ([]frame.Detection, error)
	// Model identifies the loaded model, for status reporting.
	Model() string
	Close() error
}
