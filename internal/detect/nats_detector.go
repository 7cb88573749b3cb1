package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nexguard/nexguard/internal/frame"
	"github.com/nexguard/nexguard/internal/render"
)

// inferRequest is the wire format sent to the model runner. The frame
// travels as JPEG; geometry is included so the runner can scale boxes
// back to pixel coordinates.
type inferRequest struct {
	CameraID int    `json:"camera_id"`
	FrameNum uint64 `json:"frame_number"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Model    string `json:"model"`
	JPEG     []byte `json:"jpeg"`
}

type inferResponse struct {
	Detections []frame.Detection `json:"detections"`
	Error      string            `json:"error,omitempty"`
}

// NATSDetector ships frames to a detection worker over NATS
// request/reply.
type NATSDetector struct {
	conn    *nats.Conn
	subject string
	model   string
	timeout time.Duration
}

func NewNATSDetector(conn *nats.Conn, subject, model string, timeout time.Duration) *NATSDetector {
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	return &NATSDetector{conn: conn, subject: subject, model: model, timeout: timeout}
}

func (d *NATSDetector) Infer(ctx context.Context, f frame.Frame) ([]frame.Detection, error) {
	jpg, err := render.EncodeJPEG(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	req := inferRequest{
		CameraID: f.CameraID,
		FrameNum: f.Number,
		Width:    f.Width,
		Height:   f.Height,
		Model:    d.model,
		JPEG:     jpg,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	msg, err := d.conn.RequestWithContext(ctx, d.subject, data)
	if err != nil {
		return nil, fmt.Errorf("detector request: %w", err)
	}

	var resp inferResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("detector: %s", resp.Error)
	}
	return resp.Detections, nil
}

func (d *NATSDetector) Model() string { return d.model }

func (d *NATSDetector) Close() error { return nil }
