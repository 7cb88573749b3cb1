package frame

import (
	"time"
)

// Frame is a single decoded video frame in packed BGR24 order,
// matching what the decoder subprocess writes to its pipe.
type Frame struct {
	CameraID  int
	Number    uint64
	Width     int
	Height    int
	Pixels    []byte
	Timestamp time.Time
}

// Detection is one scored box in frame pixel coordinates.
type Detection struct {
	ClassName  string  `json:"class_name"`
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
}

// Result pairs a frame with the detections produced from it plus the
// annotated rendering used by stills, clips and live viewers.
type Result struct {
	CameraID   int
	Number     uint64
	Detections []Detection
	Annotated  Frame
	Timestamp  time.Time
}

// Size returns the expected byte length of the pixel buffer.
func (f *Frame) Size() int {
	return f.Width * f.Height * 3
}

// Clone copies the frame including its pixel buffer. Workers hand
// frames to consumers that outlive the ring slot, so sharing the
// backing array is not safe.
func (f Frame) Clone() Frame {
	out := f
	out.Pixels = make([]byte, len(f.Pixels))
	copy(out.Pixels, f.Pixels)
	return out
}
