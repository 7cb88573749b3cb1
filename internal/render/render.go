// Package render draws detection overlays onto raw BGR frames and
// produces the JPEG artifacts saved for detection events.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/nexguard/nexguard/internal/frame"
)

const (
	boxThickness = 3
	jpegQuality  = 85
)

var (
	boxColor   = color.RGBA{R: 0, G: 200, B: 0, A: 255}
	textColor  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	noSigColor = color.RGBA{R: 40, G: 40, B: 40, A: 255}
)

// ToRGBA converts a packed BGR24 frame into a drawable image.
func ToRGBA(f frame.Frame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	n := f.Width * f.Height
	for i := 0; i < n; i++ {
		src := i * 3
		dst := i * 4
		if src+2 >= len(f.Pixels) {
			break
		}
		img.Pix[dst+0] = f.Pixels[src+2]
		img.Pix[dst+1] = f.Pixels[src+1]
		img.Pix[dst+2] = f.Pixels[src+0]
		img.Pix[dst+3] = 255
	}
	return img
}

// FromRGBA converts a drawable image back to packed BGR24.
func FromRGBA(img *image.RGBA) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, w*h*3)
	for i := 0; i < w*h; i++ {
		src := i * 4
		dst := i * 3
		out[dst+0] = img.Pix[src+2]
		out[dst+1] = img.Pix[src+1]
		out[dst+2] = img.Pix[src+0]
	}
	return out
}

// Annotate returns a copy of f with detection boxes, labels and a
// timestamp line drawn in. banner, when non-empty, is appended to the
// timestamp line.
func Annotate(f frame.Frame, dets []frame.Detection, banner string) frame.Frame {
	img := ToRGBA(f)

	for _, d := range dets {
		drawRect(img, d.X1, d.Y1, d.X2, d.Y2, boxThickness, boxColor)
		label := fmt.Sprintf("%s %.2f", d.ClassName, d.Confidence)
		ly := d.Y1 - 4
		if ly < basicfont.Face7x13.Height {
			ly = d.Y1 + basicfont.Face7x13.Height + 4
		}
		drawText(img, d.X1, ly, label)
	}

	header := f.Timestamp.Format("2006-01-02 15:04:05")
	if banner != "" {
		header = header + " " + banner
	}
	drawText(img, 8, 16, header)

	out := f
	out.Pixels = FromRGBA(img)
	return out
}

// NoSignal builds a synthetic placeholder frame for viewers of a
// camera that has no live frames.
func NoSignal(cameraID, w, h int, ts time.Time) frame.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = noSigColor.R
		img.Pix[i+1] = noSigColor.G
		img.Pix[i+2] = noSigColor.B
		img.Pix[i+3] = 255
	}
	msg := fmt.Sprintf("Camera %d - No Signal", cameraID)
	drawText(img, w/2-len(msg)*basicfont.Face7x13.Advance/2, h/2, msg)
	drawText(img, 8, 16, ts.Format("2006-01-02 15:04:05"))

	return frame.Frame{
		CameraID:  cameraID,
		Width:     w,
		Height:    h,
		Pixels:    FromRGBA(img),
		Timestamp: ts,
	}
}

// EncodeJPEG encodes a BGR frame as JPEG.
func EncodeJPEG(f frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, ToRGBA(f), &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

func drawRect(img *image.RGBA, x1, y1, x2, y2, thickness int, c color.RGBA) {
	b := img.Bounds()
	clamp := func(v, lo, hi int) int {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}
	x1 = clamp(x1, b.Min.X, b.Max.X-1)
	x2 = clamp(x2, b.Min.X, b.Max.X-1)
	y1 = clamp(y1, b.Min.Y, b.Max.Y-1)
	y2 = clamp(y2, b.Min.Y, b.Max.Y-1)

	for t := 0; t < thickness; t++ {
		for x := x1; x <= x2; x++ {
			setPix(img, x, y1+t, c)
			setPix(img, x, y2-t, c)
		}
		for y := y1; y <= y2; y++ {
			setPix(img, x1+t, y, c)
			setPix(img, x2-t, y, c)
		}
	}
}

func setPix(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func drawText(img *image.RGBA, x, y int, s string) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}
