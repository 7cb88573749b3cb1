package events

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/nexguard/nexguard/internal/frame"
)

// ClipEncoder turns a frame sequence into an mp4 on disk.
type ClipEncoder interface {
	Encode(ctx context.Context, path string, fps int, frames []frame.Frame) error
}

// FFmpegClipEncoder pipes raw BGR frames into ffmpeg and writes
// H.264 baseline yuv420p with faststart. Odd source dimensions are
// trimmed down one pixel; yuv420p requires even geometry.
type FFmpegClipEncoder struct{}

func (FFmpegClipEncoder) Encode(ctx context.Context, path string, fps int, frames []frame.Frame) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames to encode")
	}
	w, h := frames[0].Width, frames[0].Height
	evenW, evenH := w-w%2, h-h%2

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create clip dir: %w", err)
	}

	args := []string{
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", w, h),
		"-r", fmt.Sprintf("%d", fps),
		"-i", "-",
	}
	if evenW != w || evenH != h {
		args = append(args, "-vf", fmt.Sprintf("crop=%d:%d:0:0", evenW, evenH))
	}
	args = append(args,
		"-c:v", "libx264",
		"-profile:v", "baseline",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-loglevel", "error",
		path,
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	frameSize := w * h * 3
	writeErr := func() error {
		defer stdin.Close()
		for _, f := range frames {
			if f.Width != w || f.Height != h || len(f.Pixels) != frameSize {
				// Resolution changed mid-recording; stop at the cut.
				return nil
			}
			if _, err := stdin.Write(f.Pixels); err != nil {
				return fmt.Errorf("write frame: %w", err)
			}
		}
		return nil
	}()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("encode clip: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}
	return writeErr
}
