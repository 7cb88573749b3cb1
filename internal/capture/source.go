package capture

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// Source yields decoded BGR24 frames from a camera. Implementations
// must be safe to Open/Close repeatedly from a single goroutine.
type Source interface {
	Open() error
	// ReadFrame fills buf with exactly one frame (width*height*3 bytes).
	ReadFrame(buf []byte) error
	Close() error
}

// SourceFactory builds a Source for a camera URL at a fixed output
// resolution.
type SourceFactory func(url string, width, height int) Source

// FFmpegSource decodes any input ffmpeg understands into rawvideo
// frames on a pipe. Bare integers are treated as local V4L2 device
// indexes, everything else as a network URL.
type FFmpegSource struct {
	url    string
	width  int
	height int

	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func NewFFmpegSource(url string, width, height int) Source {
	return &FFmpegSource{url: url, width: width, height: height}
}

func (s *FFmpegSource) Open() error {
	args := inputArgs(s.url)
	args = append(args,
		"-vf", fmt.Sprintf("scale=%d:%d", s.width, s.height),
		"-pix_fmt", "bgr24",
		"-f", "rawvideo",
		"-loglevel", "error",
		"-",
	)

	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	s.cmd = cmd
	s.stdout = stdout
	return nil
}

func (s *FFmpegSource) ReadFrame(buf []byte) error {
	if s.stdout == nil {
		return fmt.Errorf("source not open")
	}
	if _, err := io.ReadFull(s.stdout, buf); err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	return nil
}

func (s *FFmpegSource) Close() error {
	if s.cmd == nil {
		return nil
	}
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Signal(syscall.SIGTERM)
	}
	if s.stdout != nil {
		_ = s.stdout.Close()
	}
	err := s.cmd.Wait()
	s.cmd = nil
	s.stdout = nil
	// SIGTERM exit is the normal teardown path, not a failure.
	if err != nil && strings.Contains(err.Error(), "signal") {
		return nil
	}
	return err
}

func inputArgs(url string) []string {
	if idx, err := strconv.Atoi(url); err == nil {
		return []string{"-f", "v4l2", "-i", fmt.Sprintf("/dev/video%d", idx)}
	}
	if strings.HasPrefix(url, "rtsp://") {
		return []string{"-rtsp_transport", "tcp", "-i", url}
	}
	return []string{"-i", url}
}
