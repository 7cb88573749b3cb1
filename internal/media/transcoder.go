// Package media probes stored clips and produces browser-playable
// renditions on demand.
package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/nexguard/nexguard/internal/metrics"
)

// Transcoder answers codec questions and produces web renditions.
type Transcoder interface {
	// ProbeCodec returns the codec name of the first video stream
	// ("h264", "hevc", ...).
	ProbeCodec(ctx context.Context, path string) (string, error)
	// ToWebMp4 writes an H.264+AAC faststart rendition of src to dst.
	ToWebMp4(ctx context.Context, src, dst string) error
}

// FFmpegTranscoder shells out to ffprobe/ffmpeg.
type FFmpegTranscoder struct{}

func (FFmpegTranscoder) ProbeCodec(ctx context.Context, path string) (string, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffprobe %s: %w", path, err)
	}
	codec := strings.TrimSpace(out.String())
	if codec == "" {
		return "", fmt.Errorf("ffprobe %s: no video stream", path)
	}
	return codec, nil
}

func (FFmpegTranscoder) ToWebMp4(ctx context.Context, src, dst string) error {
	start := time.Now()

	// Write to a temp name and rename so partial transcodes never
	// look like finished artifacts.
	tmp := dst + ".part"
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-i", src,
		"-c:v", "libx264",
		"-preset", "fast",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-movflags", "+faststart",
		"-f", "mp4",
		"-loglevel", "error",
		tmp,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("transcode %s: %w (%s)", src, err, strings.TrimSpace(stderr.String()))
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize transcode: %w", err)
	}

	metrics.TranscodeDuration.Observe(time.Since(start).Seconds())
	return nil
}

// WebVariantPath maps clip.mp4 to clip_web.mp4 alongside it.
func WebVariantPath(path string) string {
	ext := ".mp4"
	if i := strings.LastIndex(path, "."); i >= 0 {
		ext = path[i:]
		path = path[:i]
	}
	return path + "_web" + ext
}
