package rtc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/nexguard/nexguard/internal/frame"
)

// SampleWriter receives encoded media samples. Satisfied by
// *webrtc.TrackLocalStaticSample.
type SampleWriter interface {
	WriteSample(s media.Sample) error
}

// Encoder consumes raw frames for one viewer.
type Encoder interface {
	Write(f frame.Frame) error
	Close() error
}

// EncoderFactory builds the per-viewer encoder. Injectable for tests.
type EncoderFactory func(ctx context.Context, out SampleWriter, width, height, fps int) (Encoder, error)

// VP8Encoder pipes raw BGR frames into ffmpeg and reads VP8 back out
// of an IVF stream on stdout, forwarding each encoded frame as a
// media sample.
type VP8Encoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	width  int
	height int
}

func NewVP8Encoder(ctx context.Context, out SampleWriter, width, height, fps int) (Encoder, error) {
	if fps <= 0 {
		fps = 15
	}
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", fmt.Sprintf("%d", fps),
		"-i", "-",
		"-c:v", "libvpx",
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-b:v", "1M",
		"-maxrate", "1M",
		"-bufsize", "2M",
		"-g", fmt.Sprintf("%d", fps*2),
		"-f", "ivf",
		"-loglevel", "error",
		"-",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	dur := time.Second / time.Duration(fps)
	go func() {
		if err := relayIVF(stdout, dur, out); err != nil && ctx.Err() == nil {
			log.Printf("[RTC] encoder stream ended: %v (%s)", err, strings.TrimSpace(stderr.String()))
		}
	}()
	go func() {
		_ = cmd.Wait()
	}()

	return &VP8Encoder{cmd: cmd, stdin: stdin, width: width, height: height}, nil
}

func (e *VP8Encoder) Write(f frame.Frame) error {
	if f.Width != e.width || f.Height != e.height || len(f.Pixels) != f.Size() {
		return fmt.Errorf("frame geometry %dx%d does not match encoder %dx%d",
			f.Width, f.Height, e.width, e.height)
	}
	_, err := e.stdin.Write(f.Pixels)
	return err
}

func (e *VP8Encoder) Close() error {
	e.stdin.Close()
	if e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
	return nil
}

// relayIVF parses an IVF byte stream and writes each contained VP8
// frame to out. Layout: 32-byte file header starting "DKIF", then per
// frame a 12-byte header (uint32 LE payload size, uint64 LE pts)
// followed by the payload.
func relayIVF(r io.Reader, frameDur time.Duration, out SampleWriter) error {
	br := bufio.NewReader(r)

	header := make([]byte, 32)
	if _, err := io.ReadFull(br, header); err != nil {
		return fmt.Errorf("read ivf header: %w", err)
	}
	if string(header[:4]) != "DKIF" {
		return fmt.Errorf("bad ivf signature %q", header[:4])
	}

	fh := make([]byte, 12)
	for {
		if _, err := io.ReadFull(br, fh); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read frame header: %w", err)
		}
		size := binary.LittleEndian.Uint32(fh[:4])
		if size == 0 {
			continue
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(br, payload); err != nil {
			return fmt.Errorf("read frame payload: %w", err)
		}
		if err := out.WriteSample(media.Sample{Data: payload, Duration: frameDur}); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
	}
}
