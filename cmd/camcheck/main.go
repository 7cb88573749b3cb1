// camcheck opens a camera source the same way the server does and
// reports the measured frame rate. Handy for validating an RTSP URL
// or device index before registering it.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nexguard/nexguard/internal/capture"
)

func main() {
	url := flag.String("url", "", "Camera URL or device index (e.g. rtsp://..., 0)")
	width := flag.Int("width", 640, "Requested width")
	height := flag.Int("height", 480, "Requested height")
	seconds := flag.Int("seconds", 5, "How long to sample")
	flag.Parse()

	if *url == "" {
		flag.Usage()
		os.Exit(2)
	}

	src := capture.NewFFmpegSource(*url, *width, *height)
	if err := src.Open(); err != nil {
		log.Fatalf("open %s: %v", *url, err)
	}
	defer src.Close()

	buf := make([]byte, *width**height*3)
	deadline := time.Now().Add(time.Duration(*seconds) * time.Second)
	frames := 0
	start := time.Now()
	for time.Now().Before(deadline) {
		if err := src.ReadFrame(buf); err != nil {
			log.Fatalf("read frame %d: %v", frames, err)
		}
		frames++
	}

	elapsed := time.Since(start).Seconds()
	fmt.Printf("source:     %s\n", *url)
	fmt.Printf("resolution: %dx%d\n", *width, *height)
	fmt.Printf("frames:     %d in %.1fs\n", frames, elapsed)
	fmt.Printf("fps:        %.2f\n", float64(frames)/elapsed)
}
