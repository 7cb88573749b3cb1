package events

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Artifact paths are storage-relative:
//
//	{img_subdir}/{camera_name}/{YYYY}/{MM}/{DD}/{camera_id}_{unix}_{class}.jpg
//	{video_subdir}/{camera_name}/{YYYY}/{MM}/{DD}/{camera_id}_{unix}_{detection_id}_clip.mp4

func imageRelPath(imgSubdir, cameraName string, cameraID int, ts time.Time, class string) string {
	return filepath.Join(
		imgSubdir,
		sanitizeName(cameraName),
		dateDirs(ts),
		fmt.Sprintf("%d_%d_%s.jpg", cameraID, ts.Unix(), class),
	)
}

func clipRelPath(videoSubdir, cameraName string, cameraID int, ts time.Time, detectionID int64) string {
	return filepath.Join(
		videoSubdir,
		sanitizeName(cameraName),
		dateDirs(ts),
		fmt.Sprintf("%d_%d_%d_clip.mp4", cameraID, ts.Unix(), detectionID),
	)
}

func dateDirs(ts time.Time) string {
	return filepath.Join(
		fmt.Sprintf("%04d", ts.Year()),
		fmt.Sprintf("%02d", int(ts.Month())),
		fmt.Sprintf("%02d", ts.Day()),
	)
}

// sanitizeName keeps display names filesystem-safe without losing
// readability.
func sanitizeName(name string) string {
	if name == "" {
		return "camera"
	}
	r := strings.NewReplacer("/", "-", "\\", "-", "..", "-", ":", "-")
	return r.Replace(name)
}
