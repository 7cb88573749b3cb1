package api

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nexguard/nexguard/internal/data"
	"github.com/nexguard/nexguard/internal/media"
	"github.com/nexguard/nexguard/internal/platform/paths"
)

const serveChunk = 1 << 20

// GET /detections/media/video/{detection_id}
//
// Serves the stored clip for a detection, transcoding once to an
// H.264 web variant when the stored codec is not browser friendly.
func (s *Server) handleDetectionVideo(w http.ResponseWriter, r *http.Request) {
	detID, err := strconv.ParseInt(chi.URLParam(r, "detection_id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid detection id")
		return
	}

	relPath, err := s.Media.VideoPath(r.Context(), detID)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "no video for detection")
			return
		}
		respondError(w, http.StatusInternalServerError, "media lookup failed")
		return
	}

	absPath, err := paths.SafeJoin(s.StorageRoot, relPath)
	if err != nil {
		log.Printf("[MEDIA] detection %d: path escapes storage root: %q", detID, relPath)
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	absPath = s.webReadyPath(r, absPath)

	f, err := os.Open(absPath)
	if err != nil {
		respondError(w, http.StatusNotFound, "clip file missing")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "stat clip failed")
		return
	}
	serveVideo(w, r, f, info.Size())
}

// webReadyPath returns the path to serve: the original when it is
// already H.264 (or the probe fails), otherwise a transcoded
// `{stem}_web.mp4` variant, reused when a fresh one exists.
func (s *Server) webReadyPath(r *http.Request, absPath string) string {
	codec, err := s.Transcoder.ProbeCodec(r.Context(), absPath)
	if err != nil || codec == "h264" {
		return absPath
	}

	webPath := media.WebVariantPath(absPath)
	src, err := os.Stat(absPath)
	if err != nil {
		return absPath
	}
	if web, err := os.Stat(webPath); err == nil && !web.ModTime().Before(src.ModTime()) {
		return webPath
	}
	if err := s.Transcoder.ToWebMp4(r.Context(), absPath, webPath); err != nil {
		log.Printf("[MEDIA] transcode %s failed, serving original: %v", absPath, err)
		return absPath
	}
	return webPath
}

func serveVideo(w http.ResponseWriter, r *http.Request, f io.ReadSeeker, size int64) {
	h := w.Header()
	h.Set("Content-Type", "video/mp4")
	h.Set("Accept-Ranges", "bytes")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		copyChunked(w, f, size)
		return
	}

	start, end, ok := parseRange(rangeHeader, size)
	if !ok {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		http.Error(w, "seek failed", http.StatusInternalServerError)
		return
	}
	h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	h.Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	copyChunked(w, io.LimitReader(f, end-start+1), end-start+1)
}

// parseRange handles a single `bytes=A-B` range. A missing A means 0,
// a missing B means size-1; both ends are clamped into the file.
func parseRange(header string, size int64) (start, end int64, ok bool) {
	spec, found := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !found || size == 0 {
		return 0, 0, false
	}
	// Only the first range of a multi-range request is honored.
	spec = strings.TrimSpace(strings.Split(spec, ",")[0])
	startStr, endStr, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, false
	}

	start = 0
	if startStr != "" {
		v, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
		if err != nil || v < 0 {
			return 0, 0, false
		}
		start = v
	}
	if start > size-1 {
		return 0, 0, false
	}

	end = size - 1
	if endStr != "" {
		v, err := strconv.ParseInt(strings.TrimSpace(endStr), 10, 64)
		if err != nil || v < start {
			return 0, 0, false
		}
		if v < end {
			end = v
		}
	}
	return start, end, true
}

func copyChunked(w io.Writer, r io.Reader, n int64) {
	buf := make([]byte, serveChunk)
	if _, err := io.CopyBuffer(w, io.LimitReader(r, n), buf); err != nil {
		// Viewers scrubbing a <video> element abort ranges constantly.
		log.Printf("[MEDIA] stream interrupted: %v", err)
	}
}
