package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/nexguard/nexguard/internal/capture"
)

// POST /inference/start/{camera_id}
func (s *Server) handleInferenceStart(w http.ResponseWriter, r *http.Request) {
	id, err := cameraID(r, "camera_id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid camera id")
		return
	}
	if _, err := s.Capture.Camera(id); err != nil {
		respondError(w, http.StatusNotFound, "camera not found")
		return
	}
	// Inference is useless without frames flowing.
	if err := s.Capture.Start(id); err != nil && !errors.Is(err, capture.ErrCameraNotFound) {
		respondError(w, http.StatusInternalServerError, "start stream failed")
		return
	}
	s.Inference.StartProcessing(id)
	respondJSON(w, http.StatusOK, map[string]any{"camera_id": id, "processing": true})
}

// POST /inference/stop/{camera_id}
func (s *Server) handleInferenceStop(w http.ResponseWriter, r *http.Request) {
	id, err := cameraID(r, "camera_id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid camera id")
		return
	}
	s.Inference.StopProcessing(id)
	respondJSON(w, http.StatusOK, map[string]any{"camera_id": id, "processing": false})
}

// GET /inference/results/{camera_id}
func (s *Server) handleInferenceResults(w http.ResponseWriter, r *http.Request) {
	id, err := cameraID(r, "camera_id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid camera id")
		return
	}
	res, ok := s.Inference.LatestResults(id)
	if !ok {
		respondError(w, http.StatusNotFound, "no results")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"camera_id":    res.CameraID,
		"frame_number": res.Number,
		"detections":   res.Detections,
		"timestamp":    res.Timestamp,
	})
}

// GET /inference/model
func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"model":          s.Inference.Model(),
		"conf_threshold": s.Inference.ConfThreshold(),
	})
}

// POST /inference/model
func (s *Server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := s.Inference.LoadModel(req.Path); err != nil {
		respondError(w, http.StatusInternalServerError, "load model failed: "+err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"model": s.Inference.Model()})
}

// POST /inference/threshold
func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Threshold *float64 `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Threshold == nil {
		respondError(w, http.StatusBadRequest, "threshold is required")
		return
	}
	s.Inference.SetConfThreshold(*req.Threshold)
	respondJSON(w, http.StatusOK, map[string]float64{"conf_threshold": s.Inference.ConfThreshold()})
}

// GET /detections?camera_id=&limit=
func (s *Server) handleListDetections(w http.ResponseWriter, r *http.Request) {
	camID := -1
	if v := r.URL.Query().Get("camera_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid camera id")
			return
		}
		camID = id
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	rows, err := s.Detections.ListRecent(r.Context(), camID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list detections failed")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}
