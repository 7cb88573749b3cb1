package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nexguard/nexguard/internal/capture"
	"github.com/nexguard/nexguard/internal/data"
)

func cameraID(r *http.Request, param string) (int, error) {
	return strconv.Atoi(chi.URLParam(r, param))
}

func captureConfig(c *data.Camera) capture.Config {
	return capture.Config{
		ID:     c.ID,
		Name:   c.Name,
		URL:    c.URL,
		FPS:    c.FPS,
		Width:  c.Width,
		Height: c.Height,
	}
}

// GET /cameras
func (s *Server) handleListCameras(w http.ResponseWriter, r *http.Request) {
	cams, err := s.Cameras.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list cameras failed")
		return
	}
	respondJSON(w, http.StatusOK, cams)
}

// POST /cameras
func (s *Server) handleCreateCamera(w http.ResponseWriter, r *http.Request) {
	var req data.Camera
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" || req.URL == "" {
		respondError(w, http.StatusBadRequest, "name and url are required")
		return
	}

	if err := s.Cameras.Create(r.Context(), &req); err != nil {
		respondError(w, http.StatusInternalServerError, "create camera failed")
		return
	}
	if err := s.Capture.Add(captureConfig(&req)); err != nil && !errors.Is(err, capture.ErrCameraExists) {
		respondError(w, http.StatusInternalServerError, "register camera failed")
		return
	}
	respondJSON(w, http.StatusCreated, req)
}

// PUT /cameras/{id}
func (s *Server) handleUpdateCamera(w http.ResponseWriter, r *http.Request) {
	id, err := cameraID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid camera id")
		return
	}

	var req data.Camera
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.ID = id

	if err := s.Cameras.Update(r.Context(), &req); err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "camera not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "update camera failed")
		return
	}
	if err := s.Capture.Update(captureConfig(&req)); err != nil && !errors.Is(err, capture.ErrCameraNotFound) {
		respondError(w, http.StatusInternalServerError, "apply camera update failed")
		return
	}
	respondJSON(w, http.StatusOK, req)
}

// DELETE /cameras/{id}
func (s *Server) handleDeleteCamera(w http.ResponseWriter, r *http.Request) {
	id, err := cameraID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid camera id")
		return
	}

	s.Inference.StopProcessing(id)
	if err := s.Capture.Remove(id); err != nil && !errors.Is(err, capture.ErrCameraNotFound) {
		respondError(w, http.StatusInternalServerError, "deregister camera failed")
		return
	}
	if err := s.Cameras.Delete(r.Context(), id); err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "camera not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "delete camera failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /cameras/{id}/stream/start
func (s *Server) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	id, err := cameraID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid camera id")
		return
	}
	if err := s.Capture.Start(id); err != nil {
		if errors.Is(err, capture.ErrCameraNotFound) {
			respondError(w, http.StatusNotFound, "camera not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "start stream failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"camera_id": id, "active": true})
}

// POST /cameras/{id}/stream/stop
func (s *Server) handleStreamStop(w http.ResponseWriter, r *http.Request) {
	id, err := cameraID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid camera id")
		return
	}
	s.Inference.StopProcessing(id)
	if err := s.Capture.Stop(id); err != nil {
		if errors.Is(err, capture.ErrCameraNotFound) {
			respondError(w, http.StatusNotFound, "camera not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "stop stream failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"camera_id": id, "active": false})
}

// GET /cameras/{id}/stream/status
func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	id, err := cameraID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid camera id")
		return
	}
	st, err := s.Capture.Status(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "camera not found")
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// GET /cameras/status
func (s *Server) handleStatusAll(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.Capture.StatusAll())
}
