package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type signalMessage struct {
	Type      string          `json:"type"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// GET /ws/webrtc/{camera_id}
//
// Signaling loop for one viewer. The peer id is the client's remote
// address, stable for the lifetime of the socket.
func (s *Server) handleSignaling(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "camera_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid camera id")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	if _, err := s.Capture.Camera(id); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, fmt.Sprintf("Camera %d not found", id))
		return
	}

	// Viewers expect live annotated video; make sure the pipeline for
	// this camera is running.
	if err := s.Capture.Start(id); err != nil {
		log.Printf("[WS] camera %d: start stream failed: %v", id, err)
	}
	s.Inference.StartProcessing(id)

	peerID := conn.RemoteAddr().String()
	defer s.Signaler.ClosePeer(id, peerID)

	log.Printf("[WS] camera %d: viewer %s connected", id, peerID)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg signalMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			closeWith(conn, websocket.CloseProtocolError, "invalid signaling message")
			return
		}

		switch msg.Type {
		case "offer":
			answer, err := s.Signaler.Connect(r.Context(), id, peerID, msg.SDP)
			if err != nil {
				conn.WriteJSON(map[string]string{"error": err.Error()})
				continue
			}
			conn.WriteJSON(signalMessage{Type: "answer", SDP: answer})

		case "ice-candidate":
			var cand webrtc.ICECandidateInit
			if err := json.Unmarshal(msg.Candidate, &cand); err != nil {
				log.Printf("[WS] camera %d: bad ice candidate: %v", id, err)
				continue
			}
			if err := s.Signaler.AddICECandidate(id, peerID, cand); err != nil {
				log.Printf("[WS] camera %d: add ice candidate: %v", id, err)
			}

		case "disconnect":
			return

		default:
			log.Printf("[WS] camera %d: unknown message type %q", id, msg.Type)
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
}
