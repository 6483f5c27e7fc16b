package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/harborhq/contextd/config"
	coorderr "github.com/harborhq/contextd/errors"
	"github.com/harborhq/contextd/internal/daemon/metrics"
	"github.com/harborhq/contextd/pkg/models"
	"github.com/harborhq/contextd/pkg/paths"
)

// RunningConfig is the /api/config response: the active configuration
// plus provenance, so clients can verify which policy is in effect.
type RunningConfig struct {
	Config     *config.Config `json:"config"`
	ConfigFile string         `json:"config_file,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, coorderr.New(coorderr.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	rec, err := s.registry.Register(req, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.WithField("session", rec.SessionID).Info("Session registered")
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.SessionFilter{
		Status:          models.SessionStatus(q.Get("status")),
		Role:            models.Role(q.Get("role")),
		ParentSessionID: q.Get("parent"),
		LiveOnly:        q.Get("live") == "true",
	}
	writeJSON(w, http.StatusOK, s.registry.List(filter))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	rec, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePatchSession(w http.ResponseWriter, r *http.Request) {
	var patch models.SessionPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, coorderr.New(coorderr.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	rec, err := s.registry.ApplyPatch(r.PathValue("id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.Deregister(id); err != nil {
		writeError(w, err)
		return
	}
	s.logger.WithField("session", id).Info("Session deregistered")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req models.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, coorderr.New(coorderr.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	metrics.HeartbeatsTotal.Inc()
	rec, err := s.monitor.HandleHeartbeat(r.PathValue("id"), req.UsageFraction, req.Timestamp)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRequestCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req models.CheckpointRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, coorderr.New(coorderr.ErrCodeInvalidInput, "invalid request body"))
			return
		}
	}
	id, err := s.coordinator.RequestCheckpoint(r.PathValue("id"), req.Trigger)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"checkpoint_id": id})
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.registry.Get(id); err != nil {
		writeError(w, err)
		return
	}
	cps := s.registry.ListCheckpoints(id)
	if cps == nil {
		cps = []*models.CheckpointRecord{}
	}
	writeJSON(w, http.StatusOK, cps)
}

func (s *Server) handleGetCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, ok := s.registry.GetCheckpoint(r.PathValue("id"))
	if !ok {
		writeError(w, coorderr.New(coorderr.ErrCodeNotFound,
			fmt.Sprintf("checkpoint '%s' not found", r.PathValue("id"))))
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &RunningConfig{
		Config:     s.provider.Get(),
		ConfigFile: paths.ConfigFilePath(),
		StartedAt:  s.startedAt,
	})
}

// handleReloadConfig re-reads the config file and swaps the active set
// atomically. An invalid file leaves the previous set in effect and
// returns the validation error.
func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := config.LoadDefault()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.provider.Reload(cfg); err != nil {
		writeError(w, err)
		return
	}
	s.registry.BroadcastConfigReload(paths.ConfigFilePath())
	s.logger.Info("Configuration reloaded")
	writeJSON(w, http.StatusOK, &RunningConfig{
		Config:     cfg,
		ConfigFile: paths.ConfigFilePath(),
		StartedAt:  s.startedAt,
	})
}

// handleStreamState provides Server-Sent Events (SSE) for real-time
// state updates. The first frame is always a full snapshot; every later
// frame is a delta. Heartbeat frames are interleaved so observers can
// distinguish a quiet daemon from a dead connection.
func (s *Server) handleStreamState(w http.ResponseWriter, r *http.Request) {
	// Ensure the connection supports flushing
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Subscribe before taking the snapshot so no delta between the two
	// is lost; a delta older than the snapshot is harmless to replay.
	ch := s.registry.Subscribe()
	defer s.registry.Unsubscribe(ch)

	metrics.ObserversConnected.Inc()
	defer metrics.ObserversConnected.Dec()

	// Send initial ping to confirm connection
	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	s.logger.Debug("SSE client connected")

	if !s.writeFrame(w, flusher, s.registry.Snapshot()) {
		return
	}

	heartbeat := time.NewTicker(s.provider.Get().Intervals.PublishHeartbeat.Std())
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected")
			return
		case <-heartbeat.C:
			frame := models.StateUpdate{
				UpdateType: "heartbeat",
				Source:     "server",
				SentAt:     time.Now(),
			}
			if !s.writeFrame(w, flusher, frame) {
				return
			}
		case update, ok := <-ch:
			if !ok {
				return
			}
			if !s.writeFrame(w, flusher, update) {
				return
			}
		}
	}
}

func (s *Server) writeFrame(w http.ResponseWriter, flusher http.Flusher, update models.StateUpdate) bool {
	data, err := json.Marshal(update)
	if err != nil {
		s.logger.WithError(err).Error("Failed to marshal update")
		return true
	}
	// SSE format: "data: {json}\n\n"
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a CoordError code onto an HTTP status and returns the
// structured error body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch coorderr.GetCode(err) {
	case coorderr.ErrCodeNotFound, coorderr.ErrCodeConfigNotFound:
		status = http.StatusNotFound
	case coorderr.ErrCodeDuplicateSession, coorderr.ErrCodeCheckpointRejected:
		status = http.StatusConflict
	case coorderr.ErrCodeInvalidInput, coorderr.ErrCodeConfigInvalid:
		status = http.StatusBadRequest
	}

	coordErr, ok := err.(*coorderr.CoordError)
	if !ok {
		coordErr = coorderr.Wrap(err, coorderr.ErrCodeInternal, err.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(coordErr)
}
