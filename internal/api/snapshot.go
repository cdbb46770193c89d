package api

import (
	"math"
	"net/http"
	"strconv"
)

// SnapshotResponse is the body of a successful snapshot request.
type SnapshotResponse struct {
	Path string `json:"path"`
}

// handleSnapshot captures a full-resolution still to the snapshot
// directory. Requests beyond snapshot_rate_per_minute get 429.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.camera == nil {
		writeUnavailable(w, "camera is disabled")
		return
	}

	res := s.limiter.Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "snapshot rate limit exceeded")
		return
	}

	path, err := s.camera.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("snapshot failed", "error", err)
		writeInternalError(w, "snapshot failed")
		return
	}

	s.logger.Info("snapshot saved", "path", path)
	writeJSON(w, http.StatusCreated, SnapshotResponse{Path: path})
}
