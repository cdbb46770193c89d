package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/greenscale/greenscale-edge/internal/journal"
)

// handleLatestTelemetry returns the last assembled payload in the same
// encoding that is published to the broker.
func (s *Server) handleLatestTelemetry(w http.ResponseWriter, _ *http.Request) {
	p := s.runner.LatestPayload()
	if p == nil {
		writeNotFound(w, "no telemetry assembled yet")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleListJournal lists publish outcomes.
//
// Query parameters: outcome (published|failed), since (RFC3339), limit, offset.
func (s *Server) handleListJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "publish journal is disabled")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{Outcome: q.Get("outcome")}

	if filter.Outcome != "" && filter.Outcome != journal.OutcomePublished && filter.Outcome != journal.OutcomeFailed {
		writeBadRequest(w, "outcome must be published or failed")
		return
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = t
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &filter.Limit}, {"offset", &filter.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, p.name+" must be a non-negative integer")
			return
		}
		*p.dst = n
	}

	res, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing journal failed", "error", err)
		writeInternalError(w, "failed to list journal")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
