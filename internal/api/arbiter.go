package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-arbiter/internal/engine"
)

// Limits for GET /history.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// quarantineView is a quarantine record with its reminder count and the
// device's recent failure ratio.
type quarantineView struct {
	engine.QuarantineRecord
	Name         string  `json:"name"`
	Notices      int     `json:"notices"`
	FailureRatio float64 `json:"failure_ratio"`
}

// handleListQuarantine returns every quarantined device.
func (s *Server) handleListQuarantine(w http.ResponseWriter, _ *http.Request) {
	records := s.engine.Quarantined()
	ratios := s.engine.FailureRatios()
	views := make([]quarantineView, 0, len(records))
	for _, rec := range records {
		views = append(views, quarantineView{
			QuarantineRecord: rec,
			Name:             s.engine.Registry().Name(rec.DeviceID),
			Notices:          s.engine.NoticeCount(rec.DeviceID),
			FailureRatio:     ratios[rec.DeviceID],
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"quarantined": views, "count": len(views)})
}

// handleListLocks returns the unexpired lock table entries.
func (s *Server) handleListLocks(w http.ResponseWriter, _ *http.Request) {
	locks := s.engine.Locks()
	writeJSON(w, http.StatusOK, map[string]any{"locks": locks, "count": len(locks)})
}

// handleResetLocks clears the lock table.
func (s *Server) handleResetLocks(w http.ResponseWriter, r *http.Request) {
	n := s.engine.ResetLocks()
	subject := "anonymous"
	if claims := claimsFromContext(r.Context()); claims != nil {
		subject = claims.Subject
	}
	s.logger.Info("lock table reset", "cleared", n, "by", subject)
	writeJSON(w, http.StatusOK, map[string]any{"cleared": n})
}

// handleListExpected returns the expected-state records.
func (s *Server) handleListExpected(w http.ResponseWriter, _ *http.Request) {
	states := s.engine.ExpectedStates()
	writeJSON(w, http.StatusOK, map[string]any{"expected": states, "count": len(states)})
}

// handleQueues returns depth and high-water marks of the work queues.
func (s *Server) handleQueues(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"queues": s.engine.QueueStats()})
}

// handleHistory returns recent journal events, newest first.
//
// Query parameters:
//   - device_id: restrict to one device
//   - limit: maximum events (default 50, max 200)
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "event journal not configured")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	events, err := s.journal.History(r.Context(), r.URL.Query().Get("device_id"), limit)
	if err != nil {
		s.logger.Error("reading history failed", "error", err)
		writeInternalError(w, "failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}
