package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lockcoord/lockd/internal/metrics"
)

// lockRequest is the body shared by /lock, /unlock, and /unlock-all. File
// is ignored by /unlock-all.
type lockRequest struct {
	Session string `json:"session"`
	File    string `json:"file"`
}

func decodeLockRequest(r *http.Request, requireFile bool) (lockRequest, *apiError) {
	var req lockRequest
	if r.Body == nil {
		return req, errBadBody
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, errBadBody
	}
	if req.Session == "" || (requireFile && req.File == "") {
		return req, missingFieldError(requireFile)
	}
	return req, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type lockResponse struct {
	Granted     bool     `json:"granted"`
	Holder      string   `json:"holder,omitempty"`
	Error       string   `json:"error,omitempty"`
	Waited      *float64 `json:"waited,omitempty"`
	Position    int      `json:"position,omitempty"`
	QueueLength int      `json:"queueLength,omitempty"`
}

// handleLock implements the blocking acquisition algorithm: try
// immediately, then either report contention or block until promotion,
// cancellation, or timeout.
func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	req, apiErr := decodeLockRequest(r, true)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}

	q := r.URL.Query()
	_, waitPresent := q["wait"]
	_, timeoutPresent := q["timeout"]
	wait := parseWait(q.Get("wait"), waitPresent)
	timeout := parseTimeout(q.Get("timeout"), timeoutPresent)

	position, queueLength, acquired := s.store.EnqueueOrAcquire(req.File, req.Session)
	if acquired {
		zero := 0.0
		writeJSON(w, http.StatusOK, lockResponse{
			Granted:     true,
			Position:    1,
			QueueLength: queueLength,
			Waited:      &zero,
		})
		return
	}

	if !wait {
		holder, _ := s.store.GetHolder(req.File)
		writeJSON(w, http.StatusOK, lockResponse{
			Granted:     false,
			Holder:      holder,
			Error:       fmt.Sprintf("Queued at position %d", position),
			Position:    position,
			QueueLength: queueLength,
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	metrics.AcquireBlockedTotal.Inc()
	start := time.Now()
	ok := s.store.WaitForTurn(ctx, req.File, req.Session)
	waited := time.Since(start).Seconds()

	if ok {
		info := s.store.GetQueueInfo(req.File)
		writeJSON(w, http.StatusOK, lockResponse{
			Granted:     true,
			Position:    1,
			QueueLength: info.QueueLength,
			Waited:      &waited,
		})
		return
	}

	pos := s.store.Position(req.File, req.Session)
	info := s.store.GetQueueInfo(req.File)
	holder, _ := s.store.GetHolder(req.File)
	writeJSON(w, http.StatusOK, lockResponse{
		Granted:     false,
		Holder:      holder,
		Error:       fmt.Sprintf("Timeout waiting in queue at position %d", pos),
		Position:    pos,
		QueueLength: info.QueueLength,
		Waited:      &waited,
	})
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	req, apiErr := decodeLockRequest(r, true)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	released := s.store.TryRelease(req.File, req.Session)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": released})
}

func (s *Server) handleUnlockAll(w http.ResponseWriter, r *http.Request) {
	req, apiErr := decodeLockRequest(r, false)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	count := s.store.ReleaseAll(req.Session)
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"locks": s.store.GetAllLocks(),
	})
}

func (s *Server) handleLocks(w http.ResponseWriter, r *http.Request) {
	locks := s.store.GetAllLocks()
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(locks),
		"locks": locks,
	})
}

func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	queues := s.store.GetAllQueues()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(queues),
		"queues": queues,
	})
}

type queueDetail struct {
	File        string   `json:"file"`
	Holder      string   `json:"holder,omitempty"`
	QueueLength int      `json:"queueLength"`
	Waiters     []string `json:"waiters,omitempty"`
}

type queueAbsent struct {
	Exists bool   `json:"exists"`
	File   string `json:"file"`
}

// handleQueueByPath looks up a queue by its captured wildcard path
// segment, re-prefixed with "/" before lookup.
func (s *Server) handleQueueByPath(w http.ResponseWriter, r *http.Request) {
	captured := chi.URLParam(r, "*")
	file := "/" + captured

	info := s.store.GetQueueInfo(file)
	if !info.Exists {
		writeJSON(w, http.StatusOK, queueAbsent{Exists: false, File: file})
		return
	}

	writeJSON(w, http.StatusOK, queueDetail{
		File:        info.File,
		Holder:      info.Holder,
		QueueLength: info.QueueLength,
		Waiters:     info.Waiters,
	})
}
