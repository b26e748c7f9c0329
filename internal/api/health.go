package api

import (
	"context"
	"net/http"
	"time"
)

// HandleHealth handles GET /api/health: a readiness probe that checks the
// database and reports the number of live sessions.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	db := "ok"
	if err := h.repo.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		db = err.Error()
	}
	JSON(w, status, map[string]interface{}{
		"status":        http.StatusText(status),
		"database":      db,
		"live_sessions": h.registry.Len(),
		"time":          h.opts.Clock().UTC(),
	})
}
