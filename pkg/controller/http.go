package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

// HTTP paths.
const (
	PathOpenDoor = "/open_door"
	PathHealth   = "/healthz"
	PathStatus   = "/status"

	// FormBadge is the form field carrying the badge number.
	FormBadge = "badge"
)

// Handler returns the HTTP interface of c.
func (c *Controller) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post(PathOpenDoor, c.handleOpenDoor)
	r.Get(PathHealth, c.handleHealth)
	r.Get(PathStatus, c.handleStatus)
	return r
}

func (c *Controller) handleOpenDoor(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	raw := strings.TrimSpace(r.PostForm.Get(FormBadge))
	if raw == "" {
		http.Error(w, "missing badge", http.StatusBadRequest)
		return
	}
	badge, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		http.Error(w, "invalid badge", http.StatusBadRequest)
		return
	}

	c.logger.Info("open door request", "badge", badge, "remote", r.RemoteAddr)
	out, err := c.Request(r.Context(), badge, SourceHTTP)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		c.logger.Info("open door request timed out", "badge", badge)
		http.Error(w, "timed out", http.StatusGatewayTimeout)
		return
	default:
		if !errors.Is(err, ErrQueueFull) && !errors.Is(err, ErrNotRunning) {
			c.logger.Info("open door request abandoned", "badge", badge, "error", err)
		}
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	if !out.Opened {
		http.Error(w, out.Reason(), http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		c.logger.Debug("write error", "error", err)
	}
}

func (c *Controller) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !c.Running() {
		http.Error(w, "not running", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		c.logger.Debug("write error", "error", err)
	}
}

func (c *Controller) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(c.Stats()); err != nil {
		c.logger.Debug("write error", "error", err)
	}
}
