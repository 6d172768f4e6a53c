// Package httpapi exposes the event intake over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"school_mailman/internal/app"
	"school_mailman/internal/domain/event"
)

const maxBodyBytes = 1 << 20

// Handler serves POST /events, GET /jobs and GET /healthz.
type Handler struct {
	events   app.EventHandler
	registry app.Registry
	log      *logrus.Entry
}

func NewHandler(events app.EventHandler, registry app.Registry, log *logrus.Entry) *Handler {
	return &Handler{events: events, registry: registry, log: log}
}

// Routes builds the chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.healthz)
	r.Get("/jobs", h.listJobs)
	r.Post("/events", h.postEvent)
	return r
}

type errorResponse struct {
	Error   string       `json:"error"`
	Outcome *app.Outcome `json:"outcome,omitempty"`
}

type jobsResponse struct {
	Jobs      []string `json:"jobs"`
	Campaigns []string `json:"campaigns"`
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, jobsResponse{Jobs: h.registry.Jobs(), Campaigns: h.registry.Campaigns()})
}

// postEvent answers 202 with the outcome, 400 for events that can never
// succeed and 500 for failures worth retrying.
func (h *Handler) postEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	e, err := event.Parse(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	out, err := h.events.Handle(r.Context(), e)
	if err != nil {
		status := http.StatusInternalServerError
		if event.Permanent(err) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, errorResponse{Error: err.Error(), Outcome: &out})
		return
	}
	writeJSON(w, http.StatusAccepted, out)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		h.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(started).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Info("HTTP request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve runs the server until ctx is cancelled, then shuts it down.
func Serve(ctx context.Context, addr string, handler http.Handler, log *logrus.Entry) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	log.Info("HTTP server stopped")
	return nil
}
