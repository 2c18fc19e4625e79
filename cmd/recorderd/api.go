package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maka00/recorder"
)

// api exposes a CaptureController over HTTP.
type api struct {
	controller *recorder.CaptureController
	device     string // used when a request names no device
	now        func() time.Time
}

func newAPI(controller *recorder.CaptureController, device string) *api {
	return &api{controller: controller, device: device, now: time.Now}
}

func (a *api) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID, chiMiddleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, "recorder")
	})
	r.Get("/devices", a.devices)
	r.Get("/status", a.status)
	r.Post("/start", a.start)
	r.Post("/stop", a.stop)
	r.Post("/still", a.still)
	r.Route("/recording", func(r chi.Router) {
		r.Post("/start", a.startRecording)
		r.Post("/stop", a.stopRecording)
	})
	r.Route("/preview", func(r chi.Router) {
		r.Post("/start", a.startPreview)
		r.Post("/stop", a.stopPreview)
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// deviceOf returns the ?device= query parameter or the configured device.
func (a *api) deviceOf(r *http.Request) string {
	if d := r.URL.Query().Get("device"); d != "" {
		return d
	}
	return a.device
}

func (a *api) devices(w http.ResponseWriter, r *http.Request) {
	list, err := a.controller.Scan()
	if err != nil {
		writeError(w, r, "scan", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.controller.Status())
}

func (a *api) start(w http.ResponseWriter, r *http.Request) {
	info, err := a.controller.Start(r.Context(), a.deviceOf(r))
	if err != nil {
		writeError(w, r, "start", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *api) stop(w http.ResponseWriter, r *http.Request) {
	if err := a.controller.Stop(r.Context(), a.deviceOf(r)); err != nil {
		writeError(w, r, "stop", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *api) still(w http.ResponseWriter, r *http.Request) {
	name := a.now().Format(recorder.TimestampFormat)
	info, err := a.controller.TakeStill(r.Context(), a.deviceOf(r), name)
	if err != nil {
		writeError(w, r, "still", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *api) startRecording(w http.ResponseWriter, r *http.Request) {
	info, err := a.controller.StartRecording(r.Context())
	if err != nil {
		writeError(w, r, "recording start", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *api) stopRecording(w http.ResponseWriter, r *http.Request) {
	if err := a.controller.StopRecording(r.Context()); err != nil {
		writeError(w, r, "recording stop", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *api) startPreview(w http.ResponseWriter, r *http.Request) {
	if err := a.controller.StartPreview(r.Context()); err != nil {
		writeError(w, r, "preview start", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *api) stopPreview(w http.ResponseWriter, r *http.Request) {
	if err := a.controller.StopPreview(r.Context()); err != nil {
		writeError(w, r, "preview stop", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// statusOf maps recorder errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, recorder.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, recorder.ErrAlreadyStarted),
		errors.Is(err, recorder.ErrRecordingActive),
		errors.Is(err, recorder.ErrNotRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := statusOf(err)
	slog.Error("api: request failed",
		"op", op,
		"status", code,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"error", err,
	)
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: failed to write response", "error", err)
	}
}
