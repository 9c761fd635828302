// Package api exposes one clip over HTTP for inspection and control.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"segclip/internal/audio"
	"segclip/internal/clip"
	"segclip/internal/logger"
)

const sourceTimeout = 30 * time.Second

type API struct {
	clip   *clip.Clip
	clock  audio.Device
	logger logger.Logger
}

// New returns the router. A nil gatherer leaves /metrics unmounted.
func New(c *clip.Clip, dev audio.Device, log logger.Logger, gatherer prometheus.Gatherer) http.Handler {
	api := &API{
		clip:   c,
		clock:  dev,
		logger: log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/clip", func(r chi.Router) {
		r.Get("/", api.handleState)
		r.Put("/source", api.handleSetSource)
		r.Put("/trim", api.handleTrim)
		r.Get("/segments", api.handleSegments)
		r.Get("/items", api.handleItems)
		r.Get("/cues", api.handleCueList)
		r.Get("/cue-points", api.handleCuePoints)
		r.Get("/warp-markers", api.handleWarpMarkers)
		r.Get("/pull", api.handlePull)
		r.Post("/start", api.handleStart)
		r.Post("/stop", api.handleStop)
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// floatParam reads a query parameter, returning def when it is absent.
func floatParam(r *http.Request, name string, def float64) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return v, nil
}

// rangeParams reads offset and duration; a missing duration runs to the end.
func rangeParams(r *http.Request) (offset, duration float64, err error) {
	if offset, err = floatParam(r, "offset", 0); err != nil {
		return 0, 0, err
	}
	if duration, err = floatParam(r, "duration", clip.Remaining); err != nil {
		return 0, 0, err
	}
	return offset, duration, nil
}

func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.clip.Snapshot())
}

type sourceRequest struct {
	Source string `json:"source"`
}

func (a *API) handleSetSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Source == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"source\": \"...\"}")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), sourceTimeout)
	defer cancel()
	if err := a.clip.SetSource(ctx, req.Source); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, clip.ErrDestroyed) {
			status = http.StatusGone
		}
		a.logger.Warnf("Failed to set source %s: %v", req.Source, err)
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.clip.Snapshot())
}

type trimRequest struct {
	StartOffset *float64 `json:"startOffset"`
	Duration    *float64 `json:"duration"`
}

func (a *API) handleTrim(w http.ResponseWriter, r *http.Request) {
	var req trimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid trim body")
		return
	}
	if req.StartOffset != nil {
		a.clip.SetStartOffset(*req.StartOffset)
	}
	if req.Duration != nil {
		a.clip.SetDuration(*req.Duration)
	}
	writeJSON(w, http.StatusOK, a.clip.Duration())
}

func (a *API) handleSegments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.clip.Segments())
}

func (a *API) handleItems(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.clip.Items())
}

func (a *API) handleCueList(w http.ResponseWriter, r *http.Request) {
	offset, duration, err := rangeParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.clip.CueList(offset, duration))
}

func (a *API) handleCuePoints(w http.ResponseWriter, r *http.Request) {
	cues := a.clip.CuePoints()
	if cues == nil {
		writeError(w, http.StatusNotFound, "cue points unresolved")
		return
	}
	writeJSON(w, http.StatusOK, cues)
}

func (a *API) handleWarpMarkers(w http.ResponseWriter, r *http.Request) {
	offset, err := floatParam(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.clip.WarpMarkers(offset))
}

// handlePull streams the packed float32 samples of every resolved range back
// to back. Headers describe the first chunk.
func (a *API) handlePull(w http.ResponseWriter, r *http.Request) {
	offset, duration, err := rangeParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p := a.clip.Pull(offset, duration)
	first, err := p.Next(r.Context())
	switch {
	case errors.Is(err, io.EOF):
		w.WriteHeader(http.StatusNoContent)
		return
	case errors.Is(err, clip.ErrDestroyed):
		writeError(w, http.StatusGone, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Sample-Rate", strconv.FormatFloat(first.SampleRate, 'f', -1, 64))
	w.Header().Set("X-Channels", strconv.Itoa(first.Channels))
	w.Header().Set("X-Segments", strconv.Itoa(p.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(first.Data); err != nil {
		return
	}
	for {
		chunk, err := p.Next(r.Context())
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			a.logger.Errorf("Pull aborted after a partial response: %v", err)
			return
		}
		if _, err := w.Write(chunk.Data); err != nil {
			return
		}
	}
}

type startRequest struct {
	At       *float64 `json:"at"`
	Offset   float64  `json:"offset"`
	Duration *float64 `json:"duration"`
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid start body")
		return
	}
	at := a.clock.CurrentTime()
	if req.At != nil {
		at = *req.At
	}
	duration := clip.Remaining
	if req.Duration != nil {
		duration = *req.Duration
	}
	n := a.clip.Start(at, req.Offset, duration)
	writeJSON(w, http.StatusOK, map[string]any{"queued": n, "at": at})
}

type stopRequest struct {
	At *float64 `json:"at"`
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid stop body")
		return
	}
	at := a.clock.CurrentTime()
	if req.At != nil {
		at = *req.At
	}
	a.clip.Stop(at)
	writeJSON(w, http.StatusOK, map[string]any{"at": at, "queued": len(a.clip.Items())})
}
