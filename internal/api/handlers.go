package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/applybot/jobtracker/internal/config"
	"github.com/applybot/jobtracker/internal/job"
	"github.com/applybot/jobtracker/internal/worker"
)

var startTime = time.Now()

// Queue is the part of the worker the handlers need.
type Queue interface {
	Enqueue(id string)
	Stats() worker.Stats
}

type Handlers struct {
	cfg   *config.Config
	store job.Store
	queue Queue
	log   logrus.FieldLogger
}

func NewHandlers(cfg *config.Config, store job.Store, queue Queue, logger logrus.FieldLogger) *Handlers {
	return &Handlers{cfg: cfg, store: store, queue: queue, log: logger}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"instance":       h.cfg.InstanceName,
		"version":        config.Version,
		"job_store":      h.cfg.JobStore,
		"uptime_seconds": int(time.Since(startTime).Seconds()),
	})
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.store.List(r.Context())
	if err != nil {
		h.internalError(w, "list jobs", err)
		return
	}

	counts := map[job.Status]int{
		job.StatusQueued:    0,
		job.StatusRunning:   0,
		job.StatusCompleted: 0,
		job.StatusFailed:    0,
	}
	for _, j := range jobs {
		counts[j.Status]++
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"instance":       h.cfg.InstanceName,
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"jobs":           counts,
		"worker":         h.queue.Stats(),
	})
}

func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeDocument(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validatePayload(payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.store.Create(r.Context(), payload)
	if err != nil {
		h.internalError(w, "create job", err)
		return
	}
	h.queue.Enqueue(id)
	h.log.WithField("job_id", id).Info("job queued")

	j, ok, err := h.store.Get(r.Context(), id)
	if err != nil || !ok {
		h.internalError(w, "load created job", err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := job.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status: "+string(status))
		return
	}

	jobs, err := h.store.List(r.Context())
	if err != nil {
		h.internalError(w, "list jobs", err)
		return
	}

	filtered := make([]*job.Job, 0, len(jobs))
	for _, j := range jobs {
		if status == "" || j.Status == status {
			filtered = append(filtered, j)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  filtered,
		"total": len(filtered),
	})
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, ok, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.internalError(w, "get job", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// UpdateJob merges a partial payload into the job. With "restart": true the
// job goes back to queued with progress 0 and is enqueued again.
func (h *Handlers) UpdateJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	updates, err := decodeDocument(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	restart, err := takeRestart(updates)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validatePayload(updates); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var j *job.Job
	var ok bool
	switch {
	case restart:
		j, ok, err = h.store.Restart(ctx, id, updates)
		if errors.Is(err, job.ErrRunning) {
			writeError(w, http.StatusConflict, "job is running")
			return
		}
	case len(updates) > 0:
		j, ok, err = h.store.UpdatePayload(ctx, id, updates)
	default:
		j, ok, err = h.store.Get(ctx, id)
	}
	if err != nil {
		h.internalError(w, "update job", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	if restart {
		h.queue.Enqueue(id)
		h.log.WithField("job_id", id).Info("job restarted")
	}

	writeJSON(w, http.StatusOK, j)
}

func (h *Handlers) internalError(w http.ResponseWriter, op string, err error) {
	if err == nil {
		err = errors.New("job disappeared")
	}
	h.log.WithError(err).Error(op)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// decodeDocument reads a JSON object from body. An empty body is an empty document.
func decodeDocument(body io.Reader) (job.Document, error) {
	var doc job.Document
	dec := json.NewDecoder(body)
	err := dec.Decode(&doc)
	if errors.Is(err, io.EOF) {
		return job.Document{}, nil
	}
	if err != nil {
		return nil, errors.New("invalid request body: expected a JSON object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid request body: unexpected data after JSON object")
	}
	if doc == nil {
		doc = job.Document{}
	}
	return doc, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
