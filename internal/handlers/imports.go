package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/florin-systems/finflow/internal/importer"
	"github.com/florin-systems/finflow/internal/jobs"
	"github.com/florin-systems/finflow/internal/middleware"
	"github.com/florin-systems/finflow/internal/streaming"
)

// maxUploadBytes caps one uploaded statement file.
const maxUploadBytes = 100 << 20

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 30 * time.Second

// ImportHandlers serves the upload and progress side of the import pipeline.
type ImportHandlers struct {
	importer *importer.Importer
	jobs     *jobs.Registry
	hub      *streaming.StreamHub
	opts     importer.Options
}

// NewImportHandlers creates a new import handlers instance. opts are the
// server-wide defaults for every run; per-request flags layer on top.
func NewImportHandlers(imp *importer.Importer, jobReg *jobs.Registry, hub *streaming.StreamHub, opts importer.Options) *ImportHandlers {
	return &ImportHandlers{
		importer: imp,
		jobs:     jobReg,
		hub:      hub,
		opts:     opts,
	}
}

// StartImport handles POST /api/imports.
//
// The statement file arrives as the multipart field "file". By default the
// run happens in the background and the response carries the job ID; with
// wait=true the response is the full run summary instead.
func (h *ImportHandlers) StartImport(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		http.Error(w, "Failed to read upload", http.StatusBadRequest)
		return
	}
	if len(content) > maxUploadBytes {
		http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
		return
	}

	opts, err := h.runOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if r.FormValue("wait") == "true" {
		summary := h.importer.Run(r.Context(), userID, header.Filename, content, opts)
		writeJSON(w, http.StatusOK, summary)
		return
	}

	// The run outlives this request; detach it from the request's cancel.
	jobID := h.importer.Start(context.WithoutCancel(r.Context()), userID, header.Filename, content, opts)
	writeJSON(w, http.StatusCreated, map[string]string{"jobId": jobID})
}

// runOptions layers per-request form fields over the server-wide defaults.
func (h *ImportHandlers) runOptions(r *http.Request) (importer.Options, error) {
	opts := h.opts
	opts.DryRun = r.FormValue("dryRun") == "true"
	opts.AccountName = r.FormValue("accountName")

	// Threshold and retries keep zero as a real value, so an absent field
	// must stay nil rather than collapse onto zero.
	threshold, err := formIntOpt(r, "deduplicateThreshold")
	if err != nil {
		return opts, err
	}
	if threshold != nil {
		opts.DeduplicateThreshold = threshold
	}
	maxRetries, err := formIntOpt(r, "maxRetries")
	if err != nil {
		return opts, err
	}
	if maxRetries != nil {
		opts.MaxRetries = maxRetries
	}

	if opts.BatchSize, err = formInt(r, "batchSize", opts.BatchSize); err != nil {
		return opts, err
	}

	batchDelay, err := formInt(r, "batchDelayMs", int(opts.BatchDelay/time.Millisecond))
	if err != nil {
		return opts, err
	}
	opts.BatchDelay = time.Duration(batchDelay) * time.Millisecond

	retryDelay, err := formInt(r, "retryDelayMs", int(opts.RetryDelay/time.Millisecond))
	if err != nil {
		return opts, err
	}
	opts.RetryDelay = time.Duration(retryDelay) * time.Millisecond
	return opts, nil
}

func formInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.FormValue(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return v, nil
}

// formIntOpt is formInt for options where absence and zero mean different
// things; it returns nil when the field was not sent.
func formIntOpt(r *http.Request, name string) (*int, error) {
	raw := r.FormValue(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return nil, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return &v, nil
}

// ListImports handles GET /api/imports
func (h *ImportHandlers) ListImports(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	list := h.jobs.List(userID)
	if list == nil {
		list = []jobs.Job{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetImport handles GET /api/imports/{jobId}
func (h *ImportHandlers) GetImport(w http.ResponseWriter, r *http.Request) {
	job, ok := h.authorizedJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// StreamImportEvents handles GET /api/imports/{jobId}/events (SSE endpoint)
func (h *ImportHandlers) StreamImportEvents(w http.ResponseWriter, r *http.Request) {
	job, ok := h.authorizedJob(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// A finished job has nothing left to stream; replay its outcome and close.
	if job.Status != jobs.StatusRunning {
		writeSSEEvent(w, finishedJobEvent(job))
		flusher.Flush()
		return
	}

	client := h.hub.Register(r.Context(), job.ID)
	if client == nil {
		http.Error(w, "Failed to register SSE client", http.StatusInternalServerError)
		return
	}
	defer h.hub.Unregister(job.ID, client)

	// Initial state so late subscribers see current progress immediately.
	writeSSEEvent(w, streaming.NewEvent(streaming.EventTypeProgress, job))
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case event, chOpen := <-client.Events:
			if !chOpen {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				slog.Error("failed to write stream event", "job_id", job.ID, "error", err)
				return
			}
			flusher.Flush()
			if event.Type == streaming.EventTypeComplete || event.Type == streaming.EventTypeError {
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: {\"status\":\"alive\"}\n\n", streaming.EventTypeHeartbeat); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// authorizedJob resolves {jobId} and enforces ownership. Foreign jobs read
// as not found so IDs do not leak across users.
func (h *ImportHandlers) authorizedJob(w http.ResponseWriter, r *http.Request) (jobs.Job, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return jobs.Job{}, false
	}

	job, ok := h.jobs.Get(chi.URLParam(r, "jobId"))
	if !ok || job.UserID != userID {
		http.Error(w, "Import job not found", http.StatusNotFound)
		return jobs.Job{}, false
	}
	return job, true
}

func finishedJobEvent(job jobs.Job) streaming.SSEEvent {
	if job.Status == jobs.StatusFailed {
		return streaming.NewEvent(streaming.EventTypeError, streaming.ErrorEvent{
			Message: job.Error,
			JobID:   job.ID,
		})
	}
	return streaming.NewEvent(streaming.EventTypeComplete, job)
}

func writeSSEEvent(w http.ResponseWriter, event streaming.SSEEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
	return err
}
