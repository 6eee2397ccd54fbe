// Package admin exposes the operator HTTP surface: health, assignment
// listing, failure clearing and the last tick report.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/camwatch/frameparser-autoscaler"
	"github.com/camwatch/frameparser-autoscaler/store"
)

// Config holds the collaborators used by the Handler.
type Config struct {
	// Store is read for assignment listing (required).
	Store store.AssignmentStore

	// Reconciler clears failures (required).
	Reconciler autoscaler.Reconciler

	// LastReport returns the most recent tick report (optional).
	LastReport func() (autoscaler.Report, bool)

	// Logger is for observability (optional).
	Logger autoscaler.Logger
}

// Handler serves the admin endpoints.
type Handler struct {
	config Config
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{config: cfg}
}

// Routes registers the admin endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/assignments", h.ListAssignments)
	r.Post("/assignments/{cameraID}/clear", h.ClearFailure)
	r.Get("/report", h.Report)
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ListAssignments handles GET /assignments[?state=FAILED].
func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	filter := autoscaler.AssignmentState(r.URL.Query().Get("state"))
	if filter != "" && !filter.Valid() {
		writeError(w, http.StatusBadRequest, "unknown state "+string(filter))
		return
	}

	list, err := h.config.Store.List(r.Context())
	if err != nil {
		h.logError(r, "list assignments failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list assignments")
		return
	}

	out := make([]AssignmentView, 0, len(list))
	for _, a := range list {
		if filter == "" || a.State == filter {
			out = append(out, NewAssignmentView(a))
		}
	}

	writeJSON(w, http.StatusOK, out)
}

// ClearFailure handles POST /assignments/{cameraID}/clear.
func (h *Handler) ClearFailure(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "cameraID")
	if cameraID == "" {
		writeError(w, http.StatusBadRequest, "camera id is required")
		return
	}

	a, err := h.config.Reconciler.ClearFailure(r.Context(), cameraID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, NewAssignmentView(a))
	case errors.Is(err, store.ErrAssignmentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, autoscaler.ErrNotFailed), errors.Is(err, store.ErrVersionConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logError(r, "clear failure failed", err)
		writeError(w, http.StatusInternalServerError, "failed to clear assignment")
	}
}

// Report handles GET /report.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	if h.config.LastReport == nil {
		writeError(w, http.StatusNotFound, "no tick has run yet")
		return
	}
	report, ok := h.config.LastReport()
	if !ok {
		writeError(w, http.StatusNotFound, "no tick has run yet")
		return
	}

	writeJSON(w, http.StatusOK, NewReportView(report))
}

func (h *Handler) logError(r *http.Request, msg string, err error) {
	if h.config.Logger != nil {
		h.config.Logger.Error(r.Context(), msg, "path", r.URL.Path, "error", err)
	}
}

// AssignmentView is the JSON form of an Assignment.
type AssignmentView struct {
	CameraID         string     `json:"cameraId"`
	WorkerHandle     string     `json:"workerHandle,omitempty"`
	State            string     `json:"state"`
	LastReconciledAt time.Time  `json:"lastReconciledAt"`
	FailureCount     int        `json:"failureCount"`
	Version          int64      `json:"version"`
	LaunchStartedAt  *time.Time `json:"launchStartedAt,omitempty"`
	FailedAt         *time.Time `json:"failedAt,omitempty"`
	LastError        string     `json:"lastError,omitempty"`
	DivergedSince    *time.Time `json:"divergedSince,omitempty"`
}

// NewAssignmentView converts an Assignment.
func NewAssignmentView(a autoscaler.Assignment) AssignmentView {
	return AssignmentView{
		CameraID:         a.CameraID,
		WorkerHandle:     a.WorkerHandle,
		State:            string(a.State),
		LastReconciledAt: a.LastReconciledAt,
		FailureCount:     a.FailureCount,
		Version:          a.Version,
		LaunchStartedAt:  optionalTime(a.LaunchStartedAt),
		FailedAt:         optionalTime(a.FailedAt),
		LastError:        a.LastError,
		DivergedSince:    optionalTime(a.DivergedSince),
	}
}

// OutcomeView is the JSON form of a CameraOutcome.
type OutcomeView struct {
	CameraID     string `json:"cameraId"`
	Action       string `json:"action"`
	State        string `json:"state,omitempty"`
	WorkerHandle string `json:"workerHandle,omitempty"`
	Alert        bool   `json:"alert,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ReportView is the JSON form of a Report.
type ReportView struct {
	StartedAt  time.Time      `json:"startedAt"`
	DurationMS int64          `json:"durationMs"`
	Desired    int            `json:"desired"`
	Observed   int            `json:"observed"`
	Error      string         `json:"error,omitempty"`
	Counts     map[string]int `json:"counts"`
	Outcomes   []OutcomeView  `json:"outcomes"`
}

// NewReportView converts a Report.
func NewReportView(r autoscaler.Report) ReportView {
	v := ReportView{
		StartedAt:  r.StartedAt,
		DurationMS: r.Duration.Milliseconds(),
		Desired:    r.Desired,
		Observed:   r.Observed,
		Counts:     make(map[string]int),
		Outcomes:   make([]OutcomeView, 0, len(r.Outcomes)),
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	for _, o := range r.Outcomes {
		ov := OutcomeView{
			CameraID:     o.CameraID,
			Action:       string(o.Action),
			State:        string(o.State),
			WorkerHandle: o.WorkerHandle,
			Alert:        o.Alert,
		}
		if o.Err != nil {
			ov.Error = o.Err.Error()
		}
		v.Counts[ov.Action]++
		v.Outcomes = append(v.Outcomes, ov)
	}
	return v
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
