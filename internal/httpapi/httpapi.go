// Package httpapi exposes the handoff engine over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"finzcore/internal/handoff"
	"finzcore/pkg/domain"
)

// maxRequestBodySize limits POST body sizes.
const maxRequestBodySize = 1 << 20 // 1 MB

// API serves the handoff endpoints.
type API struct {
	service *handoff.Service
	logger  *slog.Logger
}

// New constructs the API over the handoff service.
func New(service *handoff.Service, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{service: service, logger: logger}
}

// Register installs all routes on mux. The metrics endpoint serves the given
// gatherer; pass nil to skip it.
func (a *API) Register(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.HandleFunc("POST /handoff", a.handleHandoff)
	mux.HandleFunc("POST /projects/{id}/handoff", a.handleHandoff)
	mux.HandleFunc("PATCH /projects/{id}/accept-baseline", a.handleAcceptBaseline)
	mux.HandleFunc("PATCH /projects/{id}/handoffs/{baselineID}", a.handleReviseHandoff)
	mux.HandleFunc("GET /projects/{id}", a.handleGetProject)
	mux.HandleFunc("GET /projects/{id}/rubros", a.handleListRubros)
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

// handoffRequest is the request body for POST /handoff.
type handoffRequest struct {
	ProjectID        string         `json:"project_id,omitempty"`
	BaselineID       string         `json:"baseline_id"`
	IdempotencyToken string         `json:"idempotency_token"`
	Owner            string         `json:"owner,omitempty"`
	Payload          map[string]any `json:"payload"`
}

func (a *API) handleHandoff(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req handoffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON", nil)
		return
	}
	// The path form takes precedence over the body's project hint.
	if id := r.PathValue("id"); id != "" {
		req.ProjectID = id
	}
	if token := r.Header.Get("Idempotency-Key"); token != "" && req.IdempotencyToken == "" {
		req.IdempotencyToken = token
	}

	result, err := a.service.Handoff(r.Context(), handoff.HandoffRequest{
		ProjectID:  req.ProjectID,
		BaselineID: req.BaselineID,
		Token:      req.IdempotencyToken,
		Owner:      req.Owner,
		Payload:    req.Payload,
	})
	if err != nil {
		a.writeDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Outcome == domain.OutcomeReplayed {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

// acceptBaselineRequest is the request body for PATCH /projects/{id}/accept-baseline.
type acceptBaselineRequest struct {
	BaselineID string `json:"baseline_id"`
	AcceptedBy string `json:"accepted_by"`
}

func (a *API) handleAcceptBaseline(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req acceptBaselineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON", nil)
		return
	}

	project, err := a.service.AcceptBaseline(r.Context(), r.PathValue("id"), req.BaselineID, req.AcceptedBy)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// reviseHandoffRequest is the request body for PATCH /projects/{id}/handoffs/{baselineID}.
type reviseHandoffRequest struct {
	ExpectedVersion int            `json:"expected_version"`
	Owner           string         `json:"owner,omitempty"`
	Fields          map[string]any `json:"fields,omitempty"`
}

func (a *API) handleReviseHandoff(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req reviseHandoffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON", nil)
		return
	}

	revised, err := a.service.ReviseHandoff(r.Context(),
		r.PathValue("id"), r.PathValue("baselineID"), req.ExpectedVersion, req.Owner, req.Fields)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, revised)
}

func (a *API) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := a.service.GetProject(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (a *API) handleListRubros(w http.ResponseWriter, r *http.Request) {
	rubros, err := a.service.ListRubros(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rubros": rubros, "count": len(rubros)})
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// errorBody is the uniform error envelope.
type errorBody struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeDomainError maps the domain error taxonomy onto HTTP statuses.
// Conflicts carry machine-readable detail so callers can distinguish a token
// conflict from a baseline collision without parsing prose.
func (a *API) writeDomainError(w http.ResponseWriter, err error) {
	var (
		validation  domain.ValidationError
		idemConfl   domain.IdempotencyConflictError
		collision   domain.BaselineCollisionError
		verConflict domain.VersionConflictError
		notFound    domain.NotFoundError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "validation", validation.Error(), map[string]any{
			"field": validation.Field,
		})
	case errors.As(err, &idemConfl):
		writeError(w, http.StatusConflict, "idempotency_conflict", idemConfl.Error(), map[string]any{
			"token":                 idemConfl.Token,
			"existing_baseline_id":  idemConfl.ExistingBaselineID,
			"attempted_baseline_id": idemConfl.AttemptedBaselineID,
		})
	case errors.As(err, &collision):
		writeError(w, http.StatusConflict, "baseline_collision", collision.Error(), map[string]any{
			"project_id":            collision.ProjectID,
			"existing_baseline_id":  collision.ExistingBaselineID,
			"attempted_baseline_id": collision.AttemptedBaselineID,
		})
	case errors.As(err, &verConflict):
		writeError(w, http.StatusConflict, "version_conflict", verConflict.Error(), map[string]any{
			"handoff_id":       verConflict.HandoffID,
			"expected_version": verConflict.ExpectedVersion,
		})
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "not_found", notFound.Error(), nil)
	default:
		a.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, errorBody{Error: code, Message: message, Details: details})
}

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
