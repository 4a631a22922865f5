// Package api exposes the HTTP management surface: the node-type catalog,
// workflow creation with whole-workflow validation, and execution
// start/inspect/cancel plus resume-token delivery for paused
// human-in-the-loop nodes.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"goa.design/clue/log"
	"goa.design/flow/engine"
	"goa.design/flow/execution"
	"goa.design/flow/hil"
	"goa.design/flow/spec"
	"goa.design/flow/store"
	"goa.design/flow/workflow"
)

type (
	// Handler serves the management API.
	Handler struct {
		registry  *spec.Registry
		validator *workflow.Validator
		store     store.Store
		engine    *engine.Engine
	}

	// nodeTypeSummary is one catalog listing entry.
	nodeTypeSummary struct {
		Type        spec.Type `json:"type"`
		Subtype     string    `json:"subtype"`
		Version     string    `json:"version"`
		Name        string    `json:"name"`
		Description string    `json:"description"`
		Tags        []string  `json:"tags,omitempty"`
	}

	// startRequest is the POST /executions body.
	startRequest struct {
		WorkflowID  string         `json:"workflow_id"`
		Mode        execution.Mode `json:"mode,omitempty"`
		TriggeredBy string         `json:"triggered_by,omitempty"`
		Payload     map[string]any `json:"payload,omitempty"`
	}

	// resumeRequest is the POST /resume body.
	resumeRequest struct {
		Token    string         `json:"token"`
		Text     string         `json:"text,omitempty"`
		Approved *bool          `json:"approved,omitempty"`
		Raw      map[string]any `json:"raw,omitempty"`
	}

	errorBody struct {
		Error apiError `json:"error"`
	}

	apiError struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}
)

// New constructs the handler.
func New(registry *spec.Registry, validator *workflow.Validator, st store.Store, eng *engine.Engine) *Handler {
	return &Handler{registry: registry, validator: validator, store: st, engine: eng}
}

// Router mounts every route on a fresh chi router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/node-types", h.listNodeTypes)
	r.Get("/node-types/catalog", h.catalog)
	r.Get("/node-types/{type}/{subtype}/spec", h.nodeSpec)
	r.Post("/workflows", h.createWorkflow)
	r.Get("/workflows/{id}", h.getWorkflow)
	r.Post("/executions", h.startExecution)
	r.Get("/executions", h.listExecutions)
	r.Get("/executions/{id}", h.getExecution)
	r.Post("/executions/{id}/cancel", h.cancelExecution)
	r.Post("/resume", h.resume)
	return r
}

// listNodeTypes returns the subtype index keyed by type, the shape the
// editor uses to populate its palette.
func (h *Handler) listNodeTypes(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, h.registry.ListByType())
}

// catalog returns the full listing with display metadata per subtype.
func (h *Handler) catalog(w http.ResponseWriter, r *http.Request) {
	specs := h.registry.List()
	out := make([]nodeTypeSummary, 0, len(specs))
	for _, s := range specs {
		out = append(out, nodeTypeSummary{
			Type:        s.Type,
			Subtype:     s.Subtype,
			Version:     s.Version,
			Name:        s.Name,
			Description: s.Description,
			Tags:        s.Tags,
		})
	}
	respond(w, http.StatusOK, out)
}

func (h *Handler) nodeSpec(w http.ResponseWriter, r *http.Request) {
	t := spec.Type(chi.URLParam(r, "type"))
	s, err := h.registry.Lookup(t, chi.URLParam(r, "subtype"))
	if err != nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	respond(w, http.StatusOK, specDetail(s))
}

func (h *Handler) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf workflow.Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid workflow JSON: "+err.Error())
		return
	}
	res := h.validator.Validate(&wf)
	if !res.OK() {
		respond(w, http.StatusUnprocessableEntity, res)
		return
	}
	if err := h.store.SaveWorkflow(r.Context(), &wf); err != nil {
		internalError(w, r, "save workflow", err)
		return
	}
	log.Printf(r.Context(), "workflow %s saved (%d warnings)", wf.ID, len(res.Warnings))
	respond(w, http.StatusCreated, map[string]any{"id": wf.ID, "warnings": res.Warnings})
}

func (h *Handler) getWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.store.LoadWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "workflow not found")
			return
		}
		internalError(w, r, "load workflow", err)
		return
	}
	respond(w, http.StatusOK, wf)
}

// startExecution runs the workflow synchronously: the response carries the
// execution in its terminal or WAITING state.
func (h *Handler) startExecution(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request JSON: "+err.Error())
		return
	}
	if req.WorkflowID == "" {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "workflow_id is required")
		return
	}
	exec, err := h.engine.Start(r.Context(), req.WorkflowID, engine.StartRequest{
		Mode:        req.Mode,
		TriggeredBy: req.TriggeredBy,
		Payload:     req.Payload,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "workflow not found")
			return
		}
		internalError(w, r, "start execution", err)
		return
	}
	respond(w, http.StatusCreated, exec)
}

func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{
		WorkflowID: q.Get("workflow_id"),
		Status:     execution.Status(q.Get("status")),
	}
	p := store.Page{}
	if v := q.Get("offset"); v != "" {
		p.Offset, _ = strconv.Atoi(v)
	}
	if v := q.Get("limit"); v != "" {
		p.Limit, _ = strconv.Atoi(v)
	}
	execs, err := h.store.ListExecutions(r.Context(), f, p)
	if err != nil {
		internalError(w, r, "list executions", err)
		return
	}
	respond(w, http.StatusOK, execs)
}

func (h *Handler) getExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.store.LoadExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "execution not found")
			return
		}
		internalError(w, r, "load execution", err)
		return
	}
	respond(w, http.StatusOK, exec)
}

func (h *Handler) cancelExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.engine.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, r, "cancel execution", err)
		return
	}
	respond(w, http.StatusOK, exec)
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request JSON: "+err.Error())
		return
	}
	if req.Token == "" {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "token is required")
		return
	}
	exec, err := h.engine.Resume(r.Context(), req.Token, hil.Response{
		Text:     req.Text,
		Approved: req.Approved,
		Raw:      req.Raw,
	})
	if err != nil {
		writeEngineError(w, r, "resume execution", err)
		return
	}
	respond(w, http.StatusOK, exec)
}

// writeEngineError maps structured engine errors to HTTP statuses. Stale
// tokens are gone, busy leases are conflicts, everything else is internal.
func writeEngineError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var ee *execution.Error
	if errors.As(err, &ee) {
		switch ee.Kind {
		case execution.KindResumeStale:
			respondError(w, http.StatusGone, string(ee.Kind), ee.Message)
			return
		case execution.KindResumeBusy:
			respondError(w, http.StatusConflict, string(ee.Kind), ee.Message)
			return
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	internalError(w, r, op, err)
}

func internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	log.Errorf(r.Context(), err, "%s", op)
	respondError(w, http.StatusInternalServerError, "INTERNAL", op+" failed")
}

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, kind, message string) {
	respond(w, status, errorBody{Error: apiError{Kind: kind, Message: message}})
}
