package worker

import (
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/lukaszraczylo/memoryd/internal/contextengine"
)

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("worker: encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON decodes the request body into dst, rejecting an empty body
// rather than leaving dst zero-valued and the caller none the wiser.
func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

// parseSessionID extracts the {id} chi URL param as a numeric session id,
// writing a 400 response and returning ok=false if it's missing or malformed.
func parseSessionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return 0, false
	}
	return id, true
}

// projectFromCWD derives the project identifier from a session's working
// directory: its final path component.
func projectFromCWD(cwd string) string {
	if cwd == "" {
		return ""
	}
	return filepath.Base(filepath.Clean(cwd))
}

// handleDashboardSessions lists active sessions with their plan association.
//
// @Summary Active sessions for the dashboard
// @Success 200 {object} map[string]interface{}
// @Router /api/dashboard/sessions [get]
func (s *Service) handleDashboardSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.GetDashboardSessions(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("worker: list dashboard sessions")
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

type ingestObservationRequest struct {
	ContentSessionID string      `json:"contentSessionId"`
	ToolName         string      `json:"tool_name"`
	ToolInput        interface{} `json:"tool_input"`
	ToolResponse     interface{} `json:"tool_response"`
	CWD              string      `json:"cwd"`
	FilesRead        []string    `json:"files_read,omitempty"`
	FilesModified    []string    `json:"files_modified,omitempty"`
}

// handleIngestObservation durably queues one tool-use event for the session
// identified by contentSessionId, creating the session row if this is its
// first event.
//
// @Summary Ingest a tool-use observation
// @Success 200 {object} map[string]interface{}
// @Router /api/sessions/observations [post]
func (s *Service) handleIngestObservation(w http.ResponseWriter, r *http.Request) {
	var req ingestObservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ContentSessionID == "" {
		writeError(w, http.StatusBadRequest, "contentSessionId is required")
		return
	}

	project := projectFromCWD(req.CWD)
	if s.config != nil && s.config.IsProjectExcluded(project) {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}

	sessionDBID, err := s.store.CreateSession(r.Context(), req.ContentSessionID, project, "")
	if err != nil {
		log.Error().Err(err).Msg("worker: create session")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	payload := observationPayload{
		MemorySessionID: req.ContentSessionID,
		Project:         project,
		ToolName:        req.ToolName,
		ToolInput:       req.ToolInput,
		ToolResponse:    req.ToolResponse,
		FilesRead:       req.FilesRead,
		FilesModified:   req.FilesModified,
	}
	envelope := struct {
		Kind string `json:"kind"`
		observationPayload
	}{Kind: "observation", observationPayload: payload}

	if err := s.queue.Enqueue(r.Context(), sessionDBID, envelope); err != nil {
		log.Error().Err(err).Msg("worker: enqueue observation")
		writeError(w, http.StatusInternalServerError, "failed to queue observation")
		return
	}

	s.ensureProcessor(sessionDBID, req.ContentSessionID, project, "")
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

type ingestSummaryRequest struct {
	ContentSessionID     string `json:"contentSessionId"`
	LastAssistantMessage string `json:"last_assistant_message"`
	Request              string `json:"request,omitempty"`
	Investigated         string `json:"investigated,omitempty"`
	Learned              string `json:"learned,omitempty"`
	Completed            string `json:"completed,omitempty"`
	NextSteps            string `json:"next_steps,omitempty"`
	CWD                  string `json:"cwd,omitempty"`
}

// handleIngestSummary durably queues an end-of-turn summary request.
//
// @Summary Ingest a session summary request
// @Success 200 {object} map[string]interface{}
// @Router /api/sessions/summarize [post]
func (s *Service) handleIngestSummary(w http.ResponseWriter, r *http.Request) {
	var req ingestSummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ContentSessionID == "" {
		writeError(w, http.StatusBadRequest, "contentSessionId is required")
		return
	}

	project := projectFromCWD(req.CWD)
	sessionDBID, err := s.store.CreateSession(r.Context(), req.ContentSessionID, project, "")
	if err != nil {
		log.Error().Err(err).Msg("worker: create session")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	payload := summaryPayload{
		MemorySessionID: req.ContentSessionID,
		Project:         project,
		Request:         req.Request,
		Investigated:    req.Investigated,
		Learned:         req.Learned,
		Completed:       req.Completed,
		NextSteps:       req.NextSteps,
	}
	envelope := struct {
		Kind string `json:"kind"`
		summaryPayload
	}{Kind: "summary", summaryPayload: payload}

	if err := s.queue.Enqueue(r.Context(), sessionDBID, envelope); err != nil {
		log.Error().Err(err).Msg("worker: enqueue summary")
		writeError(w, http.StatusInternalServerError, "failed to queue summary")
		return
	}

	s.ensureProcessor(sessionDBID, req.ContentSessionID, project, "")
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

// handleContextInject renders the context document for one or more
// projects, optionally scoped to a plan.
//
// @Summary Render the injected context document
// @Success 200 {string} string "rendered context"
// @Router /api/context/inject [get]
func (s *Service) handleContextInject(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var projects []string
	if raw := q.Get("projects"); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				projects = append(projects, p)
			}
		}
	} else if single := q.Get("project"); single != "" {
		projects = []string{single}
	}
	if len(projects) == 0 {
		writeError(w, http.StatusBadRequest, "projects or project query param is required")
		return
	}

	renderMode := "markdown"
	if ok, _ := strconv.ParseBool(q.Get("colors")); ok {
		renderMode = "ansi"
	}

	req := contextengine.Request{
		Projects:   projects,
		PlanPath:   q.Get("planPath"),
		RenderMode: renderMode,
	}

	doc, err := s.contextEngine.BuildContext(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Msg("worker: build context")
		writeError(w, http.StatusInternalServerError, "failed to build context")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}
