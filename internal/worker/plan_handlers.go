package worker

import (
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/lukaszraczylo/memoryd/internal/planstore"
)

// handlePlansList discovers every plan file under <project>/docs/plans.
//
// @Summary List discovered plan files
// @Success 200 {object} map[string]interface{}
// @Router /api/plans [get]
func (s *Service) handlePlansList(w http.ResponseWriter, r *http.Request) {
	projectRoot := r.URL.Query().Get("project")
	if projectRoot == "" {
		writeError(w, http.StatusBadRequest, "project query param is required")
		return
	}

	s.ensurePlanDirWatcher(projectRoot)

	plans, err := planstore.ListPlanFiles(projectRoot)
	if err != nil {
		log.Error().Err(err).Msg("worker: list plans")
		writeError(w, http.StatusInternalServerError, "failed to list plans")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"plans": plans})
}

// handlePlansActive resolves the plan marked active for the configured
// PILOT_SESSION_ID.
//
// @Summary Resolve the active plan for this pilot session
// @Success 200 {object} map[string]interface{}
// @Router /api/plans/active [get]
func (s *Service) handlePlansActive(w http.ResponseWriter, r *http.Request) {
	projectRoot := r.URL.Query().Get("project")
	if projectRoot == "" {
		writeError(w, http.StatusBadRequest, "project query param is required")
		return
	}

	s.ensurePlanDirWatcher(projectRoot)

	plan, err := planstore.ActivePlan(s.config.DataDir, s.config.PilotSessionID, projectRoot)
	if err != nil {
		log.Error().Err(err).Msg("worker: resolve active plan")
		writeError(w, http.StatusInternalServerError, "failed to resolve active plan")
		return
	}
	if plan == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"plan": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"plan": plan})
}

func planPathParams(r *http.Request) (projectRoot, path string, ok bool) {
	q := r.URL.Query()
	projectRoot = q.Get("project")
	path = q.Get("path")
	return projectRoot, path, projectRoot != "" && path != ""
}

// handlePlanRead reads and header-parses one plan file.
//
// @Summary Read a plan file's parsed header
// @Success 200 {object} map[string]interface{}
// @Router /api/plan [get]
func (s *Service) handlePlanRead(w http.ResponseWriter, r *http.Request) {
	projectRoot, path, ok := planPathParams(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "project and path query params are required")
		return
	}

	plan, err := planstore.ReadPlanFile(projectRoot, path)
	if err != nil {
		s.writePlanFileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// handlePlanContent returns one plan file's raw Markdown.
//
// @Summary Read a plan file's raw content
// @Success 200 {string} string "plan markdown"
// @Router /api/plan/content [get]
func (s *Service) handlePlanContent(w http.ResponseWriter, r *http.Request) {
	projectRoot, path, ok := planPathParams(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "project and path query params are required")
		return
	}

	content, err := planstore.ReadPlanFileContent(projectRoot, path)
	if err != nil {
		s.writePlanFileError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(content))
}

// handlePlanDelete deletes one plan file.
//
// @Summary Delete a plan file
// @Success 200 {object} map[string]interface{}
// @Router /api/plan [delete]
func (s *Service) handlePlanDelete(w http.ResponseWriter, r *http.Request) {
	projectRoot, path, ok := planPathParams(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "project and path query params are required")
		return
	}

	if err := planstore.DeletePlanFile(projectRoot, path); err != nil {
		s.writePlanFileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

// writePlanFileError maps a planstore file error to the right status code:
// a path-traversal attempt is a ContractViolation (403); anything else
// reading the filesystem is NotFound (404) or a server error.
func (s *Service) writePlanFileError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, planstore.ErrPathTraversal):
		writeError(w, http.StatusForbidden, "path escapes the plans directory")
	case os.IsNotExist(err):
		writeError(w, http.StatusNotFound, "plan file not found")
	default:
		log.Error().Err(err).Msg("worker: plan file operation")
		writeError(w, http.StatusInternalServerError, "plan file operation failed")
	}
}

type associatePlanRequest struct {
	PlanPath string `json:"plan_path"`
}

// handleAssociatePlanByID associates a plan with a session by its numeric id.
//
// @Summary Associate a plan with a session
// @Success 200 {object} map[string]interface{}
// @Router /api/sessions/{id}/plan [post]
func (s *Service) handleAssociatePlanByID(w http.ResponseWriter, r *http.Request) {
	sessionDBID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	var req associatePlanRequest
	if err := decodeJSON(r, &req); err != nil || req.PlanPath == "" {
		writeError(w, http.StatusBadRequest, "plan_path is required")
		return
	}

	plan, err := s.plans.AssociatePlan(r.Context(), sessionDBID, req.PlanPath)
	if err != nil {
		log.Error().Err(err).Msg("worker: associate plan")
		writeError(w, http.StatusInternalServerError, "failed to associate plan")
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// handleGetPlanByID returns the plan associated with a session by its
// numeric id, or 404 if none exists.
//
// @Summary Get a session's associated plan
// @Success 200 {object} map[string]interface{}
// @Router /api/sessions/{id}/plan [get]
func (s *Service) handleGetPlanByID(w http.ResponseWriter, r *http.Request) {
	sessionDBID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	plan, err := s.plans.GetPlanForSession(r.Context(), sessionDBID)
	if err != nil {
		log.Error().Err(err).Msg("worker: get plan for session")
		writeError(w, http.StatusInternalServerError, "failed to read plan association")
		return
	}
	if plan == nil {
		writeError(w, http.StatusNotFound, "no plan associated with session")
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// handleClearPlanByID removes the plan association for a session.
//
// @Summary Clear a session's plan association
// @Success 200 {object} map[string]interface{}
// @Router /api/sessions/{id}/plan [delete]
func (s *Service) handleClearPlanByID(w http.ResponseWriter, r *http.Request) {
	sessionDBID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	if err := s.plans.ClearPlanAssociation(r.Context(), sessionDBID); err != nil {
		log.Error().Err(err).Msg("worker: clear plan association")
		writeError(w, http.StatusInternalServerError, "failed to clear plan association")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

type updatePlanStatusRequest struct {
	Status string `json:"status"`
}

// handleUpdatePlanStatus transitions a session's plan status to one of
// PENDING, COMPLETE, VERIFIED.
//
// @Summary Update a session's plan status
// @Success 200 {object} map[string]interface{}
// @Router /api/sessions/{id}/plan/status [put]
func (s *Service) handleUpdatePlanStatus(w http.ResponseWriter, r *http.Request) {
	sessionDBID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	var req updatePlanStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	plan, err := s.plans.UpdateStatus(r.Context(), sessionDBID, req.Status)
	switch {
	case errors.Is(err, planstore.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "status must be one of PENDING, COMPLETE, VERIFIED")
	case errors.Is(err, gorm.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "no plan associated with session")
	case err != nil:
		log.Error().Err(err).Msg("worker: update plan status")
		writeError(w, http.StatusInternalServerError, "failed to update plan status")
	default:
		writeJSON(w, http.StatusOK, plan)
	}
}

// handleGetPlanByContentID returns the plan associated with a session,
// looked up by its external content-session id.
//
// @Summary Get a session's associated plan by content-session id
// @Success 200 {object} map[string]interface{}
// @Router /api/sessions/by-content-id/{cid}/plan [get]
func (s *Service) handleGetPlanByContentID(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")
	if cid == "" {
		writeError(w, http.StatusBadRequest, "content session id is required")
		return
	}

	plan, err := s.plans.GetPlanByContentSessionID(r.Context(), cid)
	if err != nil {
		log.Error().Err(err).Msg("worker: get plan by content session id")
		writeError(w, http.StatusInternalServerError, "failed to read plan association")
		return
	}
	if plan == nil {
		writeError(w, http.StatusNotFound, "no plan associated with session")
		return
	}
	writeJSON(w, http.StatusOK, plan)
}
