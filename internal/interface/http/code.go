package http

import (
	"net/http"

	"github.com/codekids/codekids-hub/internal/application/command"
	"github.com/codekids/codekids-hub/internal/application/query"
)

// ══════════════════════════════════════════════════════════════════════════════
// CODE HANDLERS
// Sandbox runs, hints and dry-run validation. None of them record progress.
// ══════════════════════════════════════════════════════════════════════════════

type codeRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	LessonID string `json:"lessonId"`
}

// handleRunCode handles POST /api/v1/code/run
func (s *Server) handleRunCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.RunCode.Handle(r.Context(), command.RunCodeCommand{
		UserID:   caller(r).UserID,
		Language: req.Language,
		Code:     req.Code,
		LessonID: req.LessonID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleHint handles POST /api/v1/code/hint
func (s *Server) handleHint(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	hint, err := s.deps.Hint.Handle(r.Context(), query.GetHintQuery{
		LessonID: req.LessonID,
		Code:     req.Code,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, hint)
}

// handleValidateCode handles POST /api/v1/code/validate
func (s *Server) handleValidateCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.deps.ValidateSolution.Handle(r.Context(), command.ValidateSolutionCommand{
		LessonID: req.LessonID,
		Code:     req.Code,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, v)
}
