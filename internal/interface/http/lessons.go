package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/codekids/codekids-hub/internal/application/command"
	"github.com/codekids/codekids-hub/internal/application/query"
	"github.com/codekids/codekids-hub/internal/domain/dependency"
)

// ══════════════════════════════════════════════════════════════════════════════
// LESSON HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetLesson handles GET /api/v1/lessons/{lessonId}
func (s *Server) handleGetLesson(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.LessonView.Handle(r.Context(), query.GetLessonViewQuery{
		UserID:   caller(r).UserID,
		LessonID: chi.URLParam(r, "lessonId"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

// handleLessonDependencies handles GET /api/v1/lessons/{lessonId}/dependencies
func (s *Server) handleLessonDependencies(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Dependencies.Handle(r.Context(), query.CheckDependenciesQuery{
		UserID:  caller(r).UserID,
		Subject: dependency.LessonSubject(chi.URLParam(r, "lessonId")),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleLessonNavigation handles GET /api/v1/lessons/{lessonId}/navigation?courseId=
func (s *Server) handleLessonNavigation(w http.ResponseWriter, r *http.Request) {
	nav, err := s.deps.Navigation.Navigate(r.Context(),
		caller(r).UserID,
		r.URL.Query().Get("courseId"),
		chi.URLParam(r, "lessonId"),
	)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, nav)
}

type saveCodeRequest struct {
	Code string `json:"code"`
}

// handleSaveCode handles POST /api/v1/lessons/{lessonId}/code
func (s *Server) handleSaveCode(w http.ResponseWriter, r *http.Request) {
	var req saveCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.deps.SaveCode.Handle(r.Context(), command.SaveCodeCommand{
		UserID:   caller(r).UserID,
		LessonID: chi.URLParam(r, "lessonId"),
		Code:     req.Code,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

type submitLessonRequest struct {
	Code string `json:"code"`

	// TimeSpent is in seconds.
	TimeSpent int `json:"timeSpent"`
}

// handleSubmitLesson handles POST /api/v1/lessons/{lessonId}/submit
func (s *Server) handleSubmitLesson(w http.ResponseWriter, r *http.Request) {
	var req submitLessonRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.SubmitLesson.Handle(r.Context(), command.SubmitLessonCommand{
		UserID:    caller(r).UserID,
		LessonID:  chi.URLParam(r, "lessonId"),
		Code:      req.Code,
		TimeSpent: req.TimeSpent,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleUnlockLesson handles POST /api/v1/lessons/{lessonId}/unlock
func (s *Server) handleUnlockLesson(w http.ResponseWriter, r *http.Request) {
	s.unlock(w, r, dependency.LessonSubject(chi.URLParam(r, "lessonId")))
}

func (s *Server) unlock(w http.ResponseWriter, r *http.Request, subject dependency.Subject) {
	id := caller(r)
	res, err := s.deps.Unlock.Handle(r.Context(), command.UnlockCommand{
		UserID:  id.UserID,
		Role:    id.Role,
		Subject: subject,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}
