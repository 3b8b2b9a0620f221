package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/codekids/codekids-hub/internal/application/query"
	"github.com/codekids/codekids-hub/internal/domain/dependency"
)

// ══════════════════════════════════════════════════════════════════════════════
// COURSE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleListCourses handles GET /api/v1/courses
func (s *Server) handleListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := s.deps.Catalog.All(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, courses, &ResponseMeta{TotalCount: len(courses)})
}

// handleAvailableCourses handles GET /api/v1/courses/available
func (s *Server) handleAvailableCourses(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Catalog.Available(r.Context(), caller(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleRecommendedCourses handles GET /api/v1/courses/recommended
func (s *Server) handleRecommendedCourses(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Catalog.Recommended(r.Context(), caller(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, res, &ResponseMeta{TotalCount: len(res)})
}

// handleGetCourse handles GET /api/v1/courses/{courseId}
func (s *Server) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.CourseView.Handle(r.Context(), query.GetCourseViewQuery{
		UserID:   caller(r).UserID,
		CourseID: chi.URLParam(r, "courseId"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

// handleCourseDependencies handles GET /api/v1/courses/{courseId}/dependencies
func (s *Server) handleCourseDependencies(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Dependencies.Handle(r.Context(), query.CheckDependenciesQuery{
		UserID:  caller(r).UserID,
		Subject: dependency.CourseSubject(chi.URLParam(r, "courseId")),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleCourseProgress handles GET /api/v1/courses/{courseId}/progress
func (s *Server) handleCourseProgress(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Catalog.CourseProgress(r.Context(), caller(r).UserID, chi.URLParam(r, "courseId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleNextLesson handles GET /api/v1/courses/{courseId}/next?currentLessonId=
func (s *Server) handleNextLesson(w http.ResponseWriter, r *http.Request) {
	lesson, err := s.deps.Navigation.Next(r.Context(),
		caller(r).UserID,
		chi.URLParam(r, "courseId"),
		r.URL.Query().Get("currentLessonId"),
	)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if lesson == nil {
		writeJSONError(w, r, http.StatusNotFound, CodeNotFound, "No more lessons available",
			map[string]bool{"completed_course": true})
		return
	}
	writeJSON(w, r, http.StatusOK, lesson)
}

// handleUnlockCourse handles POST /api/v1/courses/{courseId}/unlock
func (s *Server) handleUnlockCourse(w http.ResponseWriter, r *http.Request) {
	s.unlock(w, r, dependency.CourseSubject(chi.URLParam(r, "courseId")))
}
