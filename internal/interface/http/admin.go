package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/codekids/codekids-hub/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUTHORING HANDLERS
// Role checks live in the authoring commands; teachers and admins only.
// ══════════════════════════════════════════════════════════════════════════════

type createCourseRequest struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	AgeGroup       string `json:"ageGroup"`
	LanguageTarget string `json:"languageTarget"`
	CodingLanguage string `json:"codingLanguage"`
	Difficulty     int    `json:"difficulty"`
}

// handleCreateCourse handles POST /api/v1/admin/courses
func (s *Server) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	var req createCourseRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.deps.Authoring.CreateCourse(r.Context(), command.CreateCourseCommand{
		Role:           caller(r).Role,
		Title:          req.Title,
		Description:    req.Description,
		AgeGroup:       req.AgeGroup,
		LanguageTarget: req.LanguageTarget,
		CodingLanguage: req.CodingLanguage,
		Difficulty:     req.Difficulty,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, c)
}

type createLessonRequest struct {
	Title          string `json:"title"`
	Content        string `json:"content"`
	OrderIndex     int    `json:"orderIndex"`
	ExpectedOutput string `json:"expectedOutput"`
	StarterCode    string `json:"starterCode"`
	Hint           string `json:"hint"`
	IsOptional     bool   `json:"isOptional"`
}

// handleCreateLesson handles POST /api/v1/admin/courses/{courseId}/lessons
func (s *Server) handleCreateLesson(w http.ResponseWriter, r *http.Request) {
	var req createLessonRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	l, err := s.deps.Authoring.CreateLesson(r.Context(), command.CreateLessonCommand{
		Role:           caller(r).Role,
		CourseID:       chi.URLParam(r, "courseId"),
		Title:          req.Title,
		Content:        req.Content,
		OrderIndex:     req.OrderIndex,
		ExpectedOutput: req.ExpectedOutput,
		StarterCode:    req.StarterCode,
		Hint:           req.Hint,
		IsOptional:     req.IsOptional,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, l)
}

type addDependencyRequest struct {
	SubjectKind             string `json:"subjectKind"`
	SubjectID               string `json:"subjectId"`
	Type                    string `json:"type"`
	RequiredID              string `json:"requiredId"`
	RequiredAchievementType string `json:"requiredAchievementType"`
	MinScore                int    `json:"minScore"`
}

// handleAddDependency handles POST /api/v1/admin/dependencies
func (s *Server) handleAddDependency(w http.ResponseWriter, r *http.Request) {
	var req addDependencyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.deps.Authoring.AddDependency(r.Context(), command.AddDependencyCommand{
		Role:                    caller(r).Role,
		SubjectKind:             req.SubjectKind,
		SubjectID:               req.SubjectID,
		Type:                    req.Type,
		RequiredID:              req.RequiredID,
		RequiredAchievementType: req.RequiredAchievementType,
		MinScore:                req.MinScore,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, d)
}
