package http

import (
	"net/http"

	"github.com/codekids/codekids-hub/internal/application/command"
	"github.com/codekids/codekids-hub/internal/application/query"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEARNER HANDLERS
// Progress, dashboard and the parent view of the calling user.
// ══════════════════════════════════════════════════════════════════════════════

// handleGetProgress handles GET /api/v1/progress
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	rows, err := s.deps.Dashboard.Progress(r.Context(), caller(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, rows, &ResponseMeta{TotalCount: len(rows)})
}

// handleGetDashboard handles GET /api/v1/dashboard
func (s *Server) handleGetDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Dashboard.Handle(r.Context(), caller(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

// handleGetChildren handles GET /api/v1/children
func (s *Server) handleGetChildren(w http.ResponseWriter, r *http.Request) {
	id := caller(r)
	kids, err := s.deps.Dashboard.Children(r.Context(), id.UserID, id.Role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if kids == nil {
		kids = []query.ChildSummary{}
	}
	writeJSONWithMeta(w, r, http.StatusOK, kids, &ResponseMeta{TotalCount: len(kids)})
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetAchievements handles GET /api/v1/achievements
func (s *Server) handleGetAchievements(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Achievements.Earned(r.Context(), caller(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleAvailableAchievements handles GET /api/v1/achievements/available
func (s *Server) handleAvailableAchievements(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Achievements.Available(r.Context(), caller(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleAchievementStats handles GET /api/v1/achievements/stats
func (s *Server) handleAchievementStats(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Achievements.Stats(r.Context(), caller(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleLeaderboard handles GET /api/v1/achievements/leaderboard?limit=
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", query.DefaultLeaderboardLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.deps.Achievements.Leaderboard(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, entries, &ResponseMeta{TotalCount: len(entries)})
}

// handleCheckAchievements handles POST /api/v1/achievements/check
func (s *Server) handleCheckAchievements(w http.ResponseWriter, r *http.Request) {
	awarded, err := s.deps.CheckAchievements.Handle(r.Context(), command.CheckAchievementsCommand{
		UserID: caller(r).UserID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"new_achievements": awarded,
	})
}
