package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/codekids/codekids-hub/internal/domain/achievement"
	"github.com/codekids/codekids-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AchievementRepository implements achievement.Repository for PostgreSQL.
type AchievementRepository struct {
	conn *Connection
}

// NewAchievementRepository creates a new AchievementRepository.
func NewAchievementRepository(conn *Connection) *AchievementRepository {
	return &AchievementRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Catalog
// ─────────────────────────────────────────────────────────────────────────────

// ListTypes returns the catalog ordered by category then points descending.
func (r *AchievementRepository) ListTypes(ctx context.Context) ([]achievement.Type, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT type, title, description, icon_url, points, category
		FROM achievement_types
		ORDER BY category, points DESC, type
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list achievement types: %w", err)
	}
	defer rows.Close()

	var out []achievement.Type
	for rows.Next() {
		t, err := scanType(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan achievement type: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// GetType returns one catalog entry.
func (r *AchievementRepository) GetType(ctx context.Context, key achievement.Key) (*achievement.Type, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT type, title, description, icon_url, points, category
		FROM achievement_types
		WHERE type = $1
	`, string(key))
	t, err := scanType(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrAchievementTypeNotFound
		}
		return nil, fmt.Errorf("failed to get achievement type: %w", err)
	}
	return t, nil
}

func scanType(row pgx.Row) (*achievement.Type, error) {
	var (
		t             achievement.Type
		key, category string
	)
	if err := row.Scan(&key, &t.Title, &t.Description, &t.Icon, &t.Points, &category); err != nil {
		return nil, err
	}
	t.Key = achievement.Key(key)
	t.Category = achievement.Category(category)
	return &t, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Earned achievements
// ─────────────────────────────────────────────────────────────────────────────

// Has reports whether the user already earned key.
func (r *AchievementRepository) Has(ctx context.Context, userID string, key achievement.Key) (bool, error) {
	var exists bool
	err := r.conn.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM user_achievements WHERE user_id = $1 AND achievement_type = $2)
	`, userID, string(key)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check achievement: %w", err)
	}
	return exists, nil
}

// Award inserts the achievement and increments the points row in one transaction.
// The unique (user_id, achievement_type) constraint arbitrates concurrent awards;
// the loser gets ErrAlreadyExists and writes nothing.
func (r *AchievementRepository) Award(ctx context.Context, ua *achievement.UserAchievement) (*achievement.UserPoints, error) {
	var pts *achievement.UserPoints

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO user_achievements (id, user_id, achievement_type, title, description,
				icon_url, points_earned, earned_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (user_id, achievement_type) DO NOTHING
		`, ua.ID, ua.UserID, string(ua.Key), ua.Title, ua.Description, ua.Icon, ua.PointsEarned, ua.EarnedAt)
		if err != nil {
			return fmt.Errorf("insert achievement: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.NewDomainError("achievement", "Award", shared.ErrAlreadyExists, "achievement already awarded")
		}

		// The upsert takes the row lock, so the level update below sees a stable total.
		var total int
		err = tx.QueryRow(ctx, `
			INSERT INTO user_points (user_id, total_points, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO UPDATE
			SET total_points = user_points.total_points + EXCLUDED.total_points,
			    updated_at = EXCLUDED.updated_at
			RETURNING total_points
		`, ua.UserID, ua.PointsEarned, ua.EarnedAt).Scan(&total)
		if err != nil {
			return fmt.Errorf("increment points: %w", err)
		}

		pts = achievement.NewUserPoints(ua.UserID)
		pts.Add(total, ua.EarnedAt)
		_, err = tx.Exec(ctx, `
			UPDATE user_points SET current_level = $2, level_title = $3 WHERE user_id = $1
		`, ua.UserID, pts.CurrentLevel, pts.LevelTitle)
		if err != nil {
			return fmt.Errorf("update level: %w", err)
		}
		return nil
	})
	if err != nil {
		if shared.IsAlreadyExists(err) {
			return nil, err
		}
		if IsUniqueViolation(err) {
			return nil, shared.WrapError("achievement", "Award", shared.ErrAlreadyExists, "achievement already awarded", err)
		}
		return nil, fmt.Errorf("failed to award achievement: %w", err)
	}
	return pts, nil
}

// ListByUser returns earned achievements, newest first.
func (r *AchievementRepository) ListByUser(ctx context.Context, userID string) ([]*achievement.UserAchievement, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT ua.id, ua.user_id, ua.achievement_type, ua.title, ua.description, ua.icon_url,
		       COALESCE(at.category, ''), ua.points_earned, ua.earned_at
		FROM user_achievements ua
		LEFT JOIN achievement_types at ON at.type = ua.achievement_type
		WHERE ua.user_id = $1
		ORDER BY ua.earned_at DESC, ua.achievement_type
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", err)
	}
	defer rows.Close()

	out := []*achievement.UserAchievement{}
	for rows.Next() {
		var (
			ua            achievement.UserAchievement
			key, category string
		)
		err := rows.Scan(&ua.ID, &ua.UserID, &key, &ua.Title, &ua.Description, &ua.Icon,
			&category, &ua.PointsEarned, &ua.EarnedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		ua.Key = achievement.Key(key)
		ua.Category = achievement.Category(category)
		out = append(out, &ua)
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Points
// ─────────────────────────────────────────────────────────────────────────────

// GetPoints returns the points row, or a zero row when the user has none.
func (r *AchievementRepository) GetPoints(ctx context.Context, userID string) (*achievement.UserPoints, error) {
	var p achievement.UserPoints
	err := r.conn.QueryRow(ctx, `
		SELECT user_id, total_points, current_level, level_title, updated_at
		FROM user_points
		WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.TotalPoints, &p.CurrentLevel, &p.LevelTitle, &p.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return achievement.NewUserPoints(userID), nil
		}
		return nil, fmt.Errorf("failed to get points: %w", err)
	}
	return &p, nil
}

// TopPoints returns the leaderboard ordered by total points, ties broken by user id.
func (r *AchievementRepository) TopPoints(ctx context.Context, limit int) ([]achievement.LeaderboardEntry, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT p.user_id, COALESCE(NULLIF(u.display_name, ''), u.username, p.user_id),
		       p.total_points, p.current_level, p.level_title
		FROM user_points p
		LEFT JOIN users u ON u.id = p.user_id
		ORDER BY p.total_points DESC, p.user_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []achievement.LeaderboardEntry
	for rows.Next() {
		var e achievement.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.DisplayName, &e.TotalPoints, &e.CurrentLevel, &e.LevelTitle); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		e.Rank = len(out) + 1
		out = append(out, e)
	}
	return out, rows.Err()
}
