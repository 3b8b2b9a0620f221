package achievement

import "context"

// Repository stores the catalog, earned achievements and points.
type Repository interface {
	// ListTypes returns the catalog ordered by category then points descending.
	ListTypes(ctx context.Context) ([]Type, error)

	// GetType returns a catalog entry.
	// Returns shared.ErrAchievementTypeNotFound when the key is unknown.
	GetType(ctx context.Context, key Key) (*Type, error)

	// Has reports whether the user already earned the key.
	Has(ctx context.Context, userID string, key Key) (bool, error)

	// Award inserts ua and adds ua.PointsEarned to the user's points in one
	// transaction, returning the updated points row.
	// Returns an ErrAlreadyExists error when (user, key) is already stored;
	// in that case nothing is written.
	Award(ctx context.Context, ua *UserAchievement) (*UserPoints, error)

	// ListByUser returns earned achievements, newest first.
	ListByUser(ctx context.Context, userID string) ([]*UserAchievement, error)

	// GetPoints returns the points row, or a zero row when the user has none.
	GetPoints(ctx context.Context, userID string) (*UserPoints, error)

	// TopPoints returns the leaderboard ordered by total points descending.
	TopPoints(ctx context.Context, limit int) ([]LeaderboardEntry, error)
}
