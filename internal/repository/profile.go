package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProfileRepository answers the single fallback question the sign-in flow
// asks: which organization does a user belong to.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository constructs a repository.
func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// OrgID performs a point lookup in user_profiles selecting only the org
// column. No row, or a row with a null org, returns "" without an error;
// a user without an organization is a valid state.
func (r *ProfileRepository) OrgID(ctx context.Context, userID string) (string, error) {
	var orgID *string
	err := r.pool.QueryRow(ctx, `SELECT org_id FROM user_profiles WHERE user_id=$1`, userID).Scan(&orgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", classify("select profile", err)
	}
	if orgID == nil {
		return "", nil
	}
	return *orgID, nil
}
