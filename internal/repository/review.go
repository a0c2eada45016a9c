package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/club-directory/internal/model"
)

const reviewColumns = `id, club_id, user_id, rating, comment, created_at, updated_at`

// ReviewRepository handles persistence for reviews.
type ReviewRepository struct {
	db *pgxpool.Pool
}

// NewReviewRepository constructs a ReviewRepository.
func NewReviewRepository(db *pgxpool.Pool) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Upsert inserts the review or, when (club, user) already has one, replaces
// its rating and comment in place. The id and created_at of an existing
// review are preserved and written back into rev. The unique constraint
// makes concurrent submissions for the same pair converge on one row.
func (r *ReviewRepository) Upsert(ctx context.Context, rev *model.Review) (bool, error) {
	var (
		created bool
		userID  string
	)
	err := r.db.QueryRow(ctx,
		`INSERT INTO reviews (id, club_id, user_id, rating, comment, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 ON CONFLICT (club_id, user_id) DO UPDATE
		 SET rating = EXCLUDED.rating, comment = EXCLUDED.comment, updated_at = EXCLUDED.updated_at
		 RETURNING `+reviewColumns+`, (xmax = 0) AS inserted`,
		rev.ID, rev.ClubID, model.CanonicalKey(rev.UserID), rev.Rating, rev.Comment, rev.UpdatedAt,
	).Scan(&rev.ID, &rev.ClubID, &userID, &rev.Rating, &rev.Comment, &rev.CreatedAt, &rev.UpdatedAt, &created)
	if err != nil {
		switch pgErrorCode(err) {
		case sqlStateForeignKeyViolation, sqlStateInvalidText:
			return false, ErrNotFound
		}
		return false, storeErr("upsert review", err)
	}
	rev.UserID = model.UserID(userID)
	return created, nil
}

// ListByClub returns a lazy sequence of the club's reviews, newest first.
func (r *ReviewRepository) ListByClub(ctx context.Context, clubID string) iter.Seq2[model.Review, error] {
	return func(yield func(model.Review, error) bool) {
		rows, err := r.db.Query(ctx,
			`SELECT `+reviewColumns+` FROM reviews WHERE club_id = $1 ORDER BY updated_at DESC, id`,
			clubID,
		)
		if err != nil {
			yield(model.Review{}, storeErr("list reviews", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rev, err := scanReview(rows)
			if err != nil {
				yield(model.Review{}, fmt.Errorf("scan review: %w", err))
				return
			}
			if !yield(rev, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Review{}, storeErr("list reviews", err))
		}
	}
}

// Summary aggregates the live review set of a club in one statement.
func (r *ReviewRepository) Summary(ctx context.Context, clubID string) (model.RatingSummary, error) {
	summary := model.RatingSummary{ClubID: clubID}
	err := r.db.QueryRow(ctx,
		`SELECT count(*), avg(rating)::float8 FROM reviews WHERE club_id = $1`,
		clubID,
	).Scan(&summary.Count, &summary.Average)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || pgErrorCode(err) == sqlStateInvalidText {
			return summary, nil
		}
		return model.RatingSummary{}, storeErr("rating summary", err)
	}
	return summary, nil
}

func scanReview(row pgx.Row) (model.Review, error) {
	var (
		rev    model.Review
		userID string
	)
	if err := row.Scan(&rev.ID, &rev.ClubID, &userID, &rev.Rating, &rev.Comment, &rev.CreatedAt, &rev.UpdatedAt); err != nil {
		return model.Review{}, err
	}
	rev.UserID = model.UserID(userID)
	return rev, nil
}
