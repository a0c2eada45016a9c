// Package repository implements persistence for clubs and reviews.
// It uses pgx directly (no ORM); an in-memory implementation with the same
// semantics backs tests and the memory store mode.
package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/club-directory/internal/model"
)

// ClubQuery selects clubs. Empty string fields are ignored. A nil
// OrganizerIDs slice means "any organizer"; a non-nil slice restricts the
// result to those organizers.
type ClubQuery struct {
	Name         string
	Category     string
	OrganizerIDs []model.UserID
	Member       model.UserID
}

const clubColumns = `id, name, description, category, cover_image, max_capacity,
	book_title, book_author, organizer_id, members, created_at, updated_at`

// ClubRepository handles persistence for clubs.
type ClubRepository struct {
	db *pgxpool.Pool
}

// NewClubRepository constructs a ClubRepository.
func NewClubRepository(db *pgxpool.Pool) *ClubRepository {
	return &ClubRepository{db: db}
}

// Create inserts a new club with an empty member set.
func (r *ClubRepository) Create(ctx context.Context, club *model.Club) error {
	var title, author *string
	if club.CurrentBook != nil {
		title, author = &club.CurrentBook.Title, &club.CurrentBook.Author
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO clubs (id, name, description, category, cover_image, max_capacity,
		                    book_title, book_author, organizer_id, members, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '{}', $10, $11)`,
		club.ID, club.Name, club.Description, club.Category, club.CoverImage, club.MaxCapacity,
		title, author, string(club.OrganizerID), club.CreatedAt, club.UpdatedAt,
	)
	if err != nil {
		return storeErr("insert club", err)
	}
	return nil
}

// GetByID returns a single club or ErrNotFound.
func (r *ClubRepository) GetByID(ctx context.Context, id string) (*model.Club, error) {
	row := r.db.QueryRow(ctx, `SELECT `+clubColumns+` FROM clubs WHERE id = $1`, id)
	club, err := scanClub(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || pgErrorCode(err) == sqlStateInvalidText {
			return nil, ErrNotFound
		}
		return nil, storeErr("get club", err)
	}
	return &club, nil
}

// List returns a lazy sequence of clubs matching q in creation order.
// Each range over the sequence runs the query afresh.
func (r *ClubRepository) List(ctx context.Context, q ClubQuery) iter.Seq2[model.Club, error] {
	return func(yield func(model.Club, error) bool) {
		sql, args := q.build()
		rows, err := r.db.Query(ctx, sql, args...)
		if err != nil {
			yield(model.Club{}, storeErr("list clubs", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			club, err := scanClub(rows)
			if err != nil {
				yield(model.Club{}, fmt.Errorf("scan club: %w", err))
				return
			}
			if !yield(club, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Club{}, storeErr("list clubs", err))
		}
	}
}

func (q ClubQuery) build() (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Name != "" {
		where = append(where, "name ILIKE "+arg(likePattern(q.Name)))
	}
	if q.Category != "" {
		where = append(where, "category ILIKE "+arg(likePattern(q.Category)))
	}
	if q.OrganizerIDs != nil {
		ids := make([]string, len(q.OrganizerIDs))
		for i, id := range q.OrganizerIDs {
			ids[i] = string(id)
		}
		where = append(where, "organizer_id = ANY("+arg(ids)+")")
	}
	if q.Member != "" {
		where = append(where, arg(model.CanonicalKey(q.Member))+" = ANY(members)")
	}

	sql := `SELECT ` + clubColumns + ` FROM clubs`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	return sql + " ORDER BY created_at, id", args
}

// AddMember appends user to the club's member set in a single conditional
// UPDATE. The duplicate and capacity guards are evaluated by Postgres against
// the locked row, so two concurrent joins can never both pass a stale check.
//
// When the guard rejects the update the row is re-read only to pick the
// error; the member set is never written on that path.
func (r *ClubRepository) AddMember(ctx context.Context, clubID string, user model.MemberRef, at time.Time) (*model.Club, error) {
	key := model.CanonicalKey(user)
	row := r.db.QueryRow(ctx,
		`UPDATE clubs
		 SET members = array_append(members, $2), updated_at = $3
		 WHERE id = $1
		   AND NOT ($2 = ANY(members))
		   AND cardinality(members) < max_capacity
		 RETURNING `+clubColumns,
		clubID, key, at,
	)
	club, err := scanClub(row)
	if err == nil {
		return &club, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) && pgErrorCode(err) != sqlStateInvalidText {
		return nil, storeErr("add member", err)
	}

	current, err := r.GetByID(ctx, clubID)
	if err != nil {
		return nil, err
	}
	if current.HasMember(user) {
		return nil, ErrAlreadyMember
	}
	// Either the club is full now, or it was full when the guard ran and a
	// member has left since. Both are a capacity rejection for this call.
	return nil, ErrClubFull
}

// RemoveMember removes user from the club's member set atomically.
func (r *ClubRepository) RemoveMember(ctx context.Context, clubID string, user model.MemberRef, at time.Time) (*model.Club, error) {
	key := model.CanonicalKey(user)
	row := r.db.QueryRow(ctx,
		`UPDATE clubs
		 SET members = array_remove(members, $2), updated_at = $3
		 WHERE id = $1 AND $2 = ANY(members)
		 RETURNING `+clubColumns,
		clubID, key, at,
	)
	club, err := scanClub(row)
	if err == nil {
		return &club, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) && pgErrorCode(err) != sqlStateInvalidText {
		return nil, storeErr("remove member", err)
	}

	if _, err := r.GetByID(ctx, clubID); err != nil {
		return nil, err
	}
	return nil, ErrNotMember
}

// SetCurrentBook overwrites the current book of a club owned by organizerID.
// It returns ErrNotFound when no club matches both the id and the owner.
func (r *ClubRepository) SetCurrentBook(ctx context.Context, clubID string, organizerID model.UserID, book model.Book, at time.Time) (*model.Club, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE clubs
		 SET book_title = $3, book_author = $4, updated_at = $5
		 WHERE id = $1 AND organizer_id = $2
		 RETURNING `+clubColumns,
		clubID, string(organizerID), book.Title, book.Author, at,
	)
	club, err := scanClub(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || pgErrorCode(err) == sqlStateInvalidText {
			return nil, ErrNotFound
		}
		return nil, storeErr("update current book", err)
	}
	return &club, nil
}

// Ping checks connectivity.
func (r *ClubRepository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

func scanClub(row pgx.Row) (model.Club, error) {
	var (
		c             model.Club
		organizer     string
		members       []string
		title, author *string
	)
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Category, &c.CoverImage, &c.MaxCapacity,
		&title, &author, &organizer, &members, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return model.Club{}, err
	}
	c.OrganizerID = model.UserID(organizer)
	c.Members = make([]model.UserID, len(members))
	for i, m := range members {
		c.Members[i] = model.UserID(m)
	}
	if title != nil || author != nil {
		c.CurrentBook = &model.Book{Title: deref(title), Author: deref(author)}
	}
	return c, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
