package repository

import (
	"context"
	"slices"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/club-directory/internal/model"
)

// UserRepository reads and seeds identity records in the users table.
// Club and review operations never write here.
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository constructs a UserRepository.
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// Upsert stores id under its canonical key.
func (r *UserRepository) Upsert(ctx context.Context, id model.Identity) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (id, username, role) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, role = EXCLUDED.role`,
		model.CanonicalKey(id), id.Username, string(id.Role),
	)
	if err != nil {
		return storeErr("upsert user", err)
	}
	return nil
}

// DisplayNames returns usernames for the given ids. Unknown ids are absent
// from the result.
func (r *UserRepository) DisplayNames(ctx context.Context, ids []model.UserID) (map[model.UserID]string, error) {
	out := make(map[model.UserID]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = model.CanonicalKey(id)
	}

	rows, err := r.db.Query(ctx, `SELECT id, username FROM users WHERE id = ANY($1)`, keys)
	if err != nil {
		return nil, storeErr("display names", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, storeErr("scan user", err)
		}
		out[model.UserID(id)] = name
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("display names", err)
	}
	return out, nil
}

// FindOrganizers returns the ids of organizers whose username contains
// substr, case-insensitively.
func (r *UserRepository) FindOrganizers(ctx context.Context, substr string) ([]model.UserID, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM users WHERE role = $1 AND username ILIKE $2 ORDER BY id`,
		string(model.RoleOrganizer), likePattern(substr),
	)
	if err != nil {
		return nil, storeErr("find organizers", err)
	}
	defer rows.Close()

	ids := []model.UserID{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("scan user", err)
		}
		ids = append(ids, model.UserID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("find organizers", err)
	}
	return ids, nil
}

// InMemoryUserStore is the process-local counterpart of UserRepository.
type InMemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]model.Identity
}

// NewInMemoryUserStore returns a store seeded with users.
func NewInMemoryUserStore(users ...model.Identity) *InMemoryUserStore {
	s := &InMemoryUserStore{users: make(map[string]model.Identity)}
	for _, u := range users {
		_ = s.Upsert(context.Background(), u)
	}
	return s
}

func (s *InMemoryUserStore) Upsert(_ context.Context, id model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := model.CanonicalKey(id)
	id.ID = model.UserID(key)
	s.users[key] = id
	return nil
}

func (s *InMemoryUserStore) DisplayNames(_ context.Context, ids []model.UserID) (map[model.UserID]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[model.UserID]string, len(ids))
	for _, id := range ids {
		if u, ok := s.users[model.CanonicalKey(id)]; ok {
			out[u.ID] = u.Username
		}
	}
	return out, nil
}

func (s *InMemoryUserStore) FindOrganizers(_ context.Context, substr string) ([]model.UserID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := []model.UserID{}
	for _, u := range s.users {
		if u.Role == model.RoleOrganizer && containsFold(u.Username, substr) {
			ids = append(ids, u.ID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}
