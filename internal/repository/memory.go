package repository

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/club-directory/internal/model"
)

// InMemoryClubStore keeps clubs in process memory. Every mutation runs under
// a single lock, which is the serialization point the Postgres store gets
// from its conditional UPDATE.
type InMemoryClubStore struct {
	mu    sync.RWMutex
	clubs map[string]*model.Club
	order []string
}

// NewInMemoryClubStore returns an empty club store.
func NewInMemoryClubStore() *InMemoryClubStore {
	return &InMemoryClubStore{clubs: make(map[string]*model.Club)}
}

func (s *InMemoryClubStore) Create(_ context.Context, club *model.Club) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := club.Clone()
	stored.Members = []model.UserID{}
	s.clubs[stored.ID] = &stored
	s.order = append(s.order, stored.ID)
	return nil
}

func (s *InMemoryClubStore) GetByID(_ context.Context, id string) (*model.Club, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	club, ok := s.clubs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := club.Clone()
	return &out, nil
}

// Exists reports whether a club with id has been created.
func (s *InMemoryClubStore) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clubs[id]
	return ok
}

// List snapshots the matching clubs each time the sequence is ranged over.
func (s *InMemoryClubStore) List(ctx context.Context, q ClubQuery) iter.Seq2[model.Club, error] {
	return func(yield func(model.Club, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(model.Club{}, storeErr("list clubs", err))
			return
		}
		for _, club := range s.snapshot(q) {
			if !yield(club, nil) {
				return
			}
		}
	}
}

func (s *InMemoryClubStore) snapshot(q ClubQuery) []model.Club {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Club
	for _, id := range s.order {
		club := s.clubs[id]
		if q.matches(club) {
			out = append(out, club.Clone())
		}
	}
	return out
}

func (q ClubQuery) matches(c *model.Club) bool {
	if q.Name != "" && !containsFold(c.Name, q.Name) {
		return false
	}
	if q.Category != "" && !containsFold(c.Category, q.Category) {
		return false
	}
	if q.OrganizerIDs != nil && !slices.ContainsFunc(q.OrganizerIDs, func(id model.UserID) bool {
		return model.SameMember(id, c.OrganizerID)
	}) {
		return false
	}
	if q.Member != "" && !c.HasMember(q.Member) {
		return false
	}
	return true
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func (s *InMemoryClubStore) AddMember(_ context.Context, clubID string, user model.MemberRef, at time.Time) (*model.Club, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	club, ok := s.clubs[clubID]
	if !ok {
		return nil, ErrNotFound
	}
	if club.HasMember(user) {
		return nil, ErrAlreadyMember
	}
	if !club.AddMember(user) {
		return nil, ErrClubFull
	}
	club.UpdatedAt = at
	out := club.Clone()
	return &out, nil
}

func (s *InMemoryClubStore) RemoveMember(_ context.Context, clubID string, user model.MemberRef, at time.Time) (*model.Club, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	club, ok := s.clubs[clubID]
	if !ok {
		return nil, ErrNotFound
	}
	if !club.RemoveMember(user) {
		return nil, ErrNotMember
	}
	club.UpdatedAt = at
	out := club.Clone()
	return &out, nil
}

func (s *InMemoryClubStore) SetCurrentBook(_ context.Context, clubID string, organizerID model.UserID, book model.Book, at time.Time) (*model.Club, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	club, ok := s.clubs[clubID]
	if !ok || club.OrganizerID != organizerID {
		return nil, ErrNotFound
	}
	club.CurrentBook = &book
	club.UpdatedAt = at
	out := club.Clone()
	return &out, nil
}

func (s *InMemoryClubStore) Ping(context.Context) error { return nil }

type reviewKey struct {
	clubID string
	userID string
}

// InMemoryReviewStore keeps reviews in process memory, keyed by (club, user).
type InMemoryReviewStore struct {
	mu      sync.RWMutex
	clubs   *InMemoryClubStore
	reviews map[reviewKey]*model.Review
}

// NewInMemoryReviewStore returns an empty review store that checks club
// existence against clubs.
func NewInMemoryReviewStore(clubs *InMemoryClubStore) *InMemoryReviewStore {
	return &InMemoryReviewStore{
		clubs:   clubs,
		reviews: make(map[reviewKey]*model.Review),
	}
}

func (s *InMemoryReviewStore) Upsert(_ context.Context, rev *model.Review) (bool, error) {
	if !s.clubs.Exists(rev.ClubID) {
		return false, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := reviewKey{clubID: rev.ClubID, userID: model.CanonicalKey(rev.UserID)}
	rev.UserID = model.UserID(key.userID)

	existing, ok := s.reviews[key]
	if !ok {
		if rev.ID == "" {
			rev.ID = uuid.NewString()
		}
		rev.CreatedAt = rev.UpdatedAt
		stored := *rev
		s.reviews[key] = &stored
		return true, nil
	}

	existing.Rating = rev.Rating
	existing.Comment = rev.Comment
	existing.UpdatedAt = rev.UpdatedAt
	*rev = *existing
	return false, nil
}

func (s *InMemoryReviewStore) ListByClub(ctx context.Context, clubID string) iter.Seq2[model.Review, error] {
	return func(yield func(model.Review, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(model.Review{}, storeErr("list reviews", err))
			return
		}
		for _, rev := range s.byClub(clubID) {
			if !yield(rev, nil) {
				return
			}
		}
	}
}

func (s *InMemoryReviewStore) byClub(clubID string) []model.Review {
	s.mu.RLock()
	var out []model.Review
	for key, rev := range s.reviews {
		if key.clubID == clubID {
			out = append(out, *rev)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b model.Review) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (s *InMemoryReviewStore) Summary(_ context.Context, clubID string) (model.RatingSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := model.RatingSummary{ClubID: clubID}
	total := 0
	for key, rev := range s.reviews {
		if key.clubID != clubID {
			continue
		}
		summary.Count++
		total += rev.Rating
	}
	if summary.Count > 0 {
		avg := float64(total) / float64(summary.Count)
		summary.Average = &avg
	}
	return summary, nil
}
