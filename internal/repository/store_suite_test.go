package repository

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/Shivanand-hulikatti/club-directory/internal/model"
)

type clubStore interface {
	Create(ctx context.Context, club *model.Club) error
	GetByID(ctx context.Context, id string) (*model.Club, error)
	List(ctx context.Context, q ClubQuery) iter.Seq2[model.Club, error]
	AddMember(ctx context.Context, clubID string, user model.MemberRef, at time.Time) (*model.Club, error)
	RemoveMember(ctx context.Context, clubID string, user model.MemberRef, at time.Time) (*model.Club, error)
	SetCurrentBook(ctx context.Context, clubID string, organizerID model.UserID, book model.Book, at time.Time) (*model.Club, error)
}

type reviewStore interface {
	Upsert(ctx context.Context, rev *model.Review) (bool, error)
	ListByClub(ctx context.Context, clubID string) iter.Seq2[model.Review, error]
	Summary(ctx context.Context, clubID string) (model.RatingSummary, error)
}

// StoreSuite runs the same behavioural checks against every store backend.
type StoreSuite struct {
	suite.Suite
	ctx     context.Context
	clubs   clubStore
	reviews reviewStore
	reset   func() (clubStore, reviewStore)
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.clubs, s.reviews = s.reset()
}

func (s *StoreSuite) newClub(capacity int) *model.Club {
	now := time.Now().UTC().Truncate(time.Microsecond)
	club := &model.Club{
		ID:          uuid.NewString(),
		Name:        gofakeit.BookTitle(),
		Description: gofakeit.Sentence(8),
		Category:    gofakeit.BookGenre(),
		MaxCapacity: capacity,
		OrganizerID: model.UserID("org-" + gofakeit.LetterN(6)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.Require().NoError(s.clubs.Create(s.ctx, club))
	return club
}

func collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *StoreSuite) TestCreateAndGet() {
	s.Run("new club starts with no members", func() {
		club := s.newClub(3)
		got, err := s.clubs.GetByID(s.ctx, club.ID)
		s.Require().NoError(err)
		s.Equal(club.Name, got.Name)
		s.Empty(got.Members)
		s.Equal(3, got.OpenSpots())
	})

	s.Run("unknown id is not found", func() {
		_, err := s.clubs.GetByID(s.ctx, uuid.NewString())
		s.ErrorIs(err, ErrNotFound)
	})
}

func (s *StoreSuite) TestCapacityScenario() {
	club := s.newClub(2)
	now := time.Now()

	got, err := s.clubs.AddMember(s.ctx, club.ID, model.UserID("a"), now)
	s.Require().NoError(err)
	s.Equal(1, got.OpenSpots())

	got, err = s.clubs.AddMember(s.ctx, club.ID, model.UserID("b"), now)
	s.Require().NoError(err)
	s.Equal(0, got.OpenSpots())

	_, err = s.clubs.AddMember(s.ctx, club.ID, model.UserID("c"), now)
	s.ErrorIs(err, ErrClubFull)

	_, err = s.clubs.AddMember(s.ctx, club.ID, model.UserID("a"), now)
	s.ErrorIs(err, ErrAlreadyMember)

	got, err = s.clubs.RemoveMember(s.ctx, club.ID, model.UserID("a"), now)
	s.Require().NoError(err)
	s.Equal([]model.UserID{"b"}, got.Members)

	got, err = s.clubs.AddMember(s.ctx, club.ID, model.UserID("c"), now)
	s.Require().NoError(err)
	s.ElementsMatch([]model.UserID{"b", "c"}, got.Members)
}

func (s *StoreSuite) TestMembershipErrors() {
	club := s.newClub(1)

	s.Run("join unknown club", func() {
		_, err := s.clubs.AddMember(s.ctx, uuid.NewString(), model.UserID("a"), time.Now())
		s.ErrorIs(err, ErrNotFound)
	})

	s.Run("leave without membership", func() {
		_, err := s.clubs.RemoveMember(s.ctx, club.ID, model.UserID("a"), time.Now())
		s.ErrorIs(err, ErrNotMember)
	})

	s.Run("leave unknown club", func() {
		_, err := s.clubs.RemoveMember(s.ctx, uuid.NewString(), model.UserID("a"), time.Now())
		s.ErrorIs(err, ErrNotFound)
	})

	s.Run("member identity is compared canonically", func() {
		_, err := s.clubs.AddMember(s.ctx, club.ID, model.Identity{ID: "Reader-1", Username: "reader"}, time.Now())
		s.Require().NoError(err)
		_, err = s.clubs.AddMember(s.ctx, club.ID, model.UserID(" reader-1 "), time.Now())
		s.ErrorIs(err, ErrAlreadyMember)
	})
}

func (s *StoreSuite) TestConcurrentJoinLastSpot() {
	club := s.newClub(1)

	var (
		wg      sync.WaitGroup
		results = make([]error, 2)
	)
	for i, user := range []model.UserID{"first", "second"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = s.clubs.AddMember(s.ctx, club.ID, user, time.Now())
		}()
	}
	wg.Wait()

	var ok, full int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case s.ErrorIs(err, ErrClubFull):
			full++
		}
	}
	s.Equal(1, ok)
	s.Equal(1, full)

	got, err := s.clubs.GetByID(s.ctx, club.ID)
	s.Require().NoError(err)
	s.Len(got.Members, 1)
}

func (s *StoreSuite) TestConcurrentJoinNeverExceedsCapacity() {
	const capacity, joiners = 5, 40
	club := s.newClub(capacity)

	var wg sync.WaitGroup
	for i := range joiners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user := model.UserID(fmt.Sprintf("reader-%d", i))
			_, _ = s.clubs.AddMember(s.ctx, club.ID, user, time.Now())
		}()
	}
	wg.Wait()

	got, err := s.clubs.GetByID(s.ctx, club.ID)
	s.Require().NoError(err)
	s.Len(got.Members, capacity)
	seen := map[string]bool{}
	for _, m := range got.Members {
		s.False(seen[model.CanonicalKey(m)], "duplicate member %s", m)
		seen[model.CanonicalKey(m)] = true
	}
}

func (s *StoreSuite) TestList() {
	mystery := s.newClub(4)
	other := s.newClub(4)

	s.Run("no filters returns everything", func() {
		all, err := collect(s.clubs.List(s.ctx, ClubQuery{}))
		s.Require().NoError(err)
		s.Len(all, 2)
	})

	s.Run("name and category filters are case-insensitive substrings", func() {
		named := &model.Club{
			ID: uuid.NewString(), Name: "Midnight Mysteries 100%", Description: "whodunits",
			Category: "Crime_Fiction", MaxCapacity: 3, OrganizerID: "org-named",
			CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		}
		s.Require().NoError(s.clubs.Create(s.ctx, named))

		got, err := collect(s.clubs.List(s.ctx, ClubQuery{Name: "night MYST"}))
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal(named.ID, got[0].ID)

		got, err = collect(s.clubs.List(s.ctx, ClubQuery{Name: "100%", Category: "crime_"}))
		s.Require().NoError(err)
		s.Require().Len(got, 1)

		got, err = collect(s.clubs.List(s.ctx, ClubQuery{Name: "mysteries", Category: "romance"}))
		s.Require().NoError(err)
		s.Empty(got)
	})

	s.Run("organizer filter restricts result", func() {
		got, err := collect(s.clubs.List(s.ctx, ClubQuery{OrganizerIDs: []model.UserID{other.OrganizerID}}))
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal(other.ID, got[0].ID)
	})

	s.Run("empty organizer set matches nothing", func() {
		got, err := collect(s.clubs.List(s.ctx, ClubQuery{OrganizerIDs: []model.UserID{}}))
		s.Require().NoError(err)
		s.Empty(got)
	})

	s.Run("member filter", func() {
		_, err := s.clubs.AddMember(s.ctx, mystery.ID, model.UserID("reader"), time.Now())
		s.Require().NoError(err)
		got, err := collect(s.clubs.List(s.ctx, ClubQuery{Member: "READER"}))
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal(mystery.ID, got[0].ID)
	})

	s.Run("sequence is restartable", func() {
		seq := s.clubs.List(s.ctx, ClubQuery{})
		first, err := collect(seq)
		s.Require().NoError(err)
		second, err := collect(seq)
		s.Require().NoError(err)
		s.Equal(len(first), len(second))
	})
}

func (s *StoreSuite) TestSetCurrentBook() {
	club := s.newClub(2)
	book := model.Book{Title: "Piranesi", Author: "Susanna Clarke"}

	got, err := s.clubs.SetCurrentBook(s.ctx, club.ID, club.OrganizerID, book, time.Now())
	s.Require().NoError(err)
	s.Equal(&book, got.CurrentBook)

	_, err = s.clubs.SetCurrentBook(s.ctx, club.ID, "someone-else", book, time.Now())
	s.ErrorIs(err, ErrNotFound)

	_, err = s.clubs.SetCurrentBook(s.ctx, uuid.NewString(), club.OrganizerID, book, time.Now())
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) review(clubID string, user model.UserID, rating int) *model.Review {
	return &model.Review{
		ID:        uuid.NewString(),
		ClubID:    clubID,
		UserID:    user,
		Rating:    rating,
		Comment:   gofakeit.Sentence(5),
		UpdatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *StoreSuite) TestReviewUpsert() {
	club := s.newClub(5)

	first := s.review(club.ID, "u1", 4)
	created, err := s.reviews.Upsert(s.ctx, first)
	s.Require().NoError(err)
	s.True(created)

	second := s.review(club.ID, "u1", 2)
	created, err = s.reviews.Upsert(s.ctx, second)
	s.Require().NoError(err)
	s.False(created)
	s.Equal(first.ID, second.ID, "existing review keeps its id")

	all, err := collect(s.reviews.ListByClub(s.ctx, club.ID))
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.Equal(2, all[0].Rating)

	summary, err := s.reviews.Summary(s.ctx, club.ID)
	s.Require().NoError(err)
	s.Equal(1, summary.Count)
	s.Require().NotNil(summary.Average)
	s.InDelta(2.0, *summary.Average, 1e-9)
}

func (s *StoreSuite) TestReviewUnknownClub() {
	_, err := s.reviews.Upsert(s.ctx, s.review(uuid.NewString(), "u1", 3))
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) TestSummary() {
	club := s.newClub(5)

	s.Run("empty club has no average", func() {
		summary, err := s.reviews.Summary(s.ctx, club.ID)
		s.Require().NoError(err)
		s.Zero(summary.Count)
		s.Nil(summary.Average)
		s.False(summary.HasRatings())
	})

	s.Run("average over distinct users", func() {
		for user, rating := range map[model.UserID]int{"u1": 5, "u2": 4, "u3": 3} {
			_, err := s.reviews.Upsert(s.ctx, s.review(club.ID, user, rating))
			s.Require().NoError(err)
		}
		summary, err := s.reviews.Summary(s.ctx, club.ID)
		s.Require().NoError(err)
		s.Equal(3, summary.Count)
		s.Require().NotNil(summary.Average)
		s.InDelta(4.0, *summary.Average, 1e-9)
	})
}

func (s *StoreSuite) TestConcurrentUpsertSameKey() {
	club := s.newClub(5)

	var wg sync.WaitGroup
	for rating := model.MinRating; rating <= model.MaxRating; rating++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.reviews.Upsert(s.ctx, s.review(club.ID, "same-user", rating))
			s.NoError(err)
		}()
	}
	wg.Wait()

	all, err := collect(s.reviews.ListByClub(s.ctx, club.ID))
	s.Require().NoError(err)
	s.Len(all, 1)
}
