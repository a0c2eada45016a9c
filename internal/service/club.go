package service

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/club-directory/internal/domainerr"
	"github.com/Shivanand-hulikatti/club-directory/internal/identity"
	"github.com/Shivanand-hulikatti/club-directory/internal/model"
	"github.com/Shivanand-hulikatti/club-directory/internal/repository"
)

// MaxClubCapacity bounds maxCapacity on create.
const MaxClubCapacity = 100_000

// nameBatch is how many clubs are buffered per display-name lookup while
// streaming a list.
const nameBatch = 64

// ClubStore persists clubs. Membership mutations must be atomic in the
// store: the check and the write happen as one step.
type ClubStore interface {
	Create(ctx context.Context, club *model.Club) error
	GetByID(ctx context.Context, id string) (*model.Club, error)
	List(ctx context.Context, q repository.ClubQuery) iter.Seq2[model.Club, error]
	AddMember(ctx context.Context, clubID string, user model.MemberRef, at time.Time) (*model.Club, error)
	RemoveMember(ctx context.Context, clubID string, user model.MemberRef, at time.Time) (*model.Club, error)
	SetCurrentBook(ctx context.Context, clubID string, organizerID model.UserID, book model.Book, at time.Time) (*model.Club, error)
	Ping(ctx context.Context) error
}

// ClubService orchestrates club and membership operations.
type ClubService struct {
	clubs     ClubStore
	directory identity.Directory
	deps
}

// NewClubService constructs a ClubService with its dependencies.
func NewClubService(clubs ClubStore, directory identity.Directory, opts ...Option) *ClubService {
	return &ClubService{clubs: clubs, directory: directory, deps: newDeps(opts)}
}

const clubServiceName = "ClubService"

// CreateClub validates the request and stores a club with no members.
func (s *ClubService) CreateClub(ctx context.Context, organizer model.UserID, req model.CreateClubRequest) (*model.Club, error) {
	return withTelemetry(ctx, &s.deps, clubServiceName, "CreateClub", string(organizer), func(ctx context.Context) (*model.Club, error) {
		if model.CanonicalKey(organizer) == "" {
			return nil, domainerr.New(domainerr.CodeUnauthorized, "organizer identity is required")
		}

		req.Name = strings.TrimSpace(req.Name)
		req.Description = strings.TrimSpace(req.Description)
		req.Category = strings.TrimSpace(req.Category)
		req.CoverImage = strings.TrimSpace(req.CoverImage)
		switch {
		case req.Name == "":
			return nil, validation("name is required")
		case req.Description == "":
			return nil, validation("description is required")
		case req.Category == "":
			return nil, validation("category is required")
		case req.MaxCapacity <= 0:
			return nil, validation("max_capacity must be a positive integer")
		case req.MaxCapacity > MaxClubCapacity:
			return nil, domainerr.Newf(domainerr.CodeValidation, "max_capacity cannot exceed %d", MaxClubCapacity)
		}

		var book *model.Book
		if req.CurrentBook != nil {
			b, err := normalizeBook(req.CurrentBook.Title, req.CurrentBook.Author)
			if err != nil {
				return nil, err
			}
			book = &b
		}

		now := s.now().UTC()
		club := &model.Club{
			ID:          uuid.NewString(),
			Name:        req.Name,
			Description: req.Description,
			Category:    req.Category,
			CoverImage:  req.CoverImage,
			MaxCapacity: req.MaxCapacity,
			CurrentBook: book,
			OrganizerID: model.UserID(model.CanonicalKey(organizer)),
			Members:     []model.UserID{},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.clubs.Create(ctx, club); err != nil {
			return nil, translate(err, "club not found")
		}
		s.nameClub(ctx, club)
		return club, nil
	})
}

// ListClubs streams clubs matching the case-insensitive substring filters.
// The organizer filter is resolved against organizer usernames on every
// range; when nobody matches, the sequence is empty.
func (s *ClubService) ListClubs(ctx context.Context, filter model.ClubFilter) iter.Seq2[model.Club, error] {
	seq := func(yield func(model.Club, error) bool) {
		q := repository.ClubQuery{
			Name:     strings.TrimSpace(filter.Name),
			Category: strings.TrimSpace(filter.Category),
		}
		if organizer := strings.TrimSpace(filter.Organizer); organizer != "" {
			ids, err := s.directory.FindOrganizers(ctx, organizer)
			if err != nil {
				yield(model.Club{}, translate(err, "organizer not found"))
				return
			}
			if len(ids) == 0 {
				return
			}
			q.OrganizerIDs = ids
		}
		for club, err := range s.named(ctx, s.clubs.List(ctx, q)) {
			if !yield(club, err) || err != nil {
				return
			}
		}
	}
	return tracedSeq(&s.deps, ctx, clubServiceName, "ListClubs", filter.Name, seq)
}

// ListOrganizerClubs streams the clubs organizer created.
func (s *ClubService) ListOrganizerClubs(ctx context.Context, organizer model.UserID) iter.Seq2[model.Club, error] {
	q := repository.ClubQuery{OrganizerIDs: []model.UserID{model.UserID(model.CanonicalKey(organizer))}}
	return tracedSeq(&s.deps, ctx, clubServiceName, "ListOrganizerClubs", string(organizer), s.named(ctx, s.clubs.List(ctx, q)))
}

// ListJoinedClubs streams the clubs whose member set contains user.
func (s *ClubService) ListJoinedClubs(ctx context.Context, user model.MemberRef) iter.Seq2[model.Club, error] {
	key := model.CanonicalKey(user)
	if key == "" {
		return func(func(model.Club, error) bool) {}
	}
	q := repository.ClubQuery{Member: model.UserID(key)}
	return tracedSeq(&s.deps, ctx, clubServiceName, "ListJoinedClubs", key, s.named(ctx, s.clubs.List(ctx, q)))
}

// GetClub returns a single club with its organizer's display name.
func (s *ClubService) GetClub(ctx context.Context, id string) (*model.Club, error) {
	return withTelemetry(ctx, &s.deps, clubServiceName, "GetClub", id, func(ctx context.Context) (*model.Club, error) {
		if !validID(id) {
			return nil, domainerr.New(domainerr.CodeNotFound, "club not found")
		}
		club, err := s.clubs.GetByID(ctx, id)
		if err != nil {
			return nil, translate(err, "club not found")
		}
		s.nameClub(ctx, club)
		return club, nil
	})
}

// JoinClub adds user to the club in one atomic store step. On failure the
// club is unchanged and the error carries CodeNotFound, CodeAlreadyMember
// or CodeClubFull.
func (s *ClubService) JoinClub(ctx context.Context, clubID string, user model.MemberRef) (*model.Club, error) {
	return s.changeMembership(ctx, "JoinClub", "join", clubID, user, s.clubs.AddMember)
}

// LeaveClub removes user from the club in one atomic store step.
func (s *ClubService) LeaveClub(ctx context.Context, clubID string, user model.MemberRef) (*model.Club, error) {
	return s.changeMembership(ctx, "LeaveClub", "leave", clubID, user, s.clubs.RemoveMember)
}

type membershipOp func(ctx context.Context, clubID string, user model.MemberRef, at time.Time) (*model.Club, error)

func (s *ClubService) changeMembership(ctx context.Context, operation, action, clubID string, user model.MemberRef, apply membershipOp) (*model.Club, error) {
	return withTelemetry(ctx, &s.deps, clubServiceName, operation, clubID, func(ctx context.Context) (*model.Club, error) {
		if model.CanonicalKey(user) == "" {
			return nil, domainerr.New(domainerr.CodeUnauthorized, "member identity is required")
		}
		if !validID(clubID) {
			s.metrics.RecordMembership(action, string(domainerr.CodeNotFound))
			return nil, domainerr.New(domainerr.CodeNotFound, "club not found")
		}

		club, err := apply(ctx, clubID, user, s.now().UTC())
		if err != nil {
			err = translate(err, "club not found")
			s.metrics.RecordMembership(action, string(domainerr.CodeOf(err)))
			return nil, err
		}
		s.metrics.RecordMembership(action, "ok")
		s.nameClub(ctx, club)
		return club, nil
	})
}

// UpdateCurrentBook overwrites the club's current book. A missing club and a
// caller who does not organize it are indistinguishable to the caller.
func (s *ClubService) UpdateCurrentBook(ctx context.Context, clubID string, organizer model.UserID, req model.UpdateBookRequest) (*model.Book, error) {
	return withTelemetry(ctx, &s.deps, clubServiceName, "UpdateCurrentBook", clubID, func(ctx context.Context) (*model.Book, error) {
		book, err := normalizeBook(req.Title, req.Author)
		if err != nil {
			return nil, err
		}
		if !validID(clubID) {
			return nil, domainerr.New(domainerr.CodeNotFoundOrUnauthorized, "club not found or not organized by you")
		}

		club, err := s.clubs.SetCurrentBook(ctx, clubID, model.UserID(model.CanonicalKey(organizer)), book, s.now().UTC())
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, domainerr.Wrap(err, domainerr.CodeNotFoundOrUnauthorized, "club not found or not organized by you")
			}
			return nil, translate(err, "club not found")
		}
		return club.CurrentBook, nil
	})
}

// Health reports whether the club store is reachable.
func (s *ClubService) Health(ctx context.Context) error {
	if err := s.clubs.Ping(ctx); err != nil {
		return domainerr.Wrap(err, domainerr.CodeStoreUnavailable, "store unavailable")
	}
	return nil
}

func normalizeBook(title, author string) (model.Book, error) {
	book := model.Book{Title: strings.TrimSpace(title), Author: strings.TrimSpace(author)}
	switch {
	case book.Title == "":
		return model.Book{}, validation("book title is required")
	case book.Author == "":
		return model.Book{}, validation("book author is required")
	}
	return book, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// nameClub fills OrganizerName. Lookup failures leave it empty; a display
// name is never worth failing a read.
func (s *ClubService) nameClub(ctx context.Context, club *model.Club) {
	names, err := s.directory.DisplayNames(ctx, []model.UserID{club.OrganizerID})
	if err != nil {
		s.logger.WarnContext(ctx, "organizer name lookup failed", "club_id", club.ID, "error", err)
		return
	}
	club.OrganizerName = names[model.UserID(model.CanonicalKey(club.OrganizerID))]
}

// named translates store errors and fills organizer names in batches.
func (s *ClubService) named(ctx context.Context, seq iter.Seq2[model.Club, error]) iter.Seq2[model.Club, error] {
	return func(yield func(model.Club, error) bool) {
		batch := make([]model.Club, 0, nameBatch)
		flush := func() bool {
			ids := make([]model.UserID, len(batch))
			for i := range batch {
				ids[i] = batch[i].OrganizerID
			}
			names, err := s.directory.DisplayNames(ctx, ids)
			if err != nil {
				s.logger.WarnContext(ctx, "organizer name lookup failed", "error", err)
			}
			for _, club := range batch {
				club.OrganizerName = names[model.UserID(model.CanonicalKey(club.OrganizerID))]
				if !yield(club, nil) {
					return false
				}
			}
			batch = batch[:0]
			return true
		}

		for club, err := range seq {
			if err != nil {
				if flush() {
					yield(model.Club{}, translate(err, "club not found"))
				}
				return
			}
			batch = append(batch, club)
			if len(batch) == nameBatch && !flush() {
				return
			}
		}
		if len(batch) > 0 {
			flush()
		}
	}
}
