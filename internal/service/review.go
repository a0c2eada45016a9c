package service

import (
	"context"
	"iter"
	"strings"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/club-directory/internal/domainerr"
	"github.com/Shivanand-hulikatti/club-directory/internal/identity"
	"github.com/Shivanand-hulikatti/club-directory/internal/model"
)

// ReviewStore persists reviews keyed by (club, user). Upsert must be a
// single atomic insert-or-update and report whether it inserted.
type ReviewStore interface {
	Upsert(ctx context.Context, rev *model.Review) (created bool, err error)
	ListByClub(ctx context.Context, clubID string) iter.Seq2[model.Review, error]
	Summary(ctx context.Context, clubID string) (model.RatingSummary, error)
}

// ReviewService records member reviews and aggregates ratings.
type ReviewService struct {
	reviews   ReviewStore
	directory identity.Directory
	deps
}

// NewReviewService constructs a ReviewService with its dependencies.
func NewReviewService(reviews ReviewStore, directory identity.Directory, opts ...Option) *ReviewService {
	return &ReviewService{reviews: reviews, directory: directory, deps: newDeps(opts)}
}

const reviewServiceName = "ReviewService"

type upsertResult struct {
	review  *model.Review
	created bool
}

// UpsertReview creates the user's review of the club or replaces its rating
// and comment. created reports which of the two happened.
func (s *ReviewService) UpsertReview(ctx context.Context, clubID string, user model.MemberRef, rating int, comment string) (*model.Review, bool, error) {
	res, err := withTelemetry(ctx, &s.deps, reviewServiceName, "UpsertReview", clubID, func(ctx context.Context) (upsertResult, error) {
		key := model.CanonicalKey(user)
		if key == "" {
			return upsertResult{}, domainerr.New(domainerr.CodeUnauthorized, "member identity is required")
		}

		comment = strings.TrimSpace(comment)
		switch {
		case rating < model.MinRating || rating > model.MaxRating:
			return upsertResult{}, validation("rating must be between 1 and 5")
		case comment == "":
			return upsertResult{}, validation("comment is required")
		}
		if !validID(clubID) {
			return upsertResult{}, domainerr.New(domainerr.CodeNotFound, "club not found")
		}

		rev := &model.Review{
			ID:        uuid.NewString(),
			ClubID:    clubID,
			UserID:    model.UserID(key),
			Rating:    rating,
			Comment:   comment,
			UpdatedAt: s.now().UTC(),
		}
		created, err := s.reviews.Upsert(ctx, rev)
		if err != nil {
			return upsertResult{}, translate(err, "club not found")
		}
		s.metrics.RecordReview(created)

		if names, err := s.directory.DisplayNames(ctx, []model.UserID{rev.UserID}); err == nil {
			rev.UserName = names[rev.UserID]
		}
		return upsertResult{review: rev, created: created}, nil
	})
	if err != nil {
		return nil, false, err
	}
	return res.review, res.created, nil
}

// ListReviews streams the club's reviews with reviewer display names.
// A club without reviews yields nothing.
func (s *ReviewService) ListReviews(ctx context.Context, clubID string) iter.Seq2[model.Review, error] {
	seq := func(yield func(model.Review, error) bool) {
		if !validID(clubID) {
			yield(model.Review{}, domainerr.New(domainerr.CodeNotFound, "club not found"))
			return
		}

		var reviews []model.Review
		for rev, err := range s.reviews.ListByClub(ctx, clubID) {
			if err != nil {
				yield(model.Review{}, translate(err, "club not found"))
				return
			}
			reviews = append(reviews, rev)
		}
		if len(reviews) == 0 {
			return
		}

		ids := make([]model.UserID, len(reviews))
		for i := range reviews {
			ids[i] = reviews[i].UserID
		}
		names, err := s.directory.DisplayNames(ctx, ids)
		if err != nil {
			s.logger.WarnContext(ctx, "reviewer name lookup failed", "club_id", clubID, "error", err)
		}
		for _, rev := range reviews {
			rev.UserName = names[model.UserID(model.CanonicalKey(rev.UserID))]
			if !yield(rev, nil) {
				return
			}
		}
	}
	return tracedSeq(&s.deps, ctx, reviewServiceName, "ListReviews", clubID, seq)
}

// AverageRating aggregates the club's current reviews. The result's Average
// is nil when there are none; it is never reported as zero.
func (s *ReviewService) AverageRating(ctx context.Context, clubID string) (model.RatingSummary, error) {
	return withTelemetry(ctx, &s.deps, reviewServiceName, "AverageRating", clubID, func(ctx context.Context) (model.RatingSummary, error) {
		if !validID(clubID) {
			return model.RatingSummary{}, domainerr.New(domainerr.CodeNotFound, "club not found")
		}
		summary, err := s.reviews.Summary(ctx, clubID)
		if err != nil {
			return model.RatingSummary{}, translate(err, "club not found")
		}
		summary.ClubID = clubID
		return summary, nil
	})
}
