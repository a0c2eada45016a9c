// Package model defines the core domain types for the club directory.
package model

import (
	"strings"
	"time"
)

// Role is the authorization role carried by a verified identity.
type Role string

const (
	RoleOrganizer Role = "organizer"
	RoleMember    Role = "member"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleOrganizer || r == RoleMember
}

// MemberRef is anything that can stand for a user inside a member set.
// Stores may hand back bare identifiers or full identity records; both
// satisfy MemberRef and normalise to the same CanonicalKey.
type MemberRef interface {
	MemberKey() string
}

// UserID is a bare user identifier.
type UserID string

// MemberKey implements MemberRef.
func (u UserID) MemberKey() string { return string(u) }

// Identity is a full user record as resolved by the identity directory.
type Identity struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// MemberKey implements MemberRef.
func (i Identity) MemberKey() string { return string(i.ID) }

// CanonicalKey is the single normalisation point for member comparisons.
// Every set-membership check compares canonical keys, never raw values.
func CanonicalKey(ref MemberRef) string {
	if ref == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(ref.MemberKey()))
}

// SameMember reports whether two references denote the same user.
func SameMember(a, b MemberRef) bool {
	ka := CanonicalKey(a)
	return ka != "" && ka == CanonicalKey(b)
}

// Book is the title/author pair a club is currently reading.
type Book struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

// Club represents a reading club created by an organizer.
type Club struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Category      string    `json:"category"`
	CoverImage    string    `json:"cover_image,omitempty"`
	MaxCapacity   int       `json:"max_capacity"`
	CurrentBook   *Book     `json:"current_book,omitempty"`
	OrganizerID   UserID    `json:"organizer_id"`
	OrganizerName string    `json:"organizer_name,omitempty"`
	Members       []UserID  `json:"members"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// OpenSpots returns the number of members that can still join.
func (c *Club) OpenSpots() int {
	if n := c.MaxCapacity - len(c.Members); n > 0 {
		return n
	}
	return 0
}

// IsFull returns true when no spots remain.
func (c *Club) IsFull() bool {
	return len(c.Members) >= c.MaxCapacity
}

// HasMember reports whether ref is already in the member set.
func (c *Club) HasMember(ref MemberRef) bool {
	return c.memberIndex(ref) >= 0
}

func (c *Club) memberIndex(ref MemberRef) int {
	key := CanonicalKey(ref)
	if key == "" {
		return -1
	}
	for i, m := range c.Members {
		if CanonicalKey(m) == key {
			return i
		}
	}
	return -1
}

// AddMember appends ref when it is absent and capacity allows.
// It returns false without mutating the club otherwise.
func (c *Club) AddMember(ref MemberRef) bool {
	if c.HasMember(ref) || c.IsFull() {
		return false
	}
	c.Members = append(c.Members, UserID(CanonicalKey(ref)))
	return true
}

// RemoveMember drops ref from the member set, reporting whether it was present.
func (c *Club) RemoveMember(ref MemberRef) bool {
	i := c.memberIndex(ref)
	if i < 0 {
		return false
	}
	c.Members = append(c.Members[:i:i], c.Members[i+1:]...)
	return true
}

// Clone returns a deep copy so callers never share the member slice.
func (c Club) Clone() Club {
	out := c
	out.Members = append([]UserID(nil), c.Members...)
	if c.CurrentBook != nil {
		b := *c.CurrentBook
		out.CurrentBook = &b
	}
	return out
}

// ClubView is the response shape for a club, including derived capacity.
type ClubView struct {
	Club
	OpenSpots int `json:"open_spots"`
}

// View wraps c with its derived fields.
func (c Club) View() ClubView {
	return ClubView{Club: c, OpenSpots: c.OpenSpots()}
}

// Review is one member's rating of one club. (ClubID, UserID) is unique.
type Review struct {
	ID        string    `json:"id"`
	ClubID    string    `json:"club_id"`
	UserID    UserID    `json:"user_id"`
	UserName  string    `json:"user_name,omitempty"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MinRating and MaxRating bound Review.Rating.
const (
	MinRating = 1
	MaxRating = 5
)

// RatingSummary aggregates the live review set of a club.
// Average is nil when the club has no reviews.
type RatingSummary struct {
	ClubID  string   `json:"club_id"`
	Count   int      `json:"count"`
	Average *float64 `json:"average"`
}

// HasRatings reports whether at least one review contributed to the summary.
func (r RatingSummary) HasRatings() bool {
	return r.Average != nil
}

// ClubFilter carries optional case-insensitive substring filters.
type ClubFilter struct {
	Name      string
	Category  string
	Organizer string
}

// CreateClubRequest is the payload for creating a new club.
type CreateClubRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	CoverImage  string `json:"cover_image"`
	MaxCapacity int    `json:"max_capacity"`
	CurrentBook *Book  `json:"current_book"`
}

// UpdateBookRequest is the payload for replacing a club's current book.
type UpdateBookRequest struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

// ReviewRequest is the payload for submitting or updating a review.
type ReviewRequest struct {
	ClubID  string `json:"club_id"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}
