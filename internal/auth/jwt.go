// Package auth verifies bearer tokens and carries the caller identity
// through the request context.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/club-directory/internal/domainerr"
	"github.com/Shivanand-hulikatti/club-directory/internal/model"
)

// Claims are the access-token claims. Subject carries the user id.
type Claims struct {
	Role     model.Role `json:"role"`
	Username string     `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// JWTService signs and validates HS256 access tokens.
type JWTService struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
}

// NewJWTService constructs a JWTService.
func NewJWTService(signingKey, issuer string) *JWTService {
	return &JWTService{signingKey: []byte(signingKey), issuer: issuer, now: time.Now}
}

// GenerateToken mints a token for id valid for expiresIn.
func (s *JWTService) GenerateToken(id model.Identity, expiresIn time.Duration) (string, error) {
	if !id.Role.Valid() {
		return "", domainerr.Newf(domainerr.CodeValidation, "unknown role %q", id.Role)
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:     id.Role,
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   model.CanonicalKey(id),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// ValidateToken verifies signature, issuer and expiry and returns the
// identity the token was issued for.
func (s *JWTService) ValidateToken(tokenString string) (model.Identity, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return model.Identity{}, domainerr.Wrap(err, domainerr.CodeUnauthorized, "token has expired")
		}
		return model.Identity{}, domainerr.Wrap(err, domainerr.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return model.Identity{}, domainerr.New(domainerr.CodeUnauthorized, "invalid token claims")
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return model.Identity{}, domainerr.New(domainerr.CodeUnauthorized, "token is missing subject or role")
	}
	return model.Identity{
		ID:       model.UserID(model.CanonicalKey(model.UserID(claims.Subject))),
		Username: claims.Username,
		Role:     claims.Role,
	}, nil
}
