// Package auth verifies and issues the bearer tokens that identify
// collaborators, and backs the register/login endpoints.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kartikbazzad/bunbase/collab/internal/models"
)

// ErrNoSecret is returned when no signing secret is configured.
var ErrNoSecret = errors.New("no secret configured")

// Claims holds JWT claims.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// Verifier checks a bearer token and returns the identity it carries.
type Verifier interface {
	Verify(token string) (models.Identity, error)
}

// JWT signs and verifies HMAC tokens with one shared secret.
type JWT struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewJWT creates a JWT verifier/issuer.
func NewJWT(secret, issuer string, ttl time.Duration) *JWT {
	return &JWT{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// Verify parses and validates tokenString. Only HMAC signing methods are
// accepted and the subject must be present.
func (j *JWT) Verify(tokenString string) (models.Identity, error) {
	if len(j.secret) == 0 {
		return models.Identity{}, ErrNoSecret
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return j.secret, nil
	})
	if err != nil {
		return models.Identity{}, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return models.Identity{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return models.Identity{}, errors.New("token has no subject")
	}
	return models.Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// Issue creates an HS256 token for id that expires after the configured TTL.
func (j *JWT) Issue(id models.Identity) (string, error) {
	if len(j.secret) == 0 {
		return "", ErrNoSecret
	}
	now := time.Now().UTC()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
		Email: id.Email,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}
