package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCreds = errors.New("invalid credentials")
	ErrAuthDisabled = errors.New("admin access is not configured")
	ErrInvalidToken = errors.New("invalid or expired token")
)

const (
	adminSubject    = "admin"
	defaultTokenTTL = 12 * time.Hour
)

// TokenResponse is returned by a successful token exchange.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service exchanges the admin secret for short-lived HS256 tokens and validates them.
type Service struct {
	secretHash []byte // bcrypt hash of the admin secret
	jwtSecret  []byte
	ttl        time.Duration
	now        func() time.Time
}

// NewService builds a service from a bcrypt hash and a signing key. An empty hash
// disables token issuance; an empty key is replaced by an ephemeral random one.
func NewService(secretHash, jwtSecret string) (*Service, error) {
	key := []byte(strings.TrimSpace(jwtSecret))
	if len(key) == 0 {
		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate JWT fallback secret: %w", err)
		}
		key = []byte(base64.RawURLEncoding.EncodeToString(buf))
		log.Warn().Msg("JWT_SECRET is not set; using ephemeral in-memory fallback secret")
	}
	return &Service{
		secretHash: []byte(strings.TrimSpace(secretHash)),
		jwtSecret:  key,
		ttl:        defaultTokenTTL,
		now:        time.Now,
	}, nil
}

// NewServiceFromEnv reads ADMIN_SECRET_HASH and JWT_SECRET.
func NewServiceFromEnv() (*Service, error) {
	return NewService(os.Getenv("ADMIN_SECRET_HASH"), os.Getenv("JWT_SECRET"))
}

// HashSecret returns the bcrypt hash to put in ADMIN_SECRET_HASH.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing failed: %w", err)
	}
	return string(hash), nil
}

// IssueToken checks secret against the configured hash and signs a token.
func (s *Service) IssueToken(secret string) (*TokenResponse, error) {
	if len(s.secretHash) == 0 {
		return nil, ErrAuthDisabled
	}
	if err := bcrypt.CompareHashAndPassword(s.secretHash, []byte(secret)); err != nil {
		return nil, ErrInvalidCreds
	}

	now := s.now()
	expires := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   adminSubject,
		ID:        uuid.New().String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &TokenResponse{Token: token, ExpiresAt: expires.UTC()}, nil
}

// ParseToken validates a token and returns its id.
func (s *Service) ParseToken(tokenString string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithSubject(adminSubject))
	if err != nil || !token.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	id, err := uuid.Parse(claims.ID)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return id, nil
}
