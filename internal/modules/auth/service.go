package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/georgemunganga/medassist-backend/internal/modules/user"
	"github.com/georgemunganga/medassist-backend/internal/platform/apperr"
	"github.com/georgemunganga/medassist-backend/internal/platform/identity"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const tokenTTL = 24 * time.Hour

// Service defines the interface for authentication-related business logic.
type Service interface {
	Login(ctx context.Context, email, password string) (*LoginResponse, error)
	IssueToken(u *user.User) (string, time.Time, error)
	ParseToken(token string) (identity.Identity, error)
}

// Claims is the JWT body: subject is the user id, role is the user's role.
type Claims struct {
	Role string `json:"role"`
	jwt.StandardClaims
}

// LoginResponse is returned by POST /auth/login.
type LoginResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      *user.User `json:"user"`
}

type service struct {
	userRepo user.Repository
	secret   []byte
	now      func() time.Time
}

// NewService creates a new auth service signing HS256 tokens with secret.
func NewService(userRepo user.Repository, secret string) Service {
	return &service{userRepo: userRepo, secret: []byte(secret), now: time.Now}
}

func (s *service) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	u, err := s.userRepo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("invalid credentials: %w", apperr.ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid credentials: %w", apperr.ErrUnauthorized)
	}

	token, expiresAt, err := s.IssueToken(u)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{Token: token, ExpiresAt: expiresAt, User: u}, nil
}

func (s *service) IssueToken(u *user.User) (string, time.Time, error) {
	now := s.now()
	expirationTime := now.Add(tokenTTL)
	claims := &Claims{
		Role: string(u.Role),
		StandardClaims: jwt.StandardClaims{
			Subject:   u.ID.String(),
			IssuedAt:  now.Unix(),
			ExpiresAt: expirationTime.Unix(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expirationTime, nil
}

func (s *service) ParseToken(tokenString string) (identity.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return identity.Identity{}, fmt.Errorf("parse token: %v: %w", err, apperr.ErrUnauthorized)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("token subject: %w", apperr.ErrUnauthorized)
	}
	role, ok := user.ParseRole(claims.Role)
	if !ok {
		return identity.Identity{}, fmt.Errorf("token role %q: %w", claims.Role, apperr.ErrUnauthorized)
	}
	return identity.Identity{UserID: userID, Role: string(role)}, nil
}
