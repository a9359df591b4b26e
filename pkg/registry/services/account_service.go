package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/glopm-dev/glopm-registry/pkg/registry/helpers/problem"
	"github.com/glopm-dev/glopm-registry/pkg/registry/models"
	"github.com/glopm-dev/glopm-registry/pkg/registry/repositories"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const sessionTokenTTL = 24 * time.Hour

// AccountService handles registration, login and credential verification.
// Removing an account cascades through the registry service so the user's
// packages, versions and blobs go with it.
type AccountService struct {
	users     repositories.UserRepository
	registry  *RegistryService
	jwtSecret []byte
}

func NewAccountService(users repositories.UserRepository, registry *RegistryService, jwtSecret []byte) *AccountService {
	return &AccountService{users: users, registry: registry, jwtSecret: jwtSecret}
}

func (s *AccountService) Register(ctx context.Context, in *models.RegisterInput) (*models.AuthResult, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, problem.NewInternalServerError("failed to hash password: " + err.Error())
	}
	apiKey, err := newApiKey()
	if err != nil {
		return nil, problem.NewInternalServerError("failed to generate api key: " + err.Error())
	}

	now := time.Now().UTC()
	user := &models.User{
		Id:           uuid.NewString(),
		Username:     in.Username,
		PasswordHash: string(hash),
		ApiKey:       apiKey,
		CreatedAt:    now,
		LastLoginAt:  now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if err == repositories.ErrDuplicate {
			return nil, problem.NewConflict("username", fmt.Sprintf("username %q is already taken", in.Username))
		}
		return nil, problem.NewInternalServerError("failed to store user: " + err.Error())
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, problem.NewInternalServerError("failed to issue token: " + err.Error())
	}
	return &models.AuthResult{UserId: user.Id, ApiKey: user.ApiKey, Token: token}, nil
}

func (s *AccountService) Login(ctx context.Context, in *models.LoginInput) (*models.AuthResult, error) {
	user, err := s.users.GetUserByUsername(ctx, in.Username)
	if err != nil {
		return nil, problem.NewInternalServerError("failed to look up user: " + err.Error())
	}
	if user == nil {
		return nil, problem.NewNotFound("username", fmt.Sprintf("no such user %q", in.Username))
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return nil, problem.NewUnauthorized("invalid password")
	}

	if err := s.users.UpdateLastLogin(ctx, user.Id, time.Now().UTC()); err != nil {
		return nil, problem.NewInternalServerError("failed to record login: " + err.Error())
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, problem.NewInternalServerError("failed to issue token: " + err.Error())
	}
	return &models.AuthResult{UserId: user.Id, ApiKey: user.ApiKey, Token: token}, nil
}

// Authenticate verifies a user id / api key pair and returns the principal.
// The key comparison is constant-time; all failure modes share one message.
func (s *AccountService) Authenticate(ctx context.Context, userId, apiKey string) (*models.Principal, error) {
	if userId == "" || apiKey == "" {
		return nil, problem.NewUnauthorized("missing credentials")
	}
	user, err := s.users.GetUserByID(ctx, userId)
	if err != nil {
		return nil, problem.NewInternalServerError("failed to look up user: " + err.Error())
	}
	if user == nil || subtle.ConstantTimeCompare([]byte(user.ApiKey), []byte(apiKey)) != 1 {
		return nil, problem.NewUnauthorized("invalid credentials")
	}
	return &models.Principal{UserId: user.Id, Username: user.Username}, nil
}

// AuthenticateToken resolves a bearer session token to a principal.
func (s *AccountService) AuthenticateToken(ctx context.Context, tokenStr string) (*models.Principal, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, problem.NewUnauthorized("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, problem.NewUnauthorized("invalid token")
	}
	sub, _ := claims["sub"].(string)
	user, err := s.users.GetUserByID(ctx, sub)
	if err != nil {
		return nil, problem.NewInternalServerError("failed to look up user: " + err.Error())
	}
	if user == nil {
		return nil, problem.NewUnauthorized("invalid token")
	}
	return &models.Principal{UserId: user.Id, Username: user.Username}, nil
}

// RemoveAccount deletes the user and every package the user owns, including
// their versions and stored artifacts.
func (s *AccountService) RemoveAccount(ctx context.Context, principal *models.Principal) error {
	if err := s.registry.RemovePackagesOwnedBy(ctx, principal.UserId); err != nil {
		return err
	}
	if err := s.users.DeleteUser(ctx, principal.UserId); err != nil {
		return problem.NewInternalServerError("failed to delete user: " + err.Error())
	}
	return nil
}

func (s *AccountService) issueToken(user *models.User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      user.Id,
		"username": user.Username,
		"iat":      now.Unix(),
		"exp":      now.Add(sessionTokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

// newApiKey returns 256 bits of entropy as a fixed-length hex token.
func newApiKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
