package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/authmodel"
	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/users"
)

// defaultSettings seeds the settings document of a new account.
func defaultSettings() authmodel.Document {
	return authmodel.Document{
		"theme":         "light",
		"notifications": true,
	}
}

// CreateUser validates req and stores a new account with the given roles.
// Returns ErrUserExists when the username or email is taken and
// ErrWeakPassword when the password fails the strength rules.
func (s *Server) CreateUser(req authmodel.RegisterRequest, plan users.PlanType, roles ...users.RoleType) (*users.User, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if username == "" || email == "" {
		return nil, autherrors.Wrapf(autherrors.ErrInvalidRequest, "username and email are required")
	}
	if err := users.ValidatePasswordStrength(req.Password); err != nil {
		return nil, fmt.Errorf("%w: %s", autherrors.ErrWeakPassword, err.Error())
	}

	if _, err := s.repos.Users.GetByUsername(username); err == nil {
		return nil, autherrors.ErrUserExists
	}
	existing, err := s.repos.Users.List(0, 0)
	if err != nil {
		return nil, autherrors.Wrapf(err, "[CreateUser] List")
	}
	for _, u := range existing {
		if strings.EqualFold(u.Email, email) {
			return nil, autherrors.ErrUserExists
		}
	}

	hash, err := users.HashPassword(req.Password)
	if err != nil {
		return nil, autherrors.Wrapf(err, "[CreateUser] HashPassword")
	}
	if len(roles) == 0 {
		roles = []users.RoleType{users.RoleMember}
	}

	user := &users.User{
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		DateJoined:   time.Now(),
		Roles:        roles,
		Plan:         plan,
		Settings:     defaultSettings(),
	}
	if err := s.repos.Users.Upsert(user); err != nil {
		return nil, autherrors.Wrapf(err, "[CreateUser] Upsert")
	}
	return user, nil
}

// SeedUser creates the account unless the username already exists.
func (s *Server) SeedUser(req authmodel.RegisterRequest, plan users.PlanType, roles ...users.RoleType) error {
	if _, err := s.repos.Users.GetByUsername(req.Username); err == nil {
		return nil
	}
	if _, err := s.CreateUser(req, plan, roles...); err != nil {
		return fmt.Errorf("[SeedUser] %s: %w", req.Username, err)
	}
	return nil
}
