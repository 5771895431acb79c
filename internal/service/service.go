// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the repository layer.
//
// Every operation takes the id of the authenticated actor. Admin rights are
// always re-read from the membership store; client-supplied roles are never
// trusted.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/digital-library/internal/model"
	"github.com/Shivanand-hulikatti/digital-library/internal/repository"
)

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}

// parseID checks that id is a well-formed UUID.
func parseID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return model.Validationf("%s is required", field)
	}
	if _, err := uuid.Parse(id); err != nil {
		return model.Validationf("%s is not a valid id", field)
	}
	return nil
}

// access resolves actors against the membership store.
type access struct {
	members repository.MembershipStore
}

// requireAdmin loads the actor and fails unless they are an admin.
func (a access) requireAdmin(ctx context.Context, actorID string) (*model.User, error) {
	actor, err := a.members.GetUser(ctx, actorID)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return nil, model.ErrSessionExpired
		}
		return nil, err
	}
	if !actor.IsAdmin {
		return nil, model.ErrAdminRequired
	}
	return actor, nil
}

// actingFor resolves the user an operation targets. An empty userID means
// the actor. Acting on another user's behalf requires admin rights.
func (a access) actingFor(ctx context.Context, actorID, userID string) (string, error) {
	if userID == "" || userID == actorID {
		return actorID, nil
	}
	if err := parseID("userId", userID); err != nil {
		return "", err
	}
	if _, err := a.requireAdmin(ctx, actorID); err != nil {
		if errors.Is(err, model.ErrAdminRequired) {
			return "", model.ErrForbidden
		}
		return "", err
	}
	return userID, nil
}

// isValidEmail does a basic structural check (no external deps).
func isValidEmail(email string) bool {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	return len(parts[0]) > 0 && strings.Contains(parts[1], ".")
}
