package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/meal-voucher-api/internal/models"
	appErrors "github.com/noah-isme/meal-voucher-api/pkg/errors"
)

type actorStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// SessionGuard re-checks an actor against the store before privileged transitions, so
// a deactivated or demoted manager loses access before their token expires.
type SessionGuard struct {
	users  actorStore
	now    func() time.Time
	logger *zap.Logger
}

// NewSessionGuard constructs a guard reading users from the store.
func NewSessionGuard(users actorStore, logger *zap.Logger) *SessionGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionGuard{users: users, now: time.Now, logger: logger}
}

// Revalidate checks that the session is live and its user still active, returning the
// current user record.
func (g *SessionGuard) Revalidate(ctx context.Context, session *models.ActorSession) (*models.User, error) {
	if session == nil || session.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	if session.Expired(g.now()) {
		return nil, appErrors.ErrSessionExpired
	}
	user, err := g.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, notFoundOr(err, appErrors.Clone(appErrors.ErrUnauthorized, "account no longer exists"), "failed to load account")
	}
	if !user.Active {
		g.logger.Info("inactive account attempted a privileged action", zap.String("user_id", user.ID))
		return nil, appErrors.ErrInactiveAccount
	}
	return user, nil
}

// RequireApprover is Revalidate plus the extra-meal approval capability.
func (g *SessionGuard) RequireApprover(ctx context.Context, session *models.ActorSession) (*models.User, error) {
	user, err := g.Revalidate(ctx, session)
	if err != nil {
		return nil, err
	}
	if !CanApproveExtraMeals(user) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "approving extra meals requires the rh-extras permission")
	}
	return user, nil
}

// CanApproveExtraMeals reports whether user may approve, reject or edit approved requests.
func CanApproveExtraMeals(user *models.User) bool {
	if user == nil {
		return false
	}
	switch user.Role {
	case models.RoleSuperAdmin, models.RoleAdmin:
		return true
	}
	return user.HasPermission(models.PermissionExtraMeals)
}
