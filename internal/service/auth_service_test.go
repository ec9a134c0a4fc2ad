package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/meal-voucher-api/internal/models"
	appErrors "github.com/noah-isme/meal-voucher-api/pkg/errors"
)

type authRepoStub struct {
	users         map[string]*models.User
	refreshTokens map[string]*models.RefreshToken
	createErr     error
	revokedAll    []string
	auditLogs     []*models.AuditLog
	lastLogin     map[string]time.Time
}

func newAuthRepoStub(users ...*models.User) *authRepoStub {
	repo := &authRepoStub{
		users:         make(map[string]*models.User),
		refreshTokens: make(map[string]*models.RefreshToken),
		lastLogin:     make(map[string]time.Time),
	}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (r *authRepoStub) FindByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *authRepoStub) FindByID(_ context.Context, id string) (*models.User, error) {
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (r *authRepoStub) UpdateLastLogin(_ context.Context, id string, ts time.Time) error {
	r.lastLogin[id] = ts
	return nil
}

func (r *authRepoStub) UpdatePassword(_ context.Context, id, passwordHash string, _ time.Time) error {
	if u, ok := r.users[id]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

func (r *authRepoStub) RevokeUserRefreshTokens(_ context.Context, userID string) error {
	r.revokedAll = append(r.revokedAll, userID)
	for _, t := range r.refreshTokens {
		if t.UserID == userID {
			t.Revoked = true
		}
	}
	return nil
}

func (r *authRepoStub) CreateRefreshToken(_ context.Context, token *models.RefreshToken) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.refreshTokens[token.Token] = token
	return nil
}

func (r *authRepoStub) FindRefreshToken(_ context.Context, token string) (*models.RefreshToken, error) {
	if t, ok := r.refreshTokens[token]; ok {
		return t, nil
	}
	return nil, sql.ErrNoRows
}

func (r *authRepoStub) RevokeRefreshToken(_ context.Context, id string, revokedAt time.Time) error {
	for _, t := range r.refreshTokens {
		if t.ID == id {
			t.Revoked = true
			t.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (r *authRepoStub) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	r.auditLogs = append(r.auditLogs, log)
	return nil
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newTestAuthService(repo *authRepoStub) *AuthService {
	return NewAuthService(repo, nil, zap.NewNop(), AuthConfig{
		AccessTokenSecret:  "secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "meal-voucher-api",
	})
}

func TestAuthServiceLoginCarriesPermissions(t *testing.T) {
	user := &models.User{ID: "u1", Email: "hr@example.com", PasswordHash: hashed(t, "password"), Active: true,
		Role: models.RoleManager, Permissions: []string{models.PermissionExtraMeals}}
	repo := newAuthRepoStub(user)
	svc := newTestAuthService(repo)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "hr@example.com", Password: "password", IP: "10.0.0.9"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, int64(3600), res.ExpiresIn)
	assert.Equal(t, []string{models.PermissionExtraMeals}, res.User.Permissions)
	assert.Contains(t, repo.lastLogin, "u1")

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleManager, claims.Role)
	assert.Equal(t, []string{models.PermissionExtraMeals}, claims.Permissions)

	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionLogin, repo.auditLogs[0].Action)
	assert.Equal(t, "10.0.0.9", repo.auditLogs[0].IPAddress)
}

func TestAuthServiceLoginRejections(t *testing.T) {
	repo := newAuthRepoStub(
		&models.User{ID: "u1", Email: "active@example.com", PasswordHash: hashed(t, "password"), Active: true},
		&models.User{ID: "u2", Email: "gone@example.com", PasswordHash: hashed(t, "password"), Active: false},
	)
	svc := newTestAuthService(repo)

	cases := []struct {
		name string
		req  models.LoginRequest
		code string
	}{
		{"unknown email", models.LoginRequest{Email: "nobody@example.com", Password: "password"}, appErrors.ErrInvalidCredentials.Code},
		{"wrong password", models.LoginRequest{Email: "active@example.com", Password: "nope"}, appErrors.ErrInvalidCredentials.Code},
		{"inactive", models.LoginRequest{Email: "gone@example.com", Password: "password"}, appErrors.ErrInactiveAccount.Code},
		{"malformed", models.LoginRequest{Email: "not-an-email", Password: "password"}, appErrors.ErrValidation.Code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Login(context.Background(), tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.code, appErrors.FromError(err).Code)
		})
	}
	assert.Empty(t, repo.refreshTokens)
}

func TestAuthServiceSingleSessionRevokesPrevious(t *testing.T) {
	user := &models.User{ID: "u1", Email: "hr@example.com", PasswordHash: hashed(t, "password"), Active: true}
	repo := newAuthRepoStub(user)
	svc := NewAuthService(repo, nil, zap.NewNop(), AuthConfig{AccessTokenSecret: "secret", SingleSession: true})

	first, err := svc.Login(context.Background(), models.LoginRequest{Email: "hr@example.com", Password: "password"})
	require.NoError(t, err)
	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "hr@example.com", Password: "password"})
	require.NoError(t, err)

	assert.True(t, repo.refreshTokens[first.RefreshToken].Revoked)
	assert.Equal(t, []string{"u1", "u1"}, repo.revokedAll)
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	user := &models.User{ID: "u1", Email: "hr@example.com", Active: true, Role: models.RoleAdmin}
	repo := newAuthRepoStub(user)
	repo.refreshTokens["token"] = &models.RefreshToken{ID: "rt1", UserID: "u1", Token: "token", ExpiresAt: time.Now().Add(time.Hour)}
	svc := newTestAuthService(repo)

	res, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "token"})
	require.NoError(t, err)
	assert.NotEqual(t, "token", res.RefreshToken)
	assert.True(t, repo.refreshTokens["token"].Revoked)

	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "token"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSessionExpired.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshUnknownToken(t *testing.T) {
	svc := newTestAuthService(newAuthRepoStub())

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "missing"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLogoutChecksOwnership(t *testing.T) {
	repo := newAuthRepoStub(&models.User{ID: "u1", Active: true})
	repo.refreshTokens["token"] = &models.RefreshToken{ID: "rt1", UserID: "u1", Token: "token", ExpiresAt: time.Now().Add(time.Hour)}
	svc := newTestAuthService(repo)

	err := svc.Logout(context.Background(), "token", "u2", "", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.False(t, repo.refreshTokens["token"].Revoked)

	require.NoError(t, svc.Logout(context.Background(), "token", "u1", "10.0.0.1", "kiosk"))
	assert.True(t, repo.refreshTokens["token"].Revoked)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionLogout, repo.auditLogs[0].Action)
}

func TestAuthServiceChangePassword(t *testing.T) {
	user := &models.User{ID: "u1", PasswordHash: hashed(t, "old-password"), Active: true}
	repo := newAuthRepoStub(user)
	svc := newTestAuthService(repo)

	err := svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{OldPassword: "wrong-password", NewPassword: "new-password"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	require.NoError(t, svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{OldPassword: "old-password", NewPassword: "new-password"}))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("new-password")))
	assert.Equal(t, []string{"u1"}, repo.revokedAll)
}

func TestAuthServiceValidateTokenExpired(t *testing.T) {
	user := &models.User{ID: "u1", Email: "hr@example.com", Role: models.RoleAdmin}
	svc := newTestAuthService(newAuthRepoStub(user))
	issued := time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC)
	token, err := svc.signAccessToken(user, issued)
	require.NoError(t, err)

	svc.now = func() time.Time { return issued.Add(30 * time.Minute) }
	_, err = svc.ValidateToken(token)
	require.NoError(t, err)

	svc.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSessionExpired.Code, appErrors.FromError(err).Code)

	_, err = svc.ValidateToken("garbage")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
