package auth

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hugin-munin/hm-api/internal/rbac"
	"github.com/hugin-munin/hm-api/internal/shared"
	"github.com/hugin-munin/hm-api/internal/token"
	"github.com/hugin-munin/hm-api/internal/users"
)

// CredentialVerifier checks a username/password pair.
type CredentialVerifier interface {
	Authenticate(ctx context.Context, username, password string) (*shared.Identity, error)
}

// UserDirectory looks up accounts and rotates their passwords.
type UserDirectory interface {
	Get(ctx context.Context, id int64) (users.User, error)
	ChangePassword(ctx context.Context, userID int64, current, next string) error
}

// PermissionSource is the slice of the rbac service the profile view needs.
type PermissionSource interface {
	PermissionsForRoleByCategory(ctx context.Context, roleID int64) (map[string][]rbac.Permission, error)
	GeneralStatistics(ctx context.Context) (rbac.GeneralStats, error)
}

// Service composes sessions out of the credential verifier and the token
// service.
type Service struct {
	logger      *slog.Logger
	credentials CredentialVerifier
	directory   UserDirectory
	permissions PermissionSource
	tokens      *token.Service
}

// NewService constructs the auth service.
func NewService(logger *slog.Logger, credentials CredentialVerifier, directory UserDirectory, permissions PermissionSource, tokens *token.Service) *Service {
	return &Service{
		logger:      logger,
		credentials: credentials,
		directory:   directory,
		permissions: permissions,
		tokens:      tokens,
	}
}

// Session is an issued token with its identity.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Identity  shared.Identity
}

// Login verifies credentials and issues a token.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	identity, err := s.credentials.Authenticate(ctx, username, password)
	if err != nil {
		return Session{}, err
	}
	signed, expiresAt, err := s.tokens.Issue(*identity)
	if err != nil {
		return Session{}, shared.Internal("no se pudo emitir el token", err)
	}
	return Session{Token: signed, ExpiresAt: expiresAt, Identity: *identity}, nil
}

// Logout invalidates the token. Failures are logged, never surfaced: logout
// always succeeds from the client's point of view.
func (s *Service) Logout(ctx context.Context, raw string) {
	if raw == "" {
		return
	}
	if _, err := s.tokens.Invalidate(ctx, raw); err != nil {
		s.logger.Warn("logout: token invalidation failed", slog.Any("error", err))
	}
}

// Verification is the outcome of a token check, with an optional rollover.
type Verification struct {
	Authenticated bool
	Identity      *shared.Identity
	NewToken      string
	Refreshed     bool
}

// Verify checks the token and, when it is close to expiry, issues a
// replacement alongside the verdict. An invalid token yields a negative
// verdict, not an error.
func (s *Service) Verify(ctx context.Context, raw string) Verification {
	identity, err := s.tokens.Validate(ctx, raw)
	if err != nil {
		return Verification{}
	}
	v := Verification{Authenticated: true, Identity: identity}
	if refreshed, changed, err := s.tokens.RefreshIfNeeded(ctx, raw); err == nil && changed {
		v.NewToken = refreshed
		v.Refreshed = true
	}
	return v
}

// Refresh rotates the token if its remaining lifetime warrants it.
func (s *Service) Refresh(ctx context.Context, raw string) (string, bool, error) {
	refreshed, changed, err := s.tokens.RefreshIfNeeded(ctx, raw)
	if err != nil {
		return "", false, authError(err)
	}
	return refreshed, changed, nil
}

// TokenTTL exposes the configured token lifetime for expires_in fields.
func (s *Service) TokenTTL() time.Duration { return s.tokens.TTL() }

// TokenInfo summarizes a token's remaining life for the profile view.
type TokenInfo struct {
	ExpiresAt        time.Time `json:"expira"`
	RemainingSeconds int64     `json:"segundos_restantes"`
	NeedsRefresh     bool      `json:"requiere_renovacion"`
}

// Profile is the composed account view.
type Profile struct {
	User        users.User                   `json:"usuario"`
	Permissions map[string][]rbac.Permission `json:"permisos"`
	Statistics  rbac.GeneralStats            `json:"estadisticas"`
	TokenInfo   TokenInfo                    `json:"token_info"`
}

// Profile assembles the account view. The three reads are independent, so
// they run concurrently.
func (s *Service) Profile(ctx context.Context, identity shared.Identity, raw string) (Profile, error) {
	var p Profile

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		user, err := s.directory.Get(gctx, identity.UserID)
		if err != nil {
			return err
		}
		p.User = user
		return nil
	})
	g.Go(func() error {
		perms, err := s.permissions.PermissionsForRoleByCategory(gctx, identity.RoleID)
		if err != nil {
			return err
		}
		p.Permissions = perms
		return nil
	})
	g.Go(func() error {
		stats, err := s.permissions.GeneralStatistics(gctx)
		if err != nil {
			return err
		}
		p.Statistics = stats
		return nil
	})
	if err := g.Wait(); err != nil {
		return Profile{}, err
	}

	expiresAt, err := s.tokens.ExtractExpiration(raw)
	if err != nil {
		return Profile{}, authError(err)
	}
	remaining, _ := s.tokens.TimeToExpiration(raw)
	p.TokenInfo = TokenInfo{
		ExpiresAt:        expiresAt,
		RemainingSeconds: int64(remaining.Seconds()),
		NeedsRefresh:     s.tokens.NeedsRefresh(raw),
	}
	return p, nil
}

// ChangePassword rotates the caller's password.
func (s *Service) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	return s.directory.ChangePassword(ctx, userID, current, next)
}
