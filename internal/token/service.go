package token

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hugin-munin/hm-api/internal/shared"
)

var (
	// ErrTokenMalformed indicates a token that cannot be decoded or whose
	// signature does not verify.
	ErrTokenMalformed = errors.New("token malformado")
	// ErrTokenExpired indicates the token's natural expiry has elapsed.
	ErrTokenExpired = errors.New("token expirado")
	// ErrTokenRevoked indicates the token was explicitly invalidated.
	ErrTokenRevoked = errors.New("token revocado")
)

// Config holds the token policy knobs.
type Config struct {
	Secret           []byte
	Issuer           string
	TTL              time.Duration
	RefreshThreshold time.Duration
}

// Claims is the payload embedded in every issued token.
type Claims struct {
	UserID   int64  `json:"id_usuario"`
	Username string `json:"nombre_usuario"`
	Email    string `json:"correo"`
	RoleID   int64  `json:"id_rol"`
	Active   bool   `json:"activo"`
	jwt.RegisteredClaims
}

// Service issues, validates, refreshes, and revokes bearer tokens. Validation
// is stateless apart from the revocation registry lookup, so concurrent calls
// are safe.
type Service struct {
	cfg      Config
	registry RevocationRegistry
	clock    shared.Clock
}

// NewService constructs a Service. A nil clock falls back to the system clock.
func NewService(cfg Config, registry RevocationRegistry, clock shared.Clock) *Service {
	if clock == nil {
		clock = shared.SystemClock
	}
	return &Service{cfg: cfg, registry: registry, clock: clock}
}

// TTL returns the configured token lifetime.
func (s *Service) TTL() time.Duration { return s.cfg.TTL }

// Issue signs a new token for the identity. The expiry is absolute: issuance
// time plus the configured TTL.
func (s *Service) Issue(id shared.Identity) (string, time.Time, error) {
	now := s.clock.Now()
	expiresAt := now.Add(s.cfg.TTL)
	claims := Claims{
		UserID:   id.UserID,
		Username: id.Username,
		Email:    id.Email,
		RoleID:   id.RoleID,
		Active:   id.Active,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.Username,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate decodes the token, verifies its signature and expiry, and checks
// the revocation registry. A revoked token is rejected regardless of its
// remaining lifetime.
func (s *Service) Validate(ctx context.Context, raw string) (*shared.Identity, error) {
	claims, err := s.parse(raw)
	if err != nil {
		return nil, err
	}
	revoked, err := s.registry.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return identityFromClaims(claims), nil
}

// NeedsRefresh reports whether the token's remaining lifetime has dropped
// below the refresh threshold. Expired or malformed tokens never need refresh;
// they are dead.
func (s *Service) NeedsRefresh(raw string) bool {
	remaining, err := s.TimeToExpiration(raw)
	if err != nil {
		return false
	}
	return remaining > 0 && remaining < s.cfg.RefreshThreshold
}

// RefreshIfNeeded issues a replacement token carrying the same identity when
// the current one is close to expiry, and returns the input unchanged
// otherwise. An invalid token is never refreshed; the validation error is
// returned instead. The old token stays valid until its own expiry unless
// explicitly revoked.
func (s *Service) RefreshIfNeeded(ctx context.Context, raw string) (string, bool, error) {
	id, err := s.Validate(ctx, raw)
	if err != nil {
		return "", false, err
	}
	if !s.NeedsRefresh(raw) {
		return raw, false, nil
	}
	refreshed, _, err := s.Issue(*id)
	if err != nil {
		return "", false, err
	}
	return refreshed, true, nil
}

// Invalidate records the token's identifier in the revocation registry for the
// remainder of its natural lifetime. Invalidating twice is not an error.
func (s *Service) Invalidate(ctx context.Context, raw string) (bool, error) {
	claims, err := s.decode(raw)
	if err != nil {
		return false, err
	}
	ttl := claims.ExpiresAt.Time.Sub(s.clock.Now())
	if err := s.registry.Revoke(ctx, claims.ID, ttl); err != nil {
		return false, err
	}
	return true, nil
}

// TimeToExpiration returns the duration until the token expires. Negative for
// already expired tokens; fails only on malformed input.
func (s *Service) TimeToExpiration(raw string) (time.Duration, error) {
	expiresAt, err := s.ExtractExpiration(raw)
	if err != nil {
		return 0, err
	}
	return expiresAt.Sub(s.clock.Now()), nil
}

// ExtractExpiration decodes the expiry timestamp. Fails only on malformed
// input, never on an expired token.
func (s *Service) ExtractExpiration(raw string) (time.Time, error) {
	claims, err := s.decode(raw)
	if err != nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt.Time, nil
}

// parse verifies signature and registered-claim validity.
func (s *Service) parse(raw string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithTimeFunc(s.clock.Now),
	)
	claims := &Claims{}
	tok, err := parser.ParseWithClaims(raw, claims, s.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}
	if !tok.Valid {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// decode verifies the signature but skips claim validation, so the helpers
// that only read the payload keep working on expired tokens.
func (s *Service) decode(raw string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims := &Claims{}
	if _, err := parser.ParseWithClaims(raw, claims, s.keyFunc); err != nil {
		return nil, ErrTokenMalformed
	}
	if claims.ExpiresAt == nil || claims.ID == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

func (s *Service) keyFunc(*jwt.Token) (any, error) {
	return s.cfg.Secret, nil
}

func identityFromClaims(c *Claims) *shared.Identity {
	return &shared.Identity{
		UserID:   c.UserID,
		Username: c.Username,
		Email:    c.Email,
		RoleID:   c.RoleID,
		Active:   c.Active,
	}
}
