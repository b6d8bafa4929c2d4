package token

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugin-munin/hm-api/internal/shared"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var baseTime = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &fakeClock{now: baseTime}
	svc := NewService(Config{
		Secret:           []byte("test-secret"),
		Issuer:           "HuginMunin",
		TTL:              720 * time.Hour,
		RefreshThreshold: 168 * time.Hour,
	}, NewRedisRegistry(client), clock)
	return svc, clock
}

func testIdentity() shared.Identity {
	return shared.Identity{
		UserID:   7,
		Username: "cuidador1",
		Email:    "cuidador1@zoo.example",
		RoleID:   3,
		Active:   true,
	}
}

func TestIssueValidateRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)

	raw, expiresAt, err := svc.Issue(testIdentity())
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	assert.Equal(t, baseTime.Add(720*time.Hour), expiresAt)

	id, err := svc.Validate(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, testIdentity(), *id)
}

func TestValidateRejectsMalformed(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Validate(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, ErrTokenMalformed)

	_, err = svc.Validate(context.Background(), "")
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestValidateRejectsWrongSignature(t *testing.T) {
	svc, _ := newTestService(t)
	other := NewService(Config{
		Secret:           []byte("other-secret"),
		Issuer:           "HuginMunin",
		TTL:              720 * time.Hour,
		RefreshThreshold: 168 * time.Hour,
	}, svc.registry, svc.clock)

	raw, _, err := other.Issue(testIdentity())
	require.NoError(t, err)

	_, err = svc.Validate(context.Background(), raw)
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestValidateRejectsExpired(t *testing.T) {
	svc, clock := newTestService(t)

	raw, _, err := svc.Issue(testIdentity())
	require.NoError(t, err)

	clock.Advance(720*time.Hour + time.Minute)
	_, err = svc.Validate(context.Background(), raw)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestInvalidateThenValidateIsRevoked(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	raw, _, err := svc.Issue(testIdentity())
	require.NoError(t, err)

	ok, err := svc.Invalidate(ctx, raw)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.Validate(ctx, raw)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	// Invalidating again is not an error.
	ok, err = svc.Invalidate(ctx, raw)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNeedsRefreshThreshold(t *testing.T) {
	svc, clock := newTestService(t)

	raw, _, err := svc.Issue(testIdentity())
	require.NoError(t, err)

	// Fresh token: 30 days remain, well above the 7 day threshold.
	assert.False(t, svc.NeedsRefresh(raw))

	// 10 days in: 20 days remain.
	clock.Advance(240 * time.Hour)
	assert.False(t, svc.NeedsRefresh(raw))

	// 24 days in: 6 days remain, below the threshold.
	clock.Advance(336 * time.Hour)
	assert.True(t, svc.NeedsRefresh(raw))

	// Past expiry: a dead token never needs refresh.
	clock.Advance(200 * time.Hour)
	assert.False(t, svc.NeedsRefresh(raw))

	assert.False(t, svc.NeedsRefresh("garbage"))
}

func TestRefreshIfNeededNoopWhenFresh(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	raw, _, err := svc.Issue(testIdentity())
	require.NoError(t, err)

	same, refreshed, err := svc.RefreshIfNeeded(ctx, raw)
	require.NoError(t, err)
	assert.False(t, refreshed)
	assert.Equal(t, raw, same)
}

func TestRefreshIfNeededRollsOverNearExpiry(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	raw, _, err := svc.Issue(testIdentity())
	require.NoError(t, err)

	clock.Advance(576 * time.Hour) // 24 days in, 6 remain

	renewed, refreshed, err := svc.RefreshIfNeeded(ctx, raw)
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.NotEqual(t, raw, renewed)

	// The replacement carries the same identity and a full lifetime.
	id, err := svc.Validate(ctx, renewed)
	require.NoError(t, err)
	assert.Equal(t, testIdentity(), *id)
	remaining, err := svc.TimeToExpiration(renewed)
	require.NoError(t, err)
	assert.Equal(t, 720*time.Hour, remaining)

	// The old token stays valid until its own expiry.
	_, err = svc.Validate(ctx, raw)
	assert.NoError(t, err)
}

func TestRefreshIfNeededRejectsInvalidToken(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	raw, _, err := svc.Issue(testIdentity())
	require.NoError(t, err)

	clock.Advance(721 * time.Hour)
	_, _, err = svc.RefreshIfNeeded(ctx, raw)
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, _, err = svc.RefreshIfNeeded(ctx, "garbage")
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestExpirationHelpersWorkOnExpiredTokens(t *testing.T) {
	svc, clock := newTestService(t)

	raw, expiresAt, err := svc.Issue(testIdentity())
	require.NoError(t, err)

	clock.Advance(1000 * time.Hour)

	got, err := svc.ExtractExpiration(raw)
	require.NoError(t, err)
	assert.Equal(t, expiresAt.Unix(), got.Unix())

	remaining, err := svc.TimeToExpiration(raw)
	require.NoError(t, err)
	assert.Negative(t, remaining)

	_, err = svc.ExtractExpiration("garbage")
	assert.ErrorIs(t, err, ErrTokenMalformed)
}
