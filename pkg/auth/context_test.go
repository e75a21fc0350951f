package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttach_ReusesExistingContext(t *testing.T) {
	ctx, rc := Attach(context.Background())
	require.NotNil(t, rc)

	ctx2, rc2 := Attach(ctx)
	assert.Same(t, rc, rc2)
	assert.Equal(t, ctx, ctx2)
}

func TestFromContext_Missing(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	assert.Nil(t, GetIdentity(context.Background()))
	assert.Nil(t, GetProfile(context.Background()))
	assert.False(t, IsMobileRequest(context.Background()))
}

func TestSetSession(t *testing.T) {
	ctx, rc := Attach(context.Background())
	assert.False(t, rc.SessionResolved())

	rc.SetSession(&Identity{Subject: "idp|1", Email: "a@example.com"}, true)

	assert.True(t, rc.SessionResolved())
	assert.True(t, IsMobileRequest(ctx))
	assert.Equal(t, "idp|1", GetIdentity(ctx).Subject)
}

func TestLoadProfile_MemoizesSuccess(t *testing.T) {
	_, rc := Attach(context.Background())
	calls := 0
	load := func() (*Profile, error) {
		calls++
		return &Profile{ID: 7, TenantID: 3}, nil
	}

	p1, err := rc.LoadProfile(load)
	require.NoError(t, err)
	p2, err := rc.LoadProfile(load)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Same(t, p1, p2)
}

func TestLoadProfile_DoesNotCacheFailure(t *testing.T) {
	_, rc := Attach(context.Background())
	calls := 0

	_, err := rc.LoadProfile(func() (*Profile, error) {
		calls++
		return nil, errors.New("db down")
	})
	require.Error(t, err)

	p, err := rc.LoadProfile(func() (*Profile, error) {
		calls++
		return &Profile{ID: 1}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ID)
	assert.Equal(t, 2, calls)
}

func TestSnapshot(t *testing.T) {
	_, rc := Attach(context.Background())
	rc.SetSession(&Identity{Subject: "s"}, false)
	rc.SetProfile(&Profile{ID: 2})

	snap := rc.Snapshot()
	assert.Equal(t, "s", snap.Identity.Subject)
	assert.Equal(t, int64(2), snap.Profile.ID)
	assert.False(t, snap.IsMobileRequest)
}

func TestProfile_IsSuperAdmin(t *testing.T) {
	assert.False(t, (&Profile{Type: ProfileTypeUser}).IsSuperAdmin())
	assert.True(t, (&Profile{Type: ProfileTypeSuperAdmin}).IsSuperAdmin())
	assert.True(t, (&Profile{Type: "SuperAdmin"}).IsSuperAdmin())

	var nilProfile *Profile
	assert.False(t, nilProfile.IsSuperAdmin())
}

func TestTokenPair_Complete(t *testing.T) {
	assert.True(t, (&TokenPair{AccessToken: "a", RefreshToken: "r"}).Complete())
	assert.False(t, (&TokenPair{AccessToken: "a"}).Complete())
	var nilPair *TokenPair
	assert.False(t, nilPair.Complete())
}
