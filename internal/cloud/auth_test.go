package cloud

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tillpos/internal/testutil"
)

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	tok, exp, err := issuer.Issue("tenant-a")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	tenant, err := issuer.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", tenant)
}

func TestTokenIssuer_Rejects(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)

	expired := NewTokenIssuer("secret", time.Hour)
	expired.clock = testutil.FrozenClock{At: time.Now().Add(-3 * time.Hour)}
	old, _, err := expired.Issue("tenant-a")
	require.NoError(t, err)

	forged, _, err := NewTokenIssuer("other", time.Hour).Issue("tenant-a")
	require.NoError(t, err)

	good, _, err := issuer.Issue("tenant-a")
	require.NoError(t, err)
	parts := strings.Split(good, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	for name, tok := range map[string]string{
		"expired":  old,
		"forged":   forged,
		"tampered": tampered,
		"garbage":  "not-a-token",
		"empty":    "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := issuer.Verify(tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestTenants_CreateAndAuthenticate(t *testing.T) {
	tenants := NewTenants(openTestDB(t))
	ctx := context.Background()

	tenant, key, err := tenants.Create(ctx, "tenant-a", "Cafe A")
	require.NoError(t, err)
	assert.Equal(t, "Cafe A", tenant.Name)
	assert.True(t, strings.HasPrefix(key, "tk_"))
	assert.NotContains(t, tenant.APIKeyHash, key, "only the hash is stored")

	require.NoError(t, tenants.Authenticate(ctx, "tenant-a", key))
	assert.ErrorIs(t, tenants.Authenticate(ctx, "tenant-a", key+"x"), ErrBadCredentials)
	assert.ErrorIs(t, tenants.Authenticate(ctx, "tenant-b", key), ErrBadCredentials)

	_, _, err = tenants.Create(ctx, "tenant-a", "dup")
	assert.ErrorIs(t, err, ErrTenantExists)

	_, err = tenants.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}
