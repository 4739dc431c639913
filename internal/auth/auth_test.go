package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/safar/greenvillage/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	svc := NewService("secret", time.Hour)

	token, err := svc.Issue(Identity{UserID: 42, Role: models.RoleAdmin})
	require.NoError(t, err)

	id, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id.UserID)
	assert.True(t, id.IsAdmin())
}

func TestVerifyRejects(t *testing.T) {
	svc := NewService("secret", time.Hour)
	good, err := svc.Issue(Identity{UserID: 1, Role: models.RoleCustomer})
	require.NoError(t, err)

	expired := NewService("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Issue(Identity{UserID: 1, Role: models.RoleCustomer})
	require.NoError(t, err)

	otherKey, err := NewService("other", time.Hour).Issue(Identity{UserID: 1, Role: models.RoleCustomer})
	require.NoError(t, err)

	badRole, err := svc.Issue(Identity{UserID: 1, Role: "root"})
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":     "not.a.token",
		"expired":     old,
		"wrong key":   otherKey,
		"bad role":    badRole,
		"alg none":    none,
		"tampered":    good + "x",
		"empty token": "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, TokenFromRequest(r))

	r.AddCookie(&http.Cookie{Name: CookieName, Value: "from-cookie"})
	assert.Equal(t, "from-cookie", TokenFromRequest(r))

	r.Header.Set("Authorization", "bearer from-header")
	assert.Equal(t, "from-header", TokenFromRequest(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "from-cookie", TokenFromRequest(r))
}

func TestIdentityContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{UserID: 3, Role: models.RoleCustomer})
	id, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(3), id.UserID)
	assert.False(t, id.IsAdmin())
}
