package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateVerify(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	tok, err := m.Generate(42, "Alice", "student")
	require.NoError(t, err)

	claims, err := m.Verify(tok)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)
	assert.Equal(t, "Alice", claims.Name)
	assert.Equal(t, "student", claims.Role)

	exp, err := m.Expiry(tok)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)
}

func TestVerifyRejects(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)

	other, err := NewJWTManager("other", time.Hour).Generate(1, "x", "")
	require.NoError(t, err)
	_, err = m.Verify(other)
	assert.Error(t, err, "wrong secret")

	expired := NewJWTManager("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Generate(1, "x", "")
	require.NoError(t, err)
	_, err = m.Verify(old)
	assert.Error(t, err, "expired")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "1"}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.Verify(unsigned)
	assert.Error(t, err, "alg none")

	_, err = m.Verify("garbage")
	assert.Error(t, err)
}

func TestClaimsUserID(t *testing.T) {
	c := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "abc"}}
	_, err := c.UserID()
	assert.Error(t, err)

	c.Subject = "0"
	_, err = c.UserID()
	assert.Error(t, err)
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	req.Header.Set("Authorization", "Bearer h")
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "c"})
	tok, err := TokenFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "c", tok)

	req = httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	req.Header.Set("Authorization", "Bearer h")
	tok, err = TokenFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "q", tok)

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "bearer h")
	tok, err = TokenFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "h", tok)

	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Basic abc")
	_, err = TokenFromRequest(req)
	assert.ErrorIs(t, err, ErrNoToken)
}
