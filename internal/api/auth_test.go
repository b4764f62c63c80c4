package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserId(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		userId   string
		expected bool
	}{
		{
			name:     "no user ID",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "empty user ID",
			ctx:      WithUserId(context.Background(), ""),
			expected: false,
		},
		{
			name:     "user ID set",
			ctx:      WithUserId(context.Background(), "u-42"),
			userId:   "u-42",
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, ok := UserId(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected UserId to return %v", tc.expected)
			assert.Equal(t, tc.userId, userId, "expected UserId to return %q", tc.userId)
		})
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := hashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	assert.True(t, verifyPassword(hash, "s3cret"))
	assert.False(t, verifyPassword(hash, "wrong"))
	assert.False(t, verifyPassword("not-a-hash", "s3cret"))
}

func TestJwtRoundTrip(t *testing.T) {
	app := &ChatSyncApp{signingKey: []byte("test-signing-key")}

	t.Run("valid token", func(t *testing.T) {
		token, err := app.createJwtForSession("u-1", time.Hour)
		require.NoError(t, err)

		userId, err := app.extractUserIdFromToken(token)
		require.NoError(t, err)
		assert.Equal(t, "u-1", userId)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := app.createJwtForSession("u-1", -time.Hour)
		require.NoError(t, err)

		_, err = app.extractUserIdFromToken(token)
		assert.Error(t, err)
	})

	t.Run("wrong key", func(t *testing.T) {
		other := &ChatSyncApp{signingKey: []byte("other-key")}
		token, err := other.createJwtForSession("u-1", time.Hour)
		require.NoError(t, err)

		_, err = app.extractUserIdFromToken(token)
		assert.Error(t, err)
	})

	t.Run("missing user claim", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			expClaim: time.Now().Add(time.Hour).Unix(),
		}).SignedString(app.signingKey)
		require.NoError(t, err)

		_, err = app.extractUserIdFromToken(token)
		assert.ErrorContains(t, err, "invalid user id claim")
	})

	t.Run("numeric user claim", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			userIdClaim: 42,
			expClaim:    time.Now().Add(time.Hour).Unix(),
		}).SignedString(app.signingKey)
		require.NoError(t, err)

		_, err = app.extractUserIdFromToken(token)
		assert.ErrorContains(t, err, "invalid user id claim")
	})
}

func Test_tokenFromRequest(t *testing.T) {
	tcases := []struct {
		name   string
		header string
		cookie string
		token  string
		ok     bool
	}{
		{name: "bearer header", header: "Bearer abc", token: "abc", ok: true},
		{name: "cookie", cookie: "def", token: "def", ok: true},
		{name: "header wins over cookie", header: "Bearer abc", cookie: "def", token: "abc", ok: true},
		{name: "non bearer header", header: "Basic abc", ok: false},
		{name: "empty bearer", header: "Bearer ", ok: false},
		{name: "nothing", ok: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: tc.cookie})
			}

			token, ok := tokenFromRequest(req)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.token, token)
			}
		})
	}
}

func Test_createJwtCookie(t *testing.T) {
	cookie := createJwtCookie("tok", time.Hour)

	assert.Equal(t, tokenCookieKey, cookie.Name)
	assert.Equal(t, "tok", cookie.Value)
	assert.Equal(t, "/", cookie.Path)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.WithinDuration(t, time.Now().Add(time.Hour), cookie.Expires, time.Minute)
}
