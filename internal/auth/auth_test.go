// ABOUTME: Tests for JWT verification and the HTTP bearer middleware
// ABOUTME: Covers token round-trips, expiry, wrong secrets, and header handling

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-for-auth-tests"

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := NewJWTVerifier([]byte(testSecret))

	token, err := v.Generate("agent-42", time.Hour)
	require.NoError(t, err)

	agentID, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "agent-42", agentID)
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	v := NewJWTVerifier([]byte(testSecret))

	token, err := v.Generate("agent-42", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	v := NewJWTVerifier([]byte(testSecret))
	other := NewJWTVerifier([]byte("a-different-secret"))

	token, err := other.Generate("agent-42", time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTVerifier_GarbageToken(t *testing.T) {
	v := NewJWTVerifier([]byte(testSecret))

	_, err := v.Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTVerifier_MissingSubject(t *testing.T) {
	v := NewJWTVerifier([]byte(testSecret))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = v.Verify(signed)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestJWTVerifier_ForeignIssuerRejected(t *testing.T) {
	v := NewJWTVerifier([]byte(testSecret))

	// Same secret, but minted for a different service.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "some-other-service",
		Subject:   "agent-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = v.Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAgentContext_RoundTrip(t *testing.T) {
	ctx := WithAgent(t.Context(), "agent-7")
	assert.Equal(t, "agent-7", AgentFromContext(ctx))
	assert.Empty(t, AgentFromContext(t.Context()))
}

func TestHTTPAuthMiddleware(t *testing.T) {
	v := NewJWTVerifier([]byte(testSecret))
	token, err := v.Generate("agent-7", time.Hour)
	require.NoError(t, err)

	var gotAgent string
	handler := HTTPAuthMiddleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = AgentFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid token", "Bearer " + token, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc123", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"bad token", "Bearer garbage", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotAgent = ""
			req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "agent-7", gotAgent)
			} else {
				assert.Empty(t, gotAgent)
			}
		})
	}
}
