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

const testSecret = "test-secret-for-auth-middleware"

func signToken(t *testing.T, claims jwt.MapClaims, method jwt.SigningMethod, key interface{}) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func operatorToken(t *testing.T, role string, exp time.Time) string {
	return signToken(t, jwt.MapClaims{
		"sub":  "ops@school.example",
		"role": role,
		"exp":  exp.Unix(),
	}, jwt.SigningMethodHS256, []byte(testSecret))
}

func callAuthz(t *testing.T, path, authz string) (*httptest.ResponseRecorder, string) {
	t.Helper()

	var capturedSub string
	handler := Authz(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedSub = OperatorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, capturedSub
}

func TestAuthz_PublicEndpointsBypassToken(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	for _, path := range []string{"/healthz", "/metrics"} {
		rec, _ := callAuthz(t, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, "path %s should be public", path)
	}
}

func TestAuthz_ValidOperatorToken(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	token := operatorToken(t, "operator", time.Now().Add(time.Hour))
	rec, sub := callAuthz(t, "/api/notifications/1", "Bearer "+token)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops@school.example", sub)
}

func TestAuthz_AdminRoleAccepted(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	token := operatorToken(t, "admin", time.Now().Add(time.Hour))
	rec, _ := callAuthz(t, "/api/notifications/1", "Bearer "+token)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthz_Rejections(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	tests := []struct {
		name     string
		authz    func(t *testing.T) string
		wantCode int
	}{
		{
			name:     "missing header",
			authz:    func(t *testing.T) string { return "" },
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "not a bearer token",
			authz:    func(t *testing.T) string { return "Basic abc123" },
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "garbage token",
			authz:    func(t *testing.T) string { return "Bearer not.a.jwt" },
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "expired token",
			authz: func(t *testing.T) string {
				return "Bearer " + operatorToken(t, "operator", time.Now().Add(-time.Minute))
			},
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "wrong secret",
			authz: func(t *testing.T) string {
				return "Bearer " + signToken(t, jwt.MapClaims{
					"sub":  "ops@school.example",
					"role": "operator",
					"exp":  time.Now().Add(time.Hour).Unix(),
				}, jwt.SigningMethodHS256, []byte("other-secret"))
			},
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "missing role claim",
			authz: func(t *testing.T) string {
				return "Bearer " + signToken(t, jwt.MapClaims{
					"sub": "ops@school.example",
					"exp": time.Now().Add(time.Hour).Unix(),
				}, jwt.SigningMethodHS256, []byte(testSecret))
			},
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "insufficient role",
			authz: func(t *testing.T) string {
				return "Bearer " + operatorToken(t, "viewer", time.Now().Add(time.Hour))
			},
			wantCode: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, sub := callAuthz(t, "/api/notifications/1", tt.authz(t))
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Empty(t, sub)
		})
	}
}

func TestOperatorFromContext_Empty(t *testing.T) {
	assert.Empty(t, OperatorFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}
