package responsewriter

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap_Defaults(t *testing.T) {
	wrapped := Wrap(httptest.NewRecorder())

	assert.Equal(t, http.StatusOK, wrapped.StatusCode())
	assert.Equal(t, 0, wrapped.BytesWritten())
	assert.False(t, wrapped.headerWritten)
}

func TestResponseWriter_WriteHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := Wrap(rec)

	wrapped.WriteHeader(http.StatusNotFound)

	assert.Equal(t, http.StatusNotFound, wrapped.StatusCode())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A second call must be ignored.
	wrapped.WriteHeader(http.StatusInternalServerError)
	assert.Equal(t, http.StatusNotFound, wrapped.StatusCode())
}

func TestResponseWriter_Write(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := Wrap(rec)

	n1, err1 := wrapped.Write([]byte("hello "))
	n2, err2 := wrapped.Write([]byte("world"))

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, 11, n1+n2)
	assert.Equal(t, 11, wrapped.BytesWritten())
	assert.Equal(t, "hello world", rec.Body.String())
}

func TestResponseWriter_Write_ImplicitStatusCode(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := Wrap(rec)

	_, err := wrapped.Write([]byte("test"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, wrapped.StatusCode())
	assert.True(t, wrapped.headerWritten)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResponseWriter_Unwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := Wrap(rec)

	assert.Equal(t, rec, wrapped.Unwrap())
}

func TestResponseWriter_MiddlewarePattern(t *testing.T) {
	var gotStatus, gotBytes int

	middleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := Wrap(w)
			next.ServeHTTP(wrapped, r)
			gotStatus = wrapped.StatusCode()
			gotBytes = wrapped.BytesWritten()
		})
	}

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("not found"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusNotFound, gotStatus)
	assert.Equal(t, len("not found"), gotBytes)
	assert.Equal(t, "not found", rec.Body.String())
}
