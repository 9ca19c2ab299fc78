package interceptor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/reqlayer/internal/csrf"
	"github.com/blueberrycongee/reqlayer/internal/observability"
)

func newRequest(t *testing.T, method string) *http.Request {
	t.Helper()
	return httptest.NewRequest(method, "http://api.test/api/items?q=1", nil)
}

func TestCSRF_MutatingOnly(t *testing.T) {
	src := csrf.SourceFunc(func() string { return "tok" })
	fn := CSRF(src, "")

	for _, m := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		req, err := fn(newRequest(t, m))
		require.NoError(t, err)
		assert.Equal(t, "tok", req.Header.Get(csrf.DefaultHeaderName), m)
	}
	for _, m := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		req, err := fn(newRequest(t, m))
		require.NoError(t, err)
		assert.Empty(t, req.Header.Values(csrf.DefaultHeaderName), m)
	}
}

func TestCSRF_EmptyTokenOmitsHeader(t *testing.T) {
	fn := CSRF(csrf.SourceFunc(func() string { return "" }), "X-Custom-CSRF")
	req, err := fn(newRequest(t, http.MethodPost))
	require.NoError(t, err)
	_, present := req.Header["X-Custom-Csrf"]
	assert.False(t, present)
}

func TestCSRF_ReadsFreshPerAttempt(t *testing.T) {
	tokens := []string{"one", "two"}
	i := 0
	fn := CSRF(csrf.SourceFunc(func() string { tok := tokens[i]; i++; return tok }), "")

	r1, _ := fn(newRequest(t, http.MethodPost))
	r2, _ := fn(newRequest(t, http.MethodPost))
	assert.Equal(t, "one", r1.Header.Get(csrf.DefaultHeaderName))
	assert.Equal(t, "two", r2.Header.Get(csrf.DefaultHeaderName))
}

func TestCacheBuster_GetOnlyAndDistinct(t *testing.T) {
	fn := CacheBuster("")

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		req, err := fn(newRequest(t, http.MethodGet))
		require.NoError(t, err)
		assert.Equal(t, "1", req.URL.Query().Get("q"), "existing params are kept")
		v := req.URL.Query().Get(DefaultCacheBusterParam)
		require.NotEmpty(t, v)
		assert.False(t, seen[req.URL.String()], "final URLs must differ")
		seen[req.URL.String()] = true
	}

	post, err := fn(newRequest(t, http.MethodPost))
	require.NoError(t, err)
	assert.Empty(t, post.URL.Query().Get(DefaultCacheBusterParam))
}

func TestRequestID_GeneratesAndPreserves(t *testing.T) {
	fn := RequestID()

	req, err := fn(newRequest(t, http.MethodGet))
	require.NoError(t, err)
	id := req.Header.Get(observability.RequestIDHeader)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, observability.RequestIDFromContext(req.Context()))

	ctx := observability.ContextWithRequestID(context.Background(), "caller-id")
	req, err = fn(newRequest(t, http.MethodGet).WithContext(ctx))
	require.NoError(t, err)
	assert.Equal(t, "caller-id", req.Header.Get(observability.RequestIDHeader))
}

func TestChain_ApplyRequestOrderAndErrors(t *testing.T) {
	var order []string
	mark := func(name string) RequestFunc {
		return func(r *http.Request) (*http.Request, error) {
			order = append(order, name)
			return r, nil
		}
	}
	c := &Chain{Request: []RequestFunc{mark("a"), nil, mark("b")}}
	_, err := c.ApplyRequest(newRequest(t, http.MethodGet))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)

	boom := errors.New("boom")
	c.Request = append(c.Request, func(*http.Request) (*http.Request, error) { return nil, boom }, mark("c"))
	_, err = c.ApplyRequest(newRequest(t, http.MethodGet))
	assert.ErrorIs(t, err, boom)
	assert.NotContains(t, order[2:], "c")
}
