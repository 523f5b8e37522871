package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/internal/auth"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/config"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/logger"
	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/types"
)

type pingRoutes struct{}

func (pingRoutes) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"provider": auth.ProviderID(r.Context())}, nil)
	}).Methods(http.MethodGet)
}

// fakeAuth authenticates every non-public request as provider-1
func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := auth.WithClaims(r.Context(), &types.UserClaims{Subject: "provider-1"})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newTestServer(limiter *RateLimiter) *Server {
	health := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"}, nil)
	})
	return New(Options{
		Config:      config.ServerConfig{ReadTimeout: time.Second},
		Auth:        fakeAuth,
		RateLimiter: limiter,
		Health:      health,
	}, logger.Discard(), pingRoutes{})
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestServer_Preflight(t *testing.T) {
	s := newTestServer(nil)

	rec := serve(s, http.MethodOptions, "/ping")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "If-Match")
}

func TestServer_RoutesAndHeaders(t *testing.T) {
	s := newTestServer(nil)

	rec := serve(s, http.MethodGet, "/ping")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "provider-1", body["provider"])

	health := serve(s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, health.Code)
}

func TestServer_NotFoundAndMethodNotAllowed(t *testing.T) {
	s := newTestServer(nil)

	rec := serve(s, http.MethodGet, "/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, types.ErrCodeNotFound, body.Error.Code)

	rec = serve(s, http.MethodDelete, "/ping")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_RateLimited(t *testing.T) {
	s := newTestServer(NewRateLimiter(2, time.Hour))

	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/ping").Code)
	second := serve(s, http.MethodGet, "/ping")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	rec := serve(s, http.MethodGet, "/ping")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var body ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, types.ErrCodeRateLimited, body.Error.Code)

	// public paths carry no provider and are never limited
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/health").Code)
}

func TestServer_StartAndShutdown(t *testing.T) {
	s := newTestServer(nil)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start("127.0.0.1:0") }()

	// Shutdown before or after ListenAndServe begins both end Start cleanly
	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
