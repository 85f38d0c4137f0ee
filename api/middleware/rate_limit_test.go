package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/angelmondragon/bazari-settlement/pkg/auth"
	"github.com/angelmondragon/bazari-settlement/pkg/enums"
	"github.com/stretchr/testify/require"
)

type counterStore struct {
	counts map[string]int64
	err    error
}

func (c *counterStore) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	if c.counts == nil {
		c.counts = map[string]int64{}
	}
	c.counts[key]++
	return c.counts[key], nil
}

func TestRateLimitPerSubject(t *testing.T) {
	store := &counterStore{}
	handler := RateLimit(NewRateLimitPolicy("chain", time.Minute, 2), store, nil)(okHandler())

	send := func(subject string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(auth.WithActor(req.Context(), auth.Actor{SubjectID: subject, Role: enums.RoleUser}))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		return resp.Code
	}

	require.Equal(t, http.StatusOK, send("a"))
	require.Equal(t, http.StatusOK, send("a"))
	require.Equal(t, http.StatusTooManyRequests, send("a"))
	require.Equal(t, http.StatusOK, send("b"))
	require.Contains(t, store.counts, "rl:chain:sub:a")
}

func TestRateLimitFailsOpen(t *testing.T) {
	store := &counterStore{err: errors.New("redis down")}
	handler := RateLimit(NewRateLimitPolicy("chain", time.Minute, 1), store, nil)(okHandler())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestRateLimitDisabledPolicy(t *testing.T) {
	handler := RateLimit(NewRateLimitPolicy("chain", 0, 0), nil, nil)(okHandler())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusOK, resp.Code)
}
