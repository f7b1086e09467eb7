package httpclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBreaker(name string) *CircuitBreakerClient {
	cfg := DefaultCircuitBreakerConfig(name)
	cfg.MinRequests = 2
	cfg.Timeout = time.Hour
	return NewCircuitBreakerClient(New(fastConfig(0)), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCircuitBreaker_OpensOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("relay down"))
	}))
	defer srv.Close()

	cb := newBreaker("mail-relay-test-open")

	for i := 0; i < 2; i++ {
		_, err := cb.Post(context.Background(), srv.URL, "application/json", []byte("{}"))
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
		assert.Equal(t, "relay down", se.Body)
	}

	assert.Equal(t, gobreaker.StateOpen, cb.State())
	_, err := cb.Post(context.Background(), srv.URL, "application/json", []byte("{}"))
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, cb.Ping(context.Background()), ErrCircuitOpen)
}

func TestCircuitBreaker_SuccessKeepsClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cb := newBreaker("mail-relay-test-ok")
	for i := 0; i < 5; i++ {
		resp, err := cb.Post(context.Background(), srv.URL, "application/json", []byte("{}"))
		require.NoError(t, err)
		resp.Body.Close()
	}

	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.NoError(t, cb.Ping(context.Background()))
}

func TestStateToFloat(t *testing.T) {
	assert.Equal(t, 0.0, stateToFloat(gobreaker.StateClosed))
	assert.Equal(t, 1.0, stateToFloat(gobreaker.StateHalfOpen))
	assert.Equal(t, 2.0, stateToFloat(gobreaker.StateOpen))
}
