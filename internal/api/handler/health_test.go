package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthReady(t *testing.T) {
	up := DependencyCheck{Name: "ledger", Ping: func(context.Context) error { return nil }}
	down := DependencyCheck{Name: "broker", Ping: func(context.Context) error { return errors.New("dial tcp: refused") }}

	t.Run("all up", func(t *testing.T) {
		h := NewHealthHandler(nil, nil, up)
		w := httptest.NewRecorder()
		h.Ready(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Status     string            `json:"status"`
			Components map[string]string `json:"components"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "ready", body.Status)
		assert.Equal(t, map[string]string{"ledger": "up"}, body.Components)
	})

	t.Run("dependency down", func(t *testing.T) {
		h := NewHealthHandler(nil, nil, up, down)
		w := httptest.NewRecorder()
		h.Ready(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
		assert.Contains(t, w.Body.String(), "health/broker-unavailable")
	})
}
