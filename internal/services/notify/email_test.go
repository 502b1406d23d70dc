package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"MarketPull/internal/domain/service"
	"MarketPull/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailNotifier_Sends(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer mk", r.Header.Get("Authorization"))
		var req emailRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"ann@example.com"}, req.To)
		assert.Equal(t, "Alert triggered: AAPL > 100", req.Subject)
		assert.Contains(t, req.HTML, "<td>current_close</td><td>101</td>")
		assert.Contains(t, req.HTML, "AAPL &gt; 100")
		_, _ = w.Write([]byte(`{"id":"msg_1"}`))
	}))
	defer srv.Close()

	n := NewEmailNotifier(Config{APIURL: srv.URL, APIKey: "mk", From: "a@b.c", Retries: 1}, logger.NewNop())
	sent := n.SendAlertTriggered(context.Background(), service.AlertEmail{
		To:        "ann@example.com",
		AlertName: "AAPL > 100",
		Details:   map[string]interface{}{"current_close": 101.0},
	})
	assert.True(t, sent)
}

func TestEmailNotifier_FailureIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	n := NewEmailNotifier(Config{APIURL: srv.URL, APIKey: "mk", Retries: 1}, logger.NewNop())
	assert.False(t, n.SendAlertTriggered(context.Background(), service.AlertEmail{To: "x@y.z", AlertName: "a"}))
}

func TestEmailNotifier_Unconfigured(t *testing.T) {
	n := NewEmailNotifier(Config{APIURL: "http://unused"}, logger.NewNop())
	assert.False(t, n.SendAlertTriggered(context.Background(), service.AlertEmail{To: "x@y.z", AlertName: "a"}))
}
