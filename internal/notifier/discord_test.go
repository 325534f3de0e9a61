package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifier_Notify(t *testing.T) {
	var got map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewDiscordNotifier(server.URL)

	require.NoError(t, n.Notify(context.Background(), "Done: 3/4 downloaded"))
	assert.Equal(t, "Done: 3/4 downloaded", got["content"])
}

func TestDiscordNotifier_Errors(t *testing.T) {
	assert.Error(t, NewDiscordNotifier("").Notify(context.Background(), "x"))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := NewDiscordNotifier(server.URL).Notify(context.Background(), "x")
	assert.ErrorContains(t, err, "status 400")
}

func TestNop(t *testing.T) {
	var n Notifier = Nop{}

	assert.NoError(t, n.Notify(context.Background(), "x"))
}
