package social

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClient_Friendship_Status(t *testing.T) {
	req := require.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/alice/friends/bob":
			w.WriteHeader(http.StatusOK)
		case "/users/alice/friends/mallory":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, slog.Default())

	// Friends
	ok, err := client.IsAuthorizedToChat(context.Background(), "alice", "bob")
	req.NoError(err)
	req.True(ok)

	// Not friends
	ok, err = client.IsAuthorizedToChat(context.Background(), "alice", "mallory")
	req.NoError(err)
	req.False(ok)

	// Upstream failure surfaces as an error, not a silent deny
	_, err = client.IsAuthorizedToChat(context.Background(), "alice", "broken")
	req.Error(err)
}

func TestAllowAll(t *testing.T) {
	req := require.New(t)
	ok, err := AllowAll{}.IsAuthorizedToChat(context.Background(), "anyone", "else")
	req.NoError(err)
	req.True(ok)
}
