// Package social answers one question: may these two users chat. The social
// network service owns friendships; this package only queries it.
package social

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"chat-relay/domain"
)

// AllowAll authorizes every pair of users. It is the policy when no social
// graph endpoint is configured, such as single tenant or dev deployments.
type AllowAll struct{}

func (AllowAll) IsAuthorizedToChat(ctx context.Context, a, b domain.UserID) (bool, error) {
	return true, nil
}

// Client asks the social network service whether two users are connected.
type Client struct {
	http    *http.Client
	baseURL string
	log     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		log:     log,
	}
}

// IsAuthorizedToChat resolves the friendship between a and b. A 200 means
// connected, a 404 means not connected; anything else is a transport or
// server failure and the caller decides how to degrade.
func (c *Client) IsAuthorizedToChat(ctx context.Context, a, b domain.UserID) (bool, error) {
	endpoint := fmt.Sprintf("%s/users/%s/friends/%s",
		c.baseURL, url.PathEscape(string(a)), url.PathEscape(string(b)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("social graph lookup: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("social graph lookup: unexpected status %d", resp.StatusCode)
	}
}
