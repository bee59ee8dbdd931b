// Package identity implements the one-shot HTTPS call to the third-party
// identity service that exchanges a client-supplied key for a user record
// (spec.md §4.2 step 4, §6). The request/response shape follows the same
// pattern the teacher repo uses for its only outbound HTTP call
// (linkpreview.go's fetchLinkPreview): a short-timeout http.Client, a
// manually built request, and a decoded JSON body — the natural stdlib
// counterpart of a one-shot authenticated POST, since nothing in the
// retrieved pack wraps this kind of call in a third-party HTTP client.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BeamMP/BeamMP-Server/gameerr"
)

// requestTimeout bounds how long the server will wait on the identity
// service before giving up and kicking the connecting client.
const requestTimeout = 10 * time.Second

// User is the identity record returned by the identity service.
type User struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
	Roles    string `json:"roles"`
	Guest    bool   `json:"guest"`
}

// Client exchanges opaque client keys for User records.
type Client struct {
	AuthHost string
	http     *http.Client
}

// NewClient returns a Client that POSTs to https://<authHost>/pkToUser.
func NewClient(authHost string) *Client {
	return &Client{
		AuthHost: authHost,
		http:     &http.Client{Timeout: requestTimeout},
	}
}

// WithHTTPClient overrides the underlying http.Client, for tests that
// need to point Resolve at an httptest server with its own cert pool.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

type keyRequest struct {
	Key string `json:"key"`
}

// Resolve exchanges key for a User record (spec.md §6: "POST
// https://<auth-host>/pkToUser with JSON { "key": "<opaque>" }").
func (c *Client) Resolve(ctx context.Context, key string) (User, error) {
	body, err := json.Marshal(keyRequest{Key: key})
	if err != nil {
		return User{}, gameerr.New(gameerr.Auth, "identity.marshal", err)
	}

	url := fmt.Sprintf("https://%s/pkToUser", c.AuthHost)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return User{}, gameerr.New(gameerr.Auth, "identity.request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return User{}, gameerr.New(gameerr.Auth, "identity.do", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return User{}, gameerr.New(gameerr.Auth, "identity.status",
			fmt.Errorf("identity service returned %d: %s", resp.StatusCode, snippet))
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return User{}, gameerr.New(gameerr.Auth, "identity.decode", err)
	}
	if user.UID == "" || user.Username == "" {
		return User{}, gameerr.New(gameerr.Auth, "identity.shape", fmt.Errorf("response missing uid/username"))
	}
	return user, nil
}
