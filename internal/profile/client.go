// Package profile is a thin client for the external user-profile REST
// service. The dispatch core only needs a stable user id from it; the
// rest of the surface mirrors what the mobile app uses.
package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: 5 * time.Second}}
}

// APIError carries the service's error body when a call fails.
type APIError struct {
	StatusCode int
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("profile: %d %s", e.StatusCode, e.Message)
}

// SignUp creates or updates the user record after authentication.
func (c *Client) SignUp(ctx context.Context, p models.Profile) (models.Profile, error) {
	return c.do(ctx, http.MethodPost, "/users/signup", &p)
}

// GetByID fetches a profile by internal id.
func (c *Client) GetByID(ctx context.Context, id string) (models.Profile, error) {
	return c.do(ctx, http.MethodGet, "/users/id/"+url.PathEscape(id), nil)
}

// GetByProviderUID fetches a profile by the identity provider's uid.
func (c *Client) GetByProviderUID(ctx context.Context, uid string) (models.Profile, error) {
	return c.do(ctx, http.MethodGet, "/users/firebase/"+url.PathEscape(uid), nil)
}

// Update overwrites mutable profile fields.
func (c *Client) Update(ctx context.Context, uid string, p models.Profile) (models.Profile, error) {
	return c.do(ctx, http.MethodPut, "/users/firebase/"+url.PathEscape(uid), &p)
}

// Delete removes the user record.
func (c *Client) Delete(ctx context.Context, uid string) error {
	_, err := c.do(ctx, http.MethodDelete, "/users/firebase/"+url.PathEscape(uid), nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body *models.Profile) (models.Profile, error) {
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return models.Profile{}, err
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return models.Profile{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return models.Profile{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return models.Profile{}, apiErr
	}
	var out models.Profile
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return models.Profile{}, fmt.Errorf("profile: decode response: %w", err)
		}
	}
	return out, nil
}
