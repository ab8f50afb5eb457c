package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DirectoryClient is a client for the platform directory service. It resolves
// which users hold a role inside an organization, for approval routing and
// notification fan-out.
type DirectoryClient struct {
	baseURL string
	client  *http.Client
}

// NewDirectoryClient creates a new directory service client.
func NewDirectoryClient(baseURL string) *DirectoryClient {
	return &DirectoryClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type usersWithRoleResponse struct {
	UserIDs []string `json:"user_ids"`
}

// GetUsersWithRole returns user ids holding the role in an organization.
func (c *DirectoryClient) GetUsersWithRole(ctx context.Context, organizationID, role string) ([]string, error) {
	path := fmt.Sprintf("%s/api/v1/organizations/%s/users?role=%s",
		c.baseURL, url.PathEscape(organizationID), url.QueryEscape(role))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build directory request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query directory service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("directory service returned %d: %s", resp.StatusCode, body)
	}

	var out usersWithRoleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode directory response: %w", err)
	}
	return out.UserIDs, nil
}
