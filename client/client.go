// Package client talks to the sharedfs HTTP management surface
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flaviostutz/sharedfs/api"
	"github.com/flaviostutz/sharedfs/filesystem"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Client for one sharedfs daemon, acting on behalf of Project
type Client struct {
	BaseURL string
	Project string
	HTTP    *http.Client
}

// New returns a client for the daemon at baseURL
func New(baseURL, project string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Project: project,
		HTTP:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// List returns the filesystems confirmed by the backend
func (c *Client) List(ctx context.Context) ([]api.FSEntry, error) {
	var resp api.FSEntriesResponse
	if err := c.do(ctx, "GET", "/v1/filesystems", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Create creates a filesystem of size GB with the given scope
func (c *Client) Create(ctx context.Context, name string, size int, scope filesystem.Scope) (*api.FSEntryResponse, error) {
	s := scope.String()
	req := api.CreateRequest{Entry: &api.CreateEntry{Size: size, Scope: &s}}
	var resp api.FSEntryResponse
	if err := c.do(ctx, "PUT", fsPath(name), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Delete(ctx context.Context, name string) error {
	return c.do(ctx, "DELETE", fsPath(name), nil, nil)
}

// Attachments returns the ids of the instances attached to a filesystem
func (c *Client) Attachments(ctx context.Context, name string) ([]string, error) {
	var resp api.InstanceEntriesResponse
	if err := c.do(ctx, "GET", fsPath(name)+"/attachments", nil, &resp); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

func (c *Client) Attach(ctx context.Context, name, instanceID string) error {
	return c.do(ctx, "PUT", attachmentPath(name, instanceID), nil, nil)
}

func (c *Client) Detach(ctx context.Context, name, instanceID string) error {
	return c.do(ctx, "DELETE", attachmentPath(name, instanceID), nil, nil)
}

func fsPath(name string) string {
	return "/v1/filesystems/" + url.PathEscape(name)
}

func attachmentPath(name, instanceID string) string {
	return fsPath(name) + "/attachments/" + url.PathEscape(instanceID)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Project != "" {
		req.Header.Set(api.ProjectHeader, c.Project)
	}

	logrus.Debugf("%s %s", method, req.URL)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errors.Wrapf(filesystem.ErrBackendUnavailable, "%s %s: %s", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return errors.Wrap(sentinelOf(resp.StatusCode), e.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response of %s %s: %s", method, path, err)
	}
	return nil
}

// sentinelOf is the reverse of the server status mapping
func sentinelOf(code int) error {
	switch code {
	case http.StatusNotFound:
		return filesystem.ErrNotFound
	case http.StatusForbidden:
		return filesystem.ErrUnauthorized
	case http.StatusUnprocessableEntity:
		return filesystem.ErrInvalidRequest
	case http.StatusConflict:
		return filesystem.ErrDuplicateName
	default:
		return filesystem.ErrBackendUnavailable
	}
}
