package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flaviostutz/sharedfs/api"
	"github.com/flaviostutz/sharedfs/filesystem"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seen struct {
	method, path, project, body string
}

func fakeDaemon(t *testing.T, status int, reply interface{}) (*Client, *[]seen) {
	var requests []seen
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, seen{r.Method, r.URL.EscapedPath(), r.Header.Get(api.ProjectHeader), string(body)})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if reply != nil {
			json.NewEncoder(w).Encode(reply)
		}
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "project1"), &requests
}

func TestCreate(t *testing.T) {
	c, requests := fakeDaemon(t, http.StatusOK, api.FSEntryResponse{
		Entry: api.FSEntry{Name: "projectfs", Size: "2", Scope: "project", Project: "project1"},
	})
	resp, err := c.Create(context.Background(), "projectfs", 2, filesystem.ScopeProject)
	require.NoError(t, err)
	assert.Equal(t, "project1", resp.Entry.Project)

	require.Len(t, *requests, 1)
	r := (*requests)[0]
	assert.Equal(t, "PUT", r.method)
	assert.Equal(t, "/v1/filesystems/projectfs", r.path)
	assert.Equal(t, "project1", r.project)
	assert.JSONEq(t, `{"fs_entry": {"size": 2, "scope": "project"}}`, r.body)
}

func TestListAndAttachments(t *testing.T) {
	c, _ := fakeDaemon(t, http.StatusOK, api.FSEntriesResponse{Entries: []api.FSEntry{{Name: "a"}, {Name: "b"}}})
	list, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 2)

	c, requests := fakeDaemon(t, http.StatusOK, api.InstanceEntriesResponse{Entries: []api.InstanceEntry{{ID: "instance1"}}})
	ids, err := c.Attachments(context.Background(), "globalfs")
	require.NoError(t, err)
	assert.Equal(t, []string{"instance1"}, ids)
	assert.Equal(t, "/v1/filesystems/globalfs/attachments", (*requests)[0].path)
}

func TestAttachSendsNoBody(t *testing.T) {
	c, requests := fakeDaemon(t, http.StatusOK, api.InstanceEntryResponse{Entry: api.InstanceEntry{ID: "instance1"}})
	require.NoError(t, c.Attach(context.Background(), "fs", "instance1"))
	assert.Equal(t, seen{"PUT", "/v1/filesystems/fs/attachments/instance1", "project1", ""}, (*requests)[0])
}

func TestErrorsMapToSentinels(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, filesystem.ErrNotFound},
		{http.StatusForbidden, filesystem.ErrUnauthorized},
		{http.StatusUnprocessableEntity, filesystem.ErrInvalidRequest},
		{http.StatusConflict, filesystem.ErrDuplicateName},
		{http.StatusServiceUnavailable, filesystem.ErrBackendUnavailable},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c, _ := fakeDaemon(t, tt.status, api.ErrorResponse{Error: "nope"})
			err := c.Delete(context.Background(), "fs")
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}
