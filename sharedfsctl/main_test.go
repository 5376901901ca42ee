package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flaviostutz/sharedfs/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, handler http.HandlerFunc, args ...string) (string, error) {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	var out bytes.Buffer
	cmd := newRootCmd(&opt{}, &out)
	cmd.SetArgs(append([]string{"--url", srv.URL, "--project", "project1"}, args...))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func replyJSON(v interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}
}

func TestList(t *testing.T) {
	list := api.FSEntriesResponse{Entries: []api.FSEntry{
		{Name: "projectfs", Size: "2GB", Scope: "project", Project: "project1", ProjectName: "Project One"},
	}}

	out, err := run(t, replyJSON(list), "list")
	require.NoError(t, err)
	assert.Equal(t, "NAME\nprojectfs\n", out)

	out, err = run(t, replyJSON(list), "list", "--long")
	require.NoError(t, err)
	assert.Contains(t, out, "SCOPE")
	assert.Contains(t, out, "Project One")
}

func TestCreate(t *testing.T) {
	var gotPath, gotProject string
	handler := func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotProject = r.Header.Get(api.ProjectHeader)
		replyJSON(api.FSEntryResponse{Entry: api.FSEntry{Name: "globalfs", Size: "1", Scope: "global", Project: "project1"}})(w, r)
	}
	out, err := run(t, handler, "create", "globalfs", "1", "global")
	require.NoError(t, err)
	assert.Equal(t, "/v1/filesystems/globalfs", gotPath)
	assert.Equal(t, "project1", gotProject)
	assert.Contains(t, out, "globalfs")
}

func TestCreateRejectsBadArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad size", []string{"create", "fs", "big", "global"}},
		{"bad scope", []string{"create", "fs", "1", "planet"}},
		{"missing args", []string{"create", "fs"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			_, err := run(t, func(w http.ResponseWriter, r *http.Request) { called = true }, tt.args...)
			assert.Error(t, err)
			assert.False(t, called)
		})
	}
}

func TestAttachmentsAndErrors(t *testing.T) {
	out, err := run(t, replyJSON(api.InstanceEntriesResponse{Entries: []api.InstanceEntry{{ID: "instance1"}}}), "attachments", "fs")
	require.NoError(t, err)
	assert.Equal(t, "ID\ninstance1\n", out)

	_, err = run(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, "detach", "fs", "instance1")
	assert.Error(t, err)
}
