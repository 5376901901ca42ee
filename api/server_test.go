package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flaviostutz/sharedfs/events"
	"github.com/flaviostutz/sharedfs/filesystem"
	"github.com/flaviostutz/sharedfs/ledger"
	"github.com/flaviostutz/sharedfs/reconcile"
	"github.com/flaviostutz/sharedfs/reconcile/reconciletest"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*Server
	backend   *reconciletest.Backend
	directory *reconciletest.Directory
}

func newTestServer(t *testing.T) *testServer {
	l, err := ledger.NewBolt(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	b := reconciletest.NewBackend()
	d := reconciletest.NewDirectory()
	d.Add("instance1", "project1", "10.10.10.43")
	d.Add("instance2", "project2", "10.10.10.44")

	reg := prometheus.NewRegistry()
	engine, err := reconcile.New(reconcile.Config{
		Ledger:    l,
		Backend:   b,
		Directory: d,
		Metrics:   reconcile.NewMetrics(reg),
	})
	require.NoError(t, err)
	filter := events.NewFilter(nil, nil, engine, reg)
	return &testServer{Server: NewServer(engine, filter, reg), backend: b, directory: d}
}

func (s *testServer) do(method, path, body, project string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if project != "" {
		req.Header.Set(ProjectHeader, project)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{filesystem.ErrNotFound, http.StatusNotFound},
		{errors.Wrap(filesystem.ErrUnauthorized, "x"), http.StatusForbidden},
		{filesystem.ErrInvalidScope, http.StatusUnprocessableEntity},
		{filesystem.ErrInvalidRequest, http.StatusUnprocessableEntity},
		{filesystem.ErrDuplicateName, http.StatusConflict},
		{filesystem.ErrBackendUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusOf(tt.err))
		})
	}
}

func TestCreateListDelete(t *testing.T) {
	s := newTestServer(t)

	w := s.do("PUT", "/v1/filesystems/projectfs", `{"fs_entry": {"size": 2, "scope": "project"}}`, "project1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var created FSEntryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, FSEntry{Name: "projectfs", Size: "2", Scope: "project", Project: "project1"}, created.Entry)
	assert.Equal(t, []string{"10.10.10.43"}, s.backend.Allowed("projectfs"))

	w = s.do("PUT", "/v1/filesystems/projectfs", `{"fs_entry": {"size": 2, "scope": "project"}}`, "project1")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do("GET", "/v1/filesystems", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list FSEntriesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Entries, 1)
	assert.Equal(t, "project", list.Entries[0].Scope)

	w = s.do("DELETE", "/v1/filesystems/projectfs", "", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, s.backend.Allowed("projectfs"))

	w = s.do("DELETE", "/v1/filesystems/projectfs", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateRejectsMalformedBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no body", ""},
		{"not json", "{"},
		{"missing entry", `{"size": 1}`},
		{"missing scope", `{"fs_entry": {"size": 1}}`},
		{"bad scope", `{"fs_entry": {"size": 1, "scope": "planet"}}`},
		{"size not a number", `{"fs_entry": {"size": "big", "scope": "global"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			w := s.do("PUT", "/v1/filesystems/fs", tt.body, "project1")
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
			assert.Empty(t, s.backend.Calls())
		})
	}
}

func TestAttachments(t *testing.T) {
	s := newTestServer(t)
	w := s.do("PUT", "/v1/filesystems/fs", `{"fs_entry": {"size": 1, "scope": "instance"}}`, "project1")
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do("PUT", "/v1/filesystems/fs/attachments/instance2", `{"x": 1}`, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do("PUT", "/v1/filesystems/fs/attachments/instance2", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var entry InstanceEntryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
	assert.Equal(t, "instance2", entry.Entry.ID)

	w = s.do("GET", "/v1/filesystems/fs/attachments", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var entries InstanceEntriesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Equal(t, []InstanceEntry{{ID: "instance2"}}, entries.Entries)

	w = s.do("DELETE", "/v1/filesystems/fs/attachments/instance2", "", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, s.backend.Allowed("fs"))

	w = s.do("PUT", "/v1/filesystems/fs/attachments/nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do("GET", "/v1/filesystems/nope/attachments", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNotifications(t *testing.T) {
	s := newTestServer(t)
	w := s.do("PUT", "/v1/filesystems/globalfs", `{"fs_entry": {"size": 1, "scope": "global"}}`, "project1")
	require.Equal(t, http.StatusOK, w.Code)
	s.directory.Add("instance3", "project3", "10.10.10.45")

	w = s.do("POST", "/v1/notifications", `{"event_type": "compute.instance.create.end",
		"payload": {"instance_id": "instance3", "tenant_id": "project3"}}`, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp NotificationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Dispatched)
	assert.Contains(t, s.backend.Allowed("globalfs"), "10.10.10.45")

	w = s.do("POST", "/v1/notifications", `{"event_type": "compute.instance.exists", "payload": {}}`, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Dispatched)

	w = s.do("POST", "/v1/notifications", `not json`, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t)
	s.do("GET", "/v1/filesystems", "", "")
	w := s.do("GET", "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sharedfs_integrity_divergence")
}
