package filesystem

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScope(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Scope
		wantErr bool
	}{
		{name: "instance", in: "instance", want: ScopeInstance},
		{name: "project", in: "project", want: ScopeProject},
		{name: "global", in: "global", want: ScopeGlobal},
		{name: "uppercase is rejected", in: "Global", wantErr: true},
		{name: "empty", in: "", wantErr: true},
		{name: "unknown", in: "tenant", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScope(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidScope), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestScopeAutoAttach(t *testing.T) {
	assert.False(t, ScopeInstance.AutoAttach())
	assert.True(t, ScopeProject.AutoAttach())
	assert.True(t, ScopeGlobal.AutoAttach())
	assert.False(t, Scope(0).AutoAttach())
}

func TestScopeJSON(t *testing.T) {
	var body struct {
		Scope Scope `json:"scope"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"scope":"project"}`), &body))
	assert.Equal(t, ScopeProject, body.Scope)

	err := json.Unmarshal([]byte(`{"scope":"everything"}`), &body)
	assert.True(t, errors.Is(err, ErrInvalidScope), "got %v", err)

	out, err := json.Marshal(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"scope":"project"}`, string(out))
}

func TestFilesystemValidate(t *testing.T) {
	tests := []struct {
		name    string
		fs      Filesystem
		wantErr error
	}{
		{name: "global without project", fs: Filesystem{Name: "globalfs", Scope: ScopeGlobal}},
		{name: "project with owner", fs: Filesystem{Name: "projectfs", Scope: ScopeProject, Project: "project1", Size: 2}},
		{name: "project without owner", fs: Filesystem{Name: "projectfs", Scope: ScopeProject}, wantErr: ErrInvalidRequest},
		{name: "instance without owner", fs: Filesystem{Name: "instancefs", Scope: ScopeInstance}, wantErr: ErrInvalidRequest},
		{name: "bad scope", fs: Filesystem{Name: "x", Scope: Scope(9), Project: "p"}, wantErr: ErrInvalidScope},
		{name: "bad name", fs: Filesystem{Name: "a/b", Scope: ScopeGlobal}, wantErr: ErrInvalidRequest},
		{name: "negative size", fs: Filesystem{Name: "a", Scope: ScopeGlobal, Size: -1}, wantErr: ErrInvalidRequest},
		{name: "dot name", fs: Filesystem{Name: ".", Scope: ScopeGlobal}, wantErr: ErrInvalidRequest},
		{name: "dot dot name", fs: Filesystem{Name: "..", Scope: ScopeGlobal}, wantErr: ErrInvalidRequest},
		{name: "dotted name", fs: Filesystem{Name: "fs.v1", Scope: ScopeGlobal}},
		{name: "project with quote", fs: Filesystem{Name: "projectfs", Scope: ScopeProject, Project: "x'; touch /tmp/x; echo '"}, wantErr: ErrInvalidRequest},
		{name: "project escaping brick dir", fs: Filesystem{Name: "projectfs", Scope: ScopeProject, Project: "../../etc"}, wantErr: ErrInvalidRequest},
		{name: "dot dot project", fs: Filesystem{Name: "projectfs", Scope: ScopeInstance, Project: ".."}, wantErr: ErrInvalidRequest},
		{name: "global with bad project", fs: Filesystem{Name: "globalfs", Scope: ScopeGlobal, Project: "a/b"}, wantErr: ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fs.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}
