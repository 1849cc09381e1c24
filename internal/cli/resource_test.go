package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadResourceFromFile(t *testing.T) {
	dir := t.TempDir()
	write := func(content string) string {
		f := filepath.Join(dir, "resource.yaml")
		require.NoError(t, os.WriteFile(f, []byte(content), 0644))
		return f
	}

	r, err := LoadResourceFromFile(write(`kind: Remote
spec:
  name: community
  url: https://galaxy.ansible.com/
  policy: on_demand`))
	require.NoError(t, err)
	assert.Equal(t, "Remote", r.Kind)
	assert.JSONEq(t, `{"name":"community","url":"https://galaxy.ansible.com/","policy":"on_demand"}`, string(r.Spec))

	_, err = LoadResourceFromFile(write(`spec: {name: x}`))
	assert.Error(t, err)
	_, err = LoadResourceFromFile(write(`kind: Remote`))
	assert.Error(t, err)
	_, err = LoadResourceFromFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestGetResourceType(t *testing.T) {
	for kind, want := range map[string]string{
		"Domain":       "domains",
		"Remote":       "remotes",
		"Repository":   "repositories",
		"Distribution": "distributions",
	} {
		got, err := GetResourceType(kind)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := GetResourceType("Catalog")
	assert.Error(t, err)
}
