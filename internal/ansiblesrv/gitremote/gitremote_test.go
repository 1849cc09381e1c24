package gitremote

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gitOrSkip(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
}

func commitAll(t *testing.T, dir, msg string) {
	t.Helper()
	ctx := context.Background()
	r := &repository{dir: dir}
	_, err := r.run(ctx, "add", "-A")
	require.NoError(t, err)
	_, err = r.run(ctx, "-c", "user.name=test", "-c", "user.email=test@example.com", "commit", "--quiet", "-m", msg)
	require.NoError(t, err)
}

func newUpstream(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	_, err := runGit(context.Background(), "init", "--quiet", dir)
	require.NoError(t, err)
	writeFiles(t, dir, map[string]string{
		"collections/ns/one/galaxy.yml":               "namespace: ns\nname: one\nversion: 1.0.0\nauthors: [someone]\nbuild_ignore: ['*.log']\n",
		"collections/ns/one/README.md":                "one",
		"collections/ns/one/debug.log":                "noise",
		"collections/ns/one/plugins/modules/ping.py":  "# ping",
		"collections/ns/two/galaxy.yml":               "namespace: ns\nname: two\nversion: 0.2.0\ndependencies:\n  ns.one: '>=1.0.0'\n",
		"collections/ns/two/roles/web/tasks/main.yml": "- debug: {}\n",
	})
	commitAll(t, dir, "initial")
	return dir
}

func TestCollections(t *testing.T) {
	gitOrSkip(t)
	ctx := log.Logger.WithContext(context.Background())
	upstream := newUpstream(t)

	remote := &models.Remote{Name: "git", URL: "file://" + upstream}
	cols, err := Collections(ctx, remote, t.TempDir())
	require.NoError(t, err)
	require.Len(t, cols, 2)

	one, two := cols[0], cols[1]
	assert.Equal(t, "collections/ns/one", one.Path)
	assert.Equal(t, "one", one.Info.Name)
	assert.NotEmpty(t, one.Tarball)
	assert.Len(t, one.Commit, 40)

	var names []string
	for _, f := range one.Import.Files.Files {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "README.md")
	assert.NotContains(t, names, "debug.log")
	assert.NotContains(t, names, "galaxy.yml")

	cv := one.CollectionVersion()
	assert.Equal(t, "ns", cv.Namespace)
	assert.Equal(t, "1.0.0", cv.Version)
	assert.Len(t, cv.Sha256, 64)

	assert.Equal(t, map[string]string{"ns.one": ">=1.0.0"}, two.Info.Dependencies)
	cv2 := two.CollectionVersion()
	assert.Equal(t, "web", cv2.Contents[0].Name)
	assert.Equal(t, "role", cv2.Contents[0].ContentType)

	// rebuilding the same commit gives the same digest
	again, err := Collections(ctx, remote, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, cv.Sha256, again[0].CollectionVersion().Sha256)
}

func TestCollectionsAtRef(t *testing.T) {
	gitOrSkip(t)
	ctx := log.Logger.WithContext(context.Background())
	upstream := newUpstream(t)
	r := &repository{dir: upstream}
	_, err := r.run(ctx, "tag", "v1")
	require.NoError(t, err)

	writeFiles(t, upstream, map[string]string{
		"collections/ns/one/galaxy.yml": "namespace: ns\nname: one\nversion: 2.0.0\n",
	})
	commitAll(t, upstream, "bump")

	head, err := Collections(ctx, &models.Remote{URL: "file://" + upstream}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", head[0].Info.Version)

	tagged, err := Collections(ctx, &models.Remote{URL: "file://" + upstream, GitRef: "v1", MetadataOnly: true}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", tagged[0].Info.Version)
	assert.Nil(t, tagged[0].Tarball)
	assert.Len(t, tagged[0].CollectionVersion().Sha256, 64)
}

func TestIgnored(t *testing.T) {
	patterns := []string{".git", "*.pyc", "tests/output", "docs/"}
	assert.True(t, ignored(".git", patterns))
	assert.True(t, ignored("plugins/x.pyc", patterns))
	assert.True(t, ignored("tests/output/junit.xml", patterns))
	assert.True(t, ignored("docs", patterns))
	assert.False(t, ignored("tests/unit/test_x.py", patterns))
	assert.False(t, ignored("README.md", patterns))
}

func TestCloneFailure(t *testing.T) {
	gitOrSkip(t)
	ctx := log.Logger.WithContext(context.Background())
	_, err := Collections(ctx, &models.Remote{URL: "file://" + filepath.Join(t.TempDir(), "missing")}, t.TempDir())
	require.Error(t, err)
}
