package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/apis"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/artifactstore"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/collectionimport"
	srvconfig "github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/config"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/memdb"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/orphans"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/server"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/syncer"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/tasks"
	"github.com/pulp/pulp-ansible-sub001/internal/common/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// setupCLI points the CLI at an in-process server and returns a function
// running one command line.
func setupCLI(t *testing.T) func(args ...string) (string, error) {
	d := memdb.New()
	store := artifactstore.NewMemory()
	store.SetReferenceChecker(d)
	runner := tasks.NewRunner(d, 2, time.Minute)
	t.Cleanup(runner.Wait)

	s, err := server.CreateNewServer(d, &apis.Services{
		Config:  srvconfig.Defaults(),
		Store:   store,
		Tasks:   runner,
		Syncer:  syncer.New(d, store, syncer.Options{Workers: 1, WorkDir: t.TempDir()}),
		Orphans: orphans.New(d, store),
	})
	require.NoError(t, err)
	s.MountHandlers()

	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("version: \"1\"\nserver: localhost:24817\nurl_namespace: api\n"), 0644))

	prevClient, prevPoll := newClient, pollInterval
	newClient = func(cfg *Config) httpclient.HTTPClientInterface {
		return httpclient.NewTestClient(cfg, s.Router)
	}
	pollInterval = 10 * time.Millisecond
	t.Cleanup(func() {
		newClient, pollInterval = prevClient, prevPoll
	})

	return func(args ...string) (string, error) {
		jsonOutput = false
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs(append([]string{"--config", cfgFile}, args...))
		err := rootCmd.Execute()
		return out.String(), err
	}
}

func TestVersionCommand(t *testing.T) {
	run := setupCLI(t)
	out, err := run("version")
	require.NoError(t, err)
	assert.Equal(t, "pulp-ansible "+cliVersion+"\n", out)
}

func TestUploadThroughCLI(t *testing.T) {
	run := setupCLI(t)

	_, err := run("repository", "create", "dev", "-d", "development")
	require.NoError(t, err)
	out, err := run("distribution", "create", "dev", "--base-path", "dev", "--repository", "dev")
	require.NoError(t, err)
	assert.Contains(t, out, "base_path:")

	artifact, aerr := collectionimport.Build(collectionimport.CollectionInfo{
		Namespace: "acme",
		Name:      "tools",
		Version:   "1.0.0",
		Authors:   []string{"tester"},
	}, map[string][]byte{"README.md": []byte("# tools\n")})
	require.Nil(t, aerr)
	file := filepath.Join(t.TempDir(), "acme-tools-1.0.0.tar.gz")
	require.NoError(t, os.WriteFile(file, artifact, 0644))

	out, err = run("--json", "upload", file, "--base-path", "dev", "--wait")
	require.NoError(t, err, out)
	assert.Equal(t, "done", gjson.Get(out, "state").String())
	assert.Equal(t, int64(1), gjson.Get(out, "created_version").Int())

	out, err = run("--json", "repository", "versions", "dev")
	require.NoError(t, err)
	assert.Equal(t, int64(2), gjson.Get(out, "meta.count").Int())

	out, err = run("repository", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Repositories (1):")
	assert.Contains(t, out, "development")

	_, err = run("repository", "show", "missing")
	assert.ErrorContains(t, err, `repository "missing" not found`)
}

func TestApplyResolvesNames(t *testing.T) {
	run := setupCLI(t)
	dir := t.TempDir()
	write := func(name, content string) string {
		f := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(f, []byte(content), 0644))
		return f
	}

	_, err := run("apply", "-f", write("repo.yaml", "kind: Repository\nspec:\n  name: community\n"))
	require.NoError(t, err)
	_, err = run("apply", "-f", write("dist.yaml", "kind: Distribution\nspec:\n  name: community\n  base_path: community\n  repository: community\n"))
	require.NoError(t, err)

	out, err := run("--json", "distribution", "list")
	require.NoError(t, err)
	assert.Equal(t, "community", gjson.Get(out, "data.0.base_path").String())
	assert.NotEmpty(t, gjson.Get(out, "data.0.repository").String())

	_, err = run("apply", "-f", write("bad.yaml", "kind: Distribution\nspec:\n  name: x\n  base_path: x\n  repository: nope\n"))
	assert.Error(t, err)
}

func TestServerErrorsSurface(t *testing.T) {
	run := setupCLI(t)
	_, err := run("domain", "delete", "default")
	var herr *httpclient.HTTPError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, 400, herr.StatusCode)

	_, err = run("domain", "create", "eu")
	require.NoError(t, err)
	_, err = run("domain", "create", "eu")
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, 409, herr.StatusCode)
}

func TestOrphanCleanupCommand(t *testing.T) {
	run := setupCLI(t)
	out, err := run("--json", "orphans", "cleanup", "--wait")
	require.NoError(t, err)
	assert.Equal(t, "done", gjson.Get(out, "state").String())
	assert.Len(t, gjson.Get(out, "progress_reports").Array(), 3)
}

func TestAdminMigrate(t *testing.T) {
	run := setupCLI(t)
	serverCfg := filepath.Join(t.TempDir(), "ansible.toml")
	require.NoError(t, os.WriteFile(serverCfg, []byte("[database]\ntype = \"memory\"\n\n[storage]\ntype = \"memory\"\n"), 0644))

	out, err := run("admin", "migrate", "--server-config", serverCfg)
	require.NoError(t, err)
	assert.Equal(t, "database is up to date\n", out)

	out, err = run("admin", "reindex", "--server-config", serverCfg)
	require.NoError(t, err)
	assert.Equal(t, "reindexed 0 collection versions\n", out)
}
