package collectionimport

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func demoInfo() CollectionInfo {
	return CollectionInfo{
		Namespace:    "testing",
		Name:         "demo",
		Version:      "1.0.0",
		Authors:      []string{"Acme"},
		Tags:         []string{"networking"},
		Description:  "demo collection",
		License:      []string{"GPL-3.0-or-later"},
		Dependencies: map[string]string{"testing.base": ">=1.0.0"},
	}
}

func demoFiles() map[string][]byte {
	return map[string][]byte{
		"README.md":                    []byte("# demo\n"),
		"meta/runtime.yml":             []byte("requires_ansible: '>=2.14.0'\n"),
		"plugins/modules/ping.py":      []byte("# ping\n"),
		"plugins/modules/__init__.py":  nil,
		"plugins/lookup/vault.py":      []byte("# vault\n"),
		"roles/web/tasks/main.yml":     []byte("- debug: msg=hi\n"),
		"playbooks/site.yml":           []byte("- hosts: all\n"),
		"docs/docsite/extra/links.yml": []byte("{}\n"),
	}
}

func TestBuildAndRead(t *testing.T) {
	tarball, err := Build(demoInfo(), demoFiles())
	require.NoError(t, err)

	again, err := Build(demoInfo(), demoFiles())
	require.NoError(t, err)
	assert.Equal(t, tarball, again)

	c, err := Read(bytes.NewReader(tarball))
	require.NoError(t, err)
	assert.Equal(t, "testing", c.Manifest.CollectionInfo.Namespace)
	assert.Equal(t, ">=2.14.0", c.RequiresAnsible)
	assert.Equal(t, []models.ContentEntry{
		{Name: "vault", ContentType: "lookup"},
		{Name: "ping", ContentType: catcommon.CollectionContentModule},
		{Name: "site", ContentType: catcommon.CollectionContentPlaybook},
		{Name: "web", ContentType: catcommon.CollectionContentRole},
	}, c.Contents)

	sum := sha256.Sum256(tarball)
	cv := c.CollectionVersion(hex.EncodeToString(sum[:]))
	assert.Equal(t, "1.0.0", cv.Version)
	assert.Equal(t, ">=1.0.0", cv.Dependencies["testing.base"])
	assert.Equal(t, hex.EncodeToString(sum[:]), cv.Sha256)
	assert.NotEmpty(t, cv.Files)
}

// rewrite copies the archive, replacing the content of one entry.
func rewrite(t *testing.T, tarball []byte, name string, data []byte) []byte {
	gzr, err := gzip.NewReader(bytes.NewReader(tarball))
	require.NoError(t, err)
	tr := tar.NewReader(gzr)
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		if hdr.Name == name {
			body = data
			hdr.Size = int64(len(data))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err = tw.Write(body)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())
	return buf.Bytes()
}

func TestReadRejects(t *testing.T) {
	tarball, err := Build(demoInfo(), demoFiles())
	require.NoError(t, err)

	bad := demoInfo()
	bad.Version = "1.0"
	badVersion, err := Build(bad, demoFiles())
	require.NoError(t, err)

	badNs := demoInfo()
	badNs.Namespace = "Bad-Namespace"
	badNamespace, err := Build(badNs, demoFiles())
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"not gzip", []byte("plain text")},
		{"tampered file", rewrite(t, tarball, "README.md", []byte("# changed\n"))},
		{"tampered files manifest", rewrite(t, tarball, FilesName, []byte(`{"files":[],"format":1}`))},
		{"bad version", badVersion},
		{"bad namespace", badNamespace},
		{"bad runtime", rewrite(t, tarball, "meta/runtime.yml", []byte("requires_ansible: [\n"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(bytes.NewReader(tt.data))
			assert.ErrorIs(t, err, ansibleerrors.ErrInvalidCollection)
		})
	}
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "testing-demo-1.0.0.tar.gz", Filename("testing", "demo", "1.0.0"))
}
