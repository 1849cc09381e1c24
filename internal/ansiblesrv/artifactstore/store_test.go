package artifactstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shaOf(b []byte) string {
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}

type fakeRefs map[string]bool

func (f fakeRefs) IsArtifactReferenced(ctx context.Context, sha string) (bool, error) {
	return f[sha], nil
}

func stores(t *testing.T) map[string]*Store {
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	return map[string]*Store{
		"filesystem": fs,
		"memory":     NewMemory(),
		"s3":         NewS3WithClient(newFakeS3(), "bucket", "media"),
	}
}

func TestPutIsIdempotent(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	content := []byte("collection tarball bytes")
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			res, err := s.Put(ctx, bytes.NewReader(content))
			require.NoError(t, err)
			assert.Equal(t, shaOf(content), res.Sha256)
			assert.Equal(t, int64(len(content)), res.Size)
			assert.Equal(t, int64(len(content)), res.Stored)

			again, err := s.Put(ctx, bytes.NewReader(content))
			require.NoError(t, err)
			assert.Equal(t, res.Sha256, again.Sha256)
			assert.Equal(t, int64(0), again.Stored)

			puts, stored := s.Stats()
			assert.Equal(t, int64(1), puts)
			assert.Equal(t, int64(len(content)), stored)

			ok, err := s.Exists(ctx, res.Sha256)
			require.NoError(t, err)
			assert.True(t, ok)

			r, err := s.Open(ctx, res.Sha256)
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			r.Close()
			require.NoError(t, err)
			assert.Equal(t, content, got)
		})
	}
}

func TestPutExpectedSha(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			content := []byte("tampered")
			wrong := strings.Repeat("a", 64)
			_, err := s.Put(ctx, bytes.NewReader(content), WithExpectedSha256(wrong))
			require.ErrorIs(t, err, ansibleerrors.ErrArtifactCorrupt)
			assert.Contains(t, err.Error(), shaOf(content))

			ok, err := s.Exists(ctx, shaOf(content))
			require.NoError(t, err)
			assert.False(t, ok)
			puts, _ := s.Stats()
			assert.Equal(t, int64(0), puts)

			res, err := s.Put(ctx, bytes.NewReader(content), WithExpectedSha256(shaOf(content)))
			require.NoError(t, err)
			assert.Equal(t, shaOf(content), res.Sha256)
		})
	}
}

func TestUnlink(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			res, err := s.Put(ctx, strings.NewReader("blob"))
			require.NoError(t, err)

			s.SetReferenceChecker(fakeRefs{res.Sha256: true})
			removed, err := s.Unlink(ctx, res.Sha256)
			require.NoError(t, err)
			assert.False(t, removed)
			ok, _ := s.Exists(ctx, res.Sha256)
			assert.True(t, ok)

			s.SetReferenceChecker(fakeRefs{})
			removed, err = s.Unlink(ctx, res.Sha256)
			require.NoError(t, err)
			assert.True(t, removed)
			ok, _ = s.Exists(ctx, res.Sha256)
			assert.False(t, ok)

			_, err = s.Open(ctx, res.Sha256)
			assert.ErrorIs(t, err, ErrArtifactNotFound)
		})
	}
}

func TestInvalidDigest(t *testing.T) {
	s := NewMemory()
	_, err := s.Open(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidDigest)
	_, err = s.Exists(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrInvalidDigest)
}

func TestFilesystemLayout(t *testing.T) {
	root := t.TempDir()
	s, err := NewFilesystem(root)
	require.NoError(t, err)
	res, err := s.Put(context.Background(), strings.NewReader("layout"))
	require.NoError(t, err)

	p := filepath.Join(root, "artifact", res.Sha256[:2], res.Sha256[2:])
	_, err = os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, "artifact/"+res.Sha256[:2]+"/"+res.Sha256[2:], RelativePath(res.Sha256))

	entries, err := os.ReadDir(filepath.Join(root, tmpDir))
	require.NoError(t, err)
	assert.Empty(t, entries, "no staged files left behind")
}

func TestConcurrentPuts(t *testing.T) {
	root := t.TempDir()
	s, err := NewFilesystem(root)
	require.NoError(t, err)
	content := bytes.Repeat([]byte("x"), 1<<16)

	var wg sync.WaitGroup
	results := make([]*PutResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.Put(context.Background(), bytes.NewReader(content))
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	var stored int64
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, shaOf(content), r.Sha256)
		stored += r.Stored
	}
	assert.Equal(t, int64(len(content)), stored)
	entries, err := os.ReadDir(filepath.Join(root, tmpDir))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCanceledPut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemory()
	_, err := s.Put(ctx, strings.NewReader("never"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerify(t *testing.T) {
	data := bytes.Repeat([]byte("collection "), 10000)

	got, err := io.ReadAll(Verify(io.NopCloser(bytes.NewReader(data)), shaOf(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// one byte at a time
	got, err = io.ReadAll(Verify(io.NopCloser(iotest.OneByteReader(bytes.NewReader(data))), shaOf(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	got, err = io.ReadAll(Verify(io.NopCloser(bytes.NewReader(data)), strings.Repeat("a", 64)))
	assert.ErrorIs(t, err, ansibleerrors.ErrArtifactCorrupt)
	assert.Contains(t, err.Error(), shaOf(data))
	assert.Len(t, got, len(data)-1)

	got, err = io.ReadAll(Verify(io.NopCloser(bytes.NewReader(nil)), shaOf(nil)))
	require.NoError(t, err)
	assert.Empty(t, got)
}
