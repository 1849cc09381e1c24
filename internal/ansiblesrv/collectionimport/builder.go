package collectionimport

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
)

// buildTime is stamped on every archive entry so equal input builds
// byte-identical tarballs.
var buildTime = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Build writes a collection tarball for info holding files, keyed by their
// slash separated path relative to the collection root. MANIFEST.json and
// FILES.json are generated.
func Build(info CollectionInfo, files map[string][]byte) ([]byte, apperrors.Error) {
	content := make(map[string][]byte, len(files))
	names := make([]string, 0, len(files))
	dirSet := map[string]bool{}
	for n, data := range files {
		n = cleanName(n)
		if n == "" || n == ManifestName || n == FilesName {
			continue
		}
		content[n] = data
		names = append(names, n)
		for d := path.Dir(n); d != "."; d = path.Dir(d) {
			dirSet[d] = true
		}
	}
	sort.Strings(names)
	dirs := make([]string, 0, len(dirSet))
	for d := range dirSet {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	sha := "sha256"
	fm := FilesManifest{Format: 1, Files: []FileEntry{{Name: ".", FType: "dir", Format: 1}}}
	for _, d := range dirs {
		fm.Files = append(fm.Files, FileEntry{Name: d, FType: "dir", Format: 1})
	}
	for _, n := range names {
		sum := sha256.Sum256(content[n])
		digest := hex.EncodeToString(sum[:])
		fm.Files = append(fm.Files, FileEntry{Name: n, FType: "file", ChksumType: &sha, ChksumSha256: &digest, Format: 1})
	}
	filesJSON, err := json.MarshalIndent(fm, "", " ")
	if err != nil {
		return nil, invalid("unable to encode %s: %v", FilesName, err)
	}
	fsum := sha256.Sum256(filesJSON)

	if info.Dependencies == nil {
		info.Dependencies = map[string]string{}
	}
	manifest := Manifest{
		CollectionInfo: info,
		FileManifestFile: FileManifestFile{
			Name:         FilesName,
			FType:        "file",
			ChksumType:   sha,
			ChksumSha256: hex.EncodeToString(fsum[:]),
			Format:       1,
		},
		Format: 1,
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", " ")
	if err != nil {
		return nil, invalid("unable to encode %s: %v", ManifestName, err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.ModTime = buildTime
	tw := tar.NewWriter(gz)
	writeFile := func(name string, data []byte) error {
		if err := tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(data)),
			ModTime:  buildTime,
			Typeflag: tar.TypeReg,
		}); err != nil {
			return err
		}
		_, err := tw.Write(data)
		return err
	}
	if err := writeFile(ManifestName, manifestJSON); err != nil {
		return nil, invalid("unable to write archive: %v", err)
	}
	if err := writeFile(FilesName, filesJSON); err != nil {
		return nil, invalid("unable to write archive: %v", err)
	}
	for _, d := range dirs {
		if err := tw.WriteHeader(&tar.Header{
			Name:     d + "/",
			Mode:     0o755,
			ModTime:  buildTime,
			Typeflag: tar.TypeDir,
		}); err != nil {
			return nil, invalid("unable to write archive: %v", err)
		}
	}
	for _, n := range names {
		if err := writeFile(n, content[n]); err != nil {
			return nil, invalid("unable to write archive: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, invalid("unable to write archive: %v", err)
	}
	if err := gz.Close(); err != nil {
		return nil, invalid("unable to write archive: %v", err)
	}
	return buf.Bytes(), nil
}
