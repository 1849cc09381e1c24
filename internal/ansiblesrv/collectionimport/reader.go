// Package collectionimport reads and builds collection tarballs: a gzipped
// tar with MANIFEST.json, FILES.json, an optional meta/runtime.yml and the
// content directories.
package collectionimport

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/versionutil"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
	"sigs.k8s.io/yaml"
)

const (
	ManifestName = "MANIFEST.json"
	FilesName    = "FILES.json"
	RuntimeName  = "meta/runtime.yml"

	maxMetadataSize = 16 << 20
)

// Collection is what an importer learns from one tarball.
type Collection struct {
	Manifest        Manifest
	Files           FilesManifest
	FilesJSON       []byte
	RequiresAnsible string
	Contents        []models.ContentEntry
}

type runtimeMeta struct {
	RequiresAnsible string `json:"requires_ansible"`
}

func invalid(format string, args ...any) apperrors.Error {
	return ansibleerrors.ErrInvalidCollection.Msg(fmt.Sprintf(format, args...))
}

// Filename is the conventional artifact name, <namespace>-<name>-<version>.tar.gz.
func Filename(namespace, name, version string) string {
	return fmt.Sprintf("%s-%s-%s.tar.gz", namespace, name, version)
}

func cleanName(name string) string {
	return strings.TrimSuffix(strings.TrimPrefix(path.Clean("/"+name), "/"), "/")
}

// Read parses the tarball in r. Every regular file listed in FILES.json is
// hashed and compared, and FILES.json itself must hash to the value in
// MANIFEST.json.
func Read(r io.Reader) (*Collection, apperrors.Error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, invalid("not a gzip archive: %v", err)
	}
	defer gz.Close()

	var (
		manifestJSON []byte
		filesJSON    []byte
		runtimeYAML  []byte
		digests      = map[string]string{}
		dirs         = map[string]bool{}
	)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, invalid("corrupt tar stream: %v", err)
		}
		name := cleanName(hdr.Name)
		if name == "" || name == "." {
			continue
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			dirs[name] = true
			continue
		case tar.TypeReg:
		default:
			continue
		}
		for d := path.Dir(name); d != "."; d = path.Dir(d) {
			dirs[d] = true
		}
		h := sha256.New()
		var keep *[]byte
		switch name {
		case ManifestName:
			keep = &manifestJSON
		case FilesName:
			keep = &filesJSON
		case RuntimeName:
			keep = &runtimeYAML
		}
		if keep != nil {
			if hdr.Size > maxMetadataSize {
				return nil, invalid("%s is too large", name)
			}
			b, err := io.ReadAll(io.TeeReader(tr, h))
			if err != nil {
				return nil, invalid("unable to read %s: %v", name, err)
			}
			*keep = b
		} else if _, err := io.Copy(h, tr); err != nil {
			return nil, invalid("unable to read %s: %v", name, err)
		}
		digests[name] = hex.EncodeToString(h.Sum(nil))
	}

	if manifestJSON == nil {
		return nil, invalid("%s not found", ManifestName)
	}
	c := &Collection{}
	if err := validateManifest(manifestJSON, &c.Manifest); err != nil {
		return nil, err
	}
	info := c.Manifest.CollectionInfo
	if _, err := versionutil.Parse(info.Version); err != nil {
		return nil, invalid("collection_info.version: %v", err)
	}

	fmName := c.Manifest.FileManifestFile.Name
	if fmName == "" {
		fmName = FilesName
	}
	if fmName != FilesName || filesJSON == nil {
		return nil, invalid("%s not found", FilesName)
	}
	if got := digests[FilesName]; got != c.Manifest.FileManifestFile.ChksumSha256 {
		return nil, invalid("%s checksum mismatch: manifest says %s, archive has %s", FilesName, c.Manifest.FileManifestFile.ChksumSha256, got)
	}
	if err := json.Unmarshal(filesJSON, &c.Files); err != nil {
		return nil, invalid("unable to parse %s: %v", FilesName, err)
	}
	c.FilesJSON = filesJSON
	for _, f := range c.Files.Files {
		name := cleanName(f.Name)
		if name == "" || name == "." {
			continue
		}
		switch f.FType {
		case "dir":
			if !dirs[name] {
				return nil, invalid("%s lists missing directory %s", FilesName, f.Name)
			}
		case "file":
			got, ok := digests[name]
			if !ok {
				return nil, invalid("%s lists missing file %s", FilesName, f.Name)
			}
			if f.ChksumSha256 == nil || *f.ChksumSha256 != got {
				return nil, invalid("checksum mismatch for %s", f.Name)
			}
		}
	}

	if runtimeYAML != nil {
		var rt runtimeMeta
		if err := yaml.Unmarshal(runtimeYAML, &rt); err != nil {
			return nil, invalid("unable to parse %s: %v", RuntimeName, err)
		}
		c.RequiresAnsible = rt.RequiresAnsible
	}

	names := make([]string, 0, len(digests)+len(dirs))
	for n := range digests {
		names = append(names, n)
	}
	for n := range dirs {
		names = append(names, n+"/")
	}
	c.Contents = contentsOf(names)
	return c, nil
}

func validateManifest(raw []byte, m *Manifest) apperrors.Error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return invalid("unable to parse %s: %v", ManifestName, err)
	}
	if err := compiledManifestSchema.Validate(doc); err != nil {
		return invalid("%s: %v", ManifestName, err)
	}
	if err := json.Unmarshal(raw, m); err != nil {
		return invalid("unable to parse %s: %v", ManifestName, err)
	}
	return nil
}

var pluginTypes = map[string]string{
	"modules": catcommon.CollectionContentModule,
}

// contentsOf derives the contents list from archive paths: one entry per
// role directory, plugin file and playbook.
func contentsOf(names []string) []models.ContentEntry {
	seen := map[string]bool{}
	var out []models.ContentEntry
	add := func(name, ctype string) {
		key := ctype + "/" + name
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, models.ContentEntry{Name: name, ContentType: ctype})
	}
	for _, n := range names {
		parts := strings.Split(strings.TrimSuffix(n, "/"), "/")
		switch parts[0] {
		case "roles":
			if len(parts) >= 2 && (len(parts) > 2 || strings.HasSuffix(n, "/")) {
				add(parts[1], catcommon.CollectionContentRole)
			}
		case "playbooks":
			if len(parts) == 2 && !strings.HasSuffix(n, "/") && (strings.HasSuffix(n, ".yml") || strings.HasSuffix(n, ".yaml")) {
				add(strings.TrimSuffix(strings.TrimSuffix(parts[1], ".yml"), ".yaml"), catcommon.CollectionContentPlaybook)
			}
		case "plugins":
			if len(parts) != 3 || strings.HasSuffix(n, "/") {
				continue
			}
			file := parts[2]
			if !strings.HasSuffix(file, ".py") || file == "__init__.py" {
				continue
			}
			ctype, ok := pluginTypes[parts[1]]
			if !ok {
				ctype = parts[1]
			}
			add(strings.TrimSuffix(file, ".py"), ctype)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ContentType != out[j].ContentType {
			return out[i].ContentType < out[j].ContentType
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// CollectionVersion maps the import onto a catalog row for the artifact
// with the given digest.
func (c *Collection) CollectionVersion(sha256 string) *models.CollectionVersion {
	info := c.Manifest.CollectionInfo
	deps := info.Dependencies
	if deps == nil {
		deps = map[string]string{}
	}
	return &models.CollectionVersion{
		Namespace:       info.Namespace,
		Name:            info.Name,
		Version:         info.Version,
		Sha256:          sha256,
		Contents:        c.Contents,
		Dependencies:    deps,
		Description:     info.Description,
		Tags:            info.Tags,
		Authors:         info.Authors,
		License:         info.License,
		Homepage:        info.Homepage,
		Repository:      info.Repository,
		Documentation:   info.Documentation,
		Issues:          info.Issues,
		RequiresAnsible: c.RequiresAnsible,
		Files:           c.FilesJSON,
	}
}
