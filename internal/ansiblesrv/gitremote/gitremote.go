package gitremote

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/collectionimport"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/rs/zerolog/log"
	"sigs.k8s.io/yaml"
)

const galaxyFile = "galaxy.yml"

// always left out of built artifacts
var defaultIgnore = []string{".git", "*.pyc", "*.retry", "tests/output", galaxyFile, "*.tar.gz"}

type galaxyYAML struct {
	Namespace     string            `json:"namespace"`
	Name          string            `json:"name"`
	Version       string            `json:"version"`
	Readme        string            `json:"readme"`
	Authors       []string          `json:"authors"`
	Description   string            `json:"description"`
	License       []string          `json:"license"`
	LicenseFile   *string           `json:"license_file"`
	Tags          []string          `json:"tags"`
	Dependencies  map[string]string `json:"dependencies"`
	Repository    string            `json:"repository"`
	Documentation string            `json:"documentation"`
	Homepage      string            `json:"homepage"`
	Issues        string            `json:"issues"`
	BuildIgnore   []string          `json:"build_ignore"`
}

// Collection is one galaxy.yml rooted directory of the checkout.
type Collection struct {
	Path string
	Info collectionimport.CollectionInfo
	// Tarball is nil for metadata only syncs.
	Tarball []byte
	Import  *collectionimport.Collection
	Commit  string
}

// CollectionVersion is the catalog row for c. Without a tarball the digest
// is taken over FILES.json, which identifies the same tree.
func (c *Collection) CollectionVersion() *models.CollectionVersion {
	var digest string
	if c.Tarball != nil {
		sum := sha256.Sum256(c.Tarball)
		digest = hex.EncodeToString(sum[:])
	} else {
		sum := sha256.Sum256(c.Import.FilesJSON)
		digest = hex.EncodeToString(sum[:])
	}
	return c.Import.CollectionVersion(digest)
}

// Collections clones r into workdir and returns every collection found at
// its git_ref.
func Collections(ctx context.Context, r *models.Remote, workdir string) ([]*Collection, error) {
	dir, err := os.MkdirTemp(workdir, "git-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	commit, err := clone(ctx, r.URL, r.GitRef, dir)
	if err != nil {
		return nil, ansibleerrors.UpstreamUnavailable(r.URL, 0, err)
	}
	roots, err := discover(dir)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str("url", r.URL).Str("commit", commit).Int("collections", len(roots)).Msg("git checkout scanned")

	var out []*Collection
	for _, root := range roots {
		c, err := load(dir, root, r.MetadataOnly)
		if err != nil {
			return nil, err
		}
		c.Commit = commit
		out = append(out, c)
	}
	return out, nil
}

// discover lists the directories under dir holding a galaxy.yml. The walk
// does not descend into a collection once found.
func discover(dir string) ([]string, error) {
	var roots []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		if _, err := os.Stat(filepath.Join(p, galaxyFile)); err == nil {
			rel, _ := filepath.Rel(dir, p)
			roots = append(roots, filepath.ToSlash(rel))
			return filepath.SkipDir
		}
		return nil
	})
	sort.Strings(roots)
	return roots, err
}

func ignored(rel string, patterns []string) bool {
	for _, p := range patterns {
		p = strings.TrimSuffix(p, "/")
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
		if ok, _ := path.Match(p, rel); ok {
			return true
		}
		if ok, _ := path.Match(p, path.Base(rel)); ok {
			return true
		}
	}
	return false
}

func load(checkout, root string, metadataOnly bool) (*Collection, error) {
	base := filepath.Join(checkout, filepath.FromSlash(root))
	raw, err := os.ReadFile(filepath.Join(base, galaxyFile))
	if err != nil {
		return nil, err
	}
	var g galaxyYAML
	if err := yaml.Unmarshal(raw, &g); err != nil {
		return nil, ansibleerrors.ErrInvalidCollection.Msg(root + "/" + galaxyFile + ": " + err.Error())
	}
	info := collectionimport.CollectionInfo{
		Namespace:     g.Namespace,
		Name:          g.Name,
		Version:       g.Version,
		Readme:        g.Readme,
		Authors:       g.Authors,
		Description:   g.Description,
		License:       g.License,
		LicenseFile:   g.LicenseFile,
		Tags:          g.Tags,
		Dependencies:  g.Dependencies,
		Repository:    g.Repository,
		Documentation: g.Documentation,
		Homepage:      g.Homepage,
		Issues:        g.Issues,
	}
	patterns := append(append([]string{}, defaultIgnore...), g.BuildIgnore...)
	files := map[string][]byte{}
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(base, p)
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if ignored(rel, patterns) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files[rel] = data
		return nil
	})
	if err != nil {
		return nil, err
	}

	tarball, aerr := collectionimport.Build(info, files)
	if aerr != nil {
		return nil, aerr
	}
	imp, aerr := collectionimport.Read(bytes.NewReader(tarball))
	if aerr != nil {
		return nil, aerr
	}
	c := &Collection{Path: root, Info: info, Import: imp}
	if !metadataOnly {
		c.Tarball = tarball
	}
	return c, nil
}
