package collectionimport

import (
	"bytes"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// CollectionInfo is MANIFEST.json's collection_info.
type CollectionInfo struct {
	Namespace     string            `json:"namespace"`
	Name          string            `json:"name"`
	Version       string            `json:"version"`
	Authors       []string          `json:"authors"`
	Readme        string            `json:"readme"`
	Tags          []string          `json:"tags"`
	Description   string            `json:"description"`
	License       []string          `json:"license"`
	LicenseFile   *string           `json:"license_file"`
	Dependencies  map[string]string `json:"dependencies"`
	Repository    string            `json:"repository"`
	Documentation string            `json:"documentation"`
	Homepage      string            `json:"homepage"`
	Issues        string            `json:"issues"`
}

type FileManifestFile struct {
	Name         string `json:"name"`
	FType        string `json:"ftype"`
	ChksumType   string `json:"chksum_type"`
	ChksumSha256 string `json:"chksum_sha256"`
	Format       int    `json:"format"`
}

type Manifest struct {
	CollectionInfo   CollectionInfo   `json:"collection_info"`
	FileManifestFile FileManifestFile `json:"file_manifest_file"`
	Format           int              `json:"format"`
}

// FileEntry is one element of FILES.json. Directories carry null checksums.
type FileEntry struct {
	Name         string  `json:"name"`
	FType        string  `json:"ftype"`
	ChksumType   *string `json:"chksum_type"`
	ChksumSha256 *string `json:"chksum_sha256"`
	Format       int     `json:"format"`
}

type FilesManifest struct {
	Files  []FileEntry `json:"files"`
	Format int         `json:"format"`
}

const manifestSchema = `{
  "type": "object",
  "required": ["collection_info", "file_manifest_file"],
  "properties": {
    "format": {"type": "integer"},
    "collection_info": {
      "type": "object",
      "required": ["namespace", "name", "version"],
      "properties": {
        "namespace": {"type": "string", "pattern": "^[a-z_][a-z0-9_]{1,63}$"},
        "name": {"type": "string", "pattern": "^[a-z_][a-z0-9_]{1,63}$"},
        "version": {"type": "string", "minLength": 5, "maxLength": 128},
        "authors": {"type": ["array", "null"], "items": {"type": "string"}},
        "tags": {"type": ["array", "null"], "maxItems": 20, "items": {"type": "string", "pattern": "^[a-z0-9]{1,64}$"}},
        "license": {"type": ["array", "null"], "items": {"type": "string"}},
        "description": {"type": ["string", "null"]},
        "dependencies": {"type": ["object", "null"], "additionalProperties": {"type": "string"}}
      }
    },
    "file_manifest_file": {
      "type": "object",
      "required": ["name", "chksum_sha256"],
      "properties": {
        "name": {"type": "string"},
        "chksum_type": {"type": "string", "enum": ["sha256"]},
        "chksum_sha256": {"type": "string", "pattern": "^[0-9a-f]{64}$"}
      }
    }
  }
}`

var compiledManifestSchema = mustCompile(manifestSchema)

func mustCompile(schema string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.LoadURL = func(url string) (io.ReadCloser, error) {
		return nil, fmt.Errorf("unsupported schema ref: %s", url)
	}
	if err := compiler.AddResource("inline://manifest", bytes.NewReader([]byte(schema))); err != nil {
		panic(err)
	}
	return compiler.MustCompile("inline://manifest")
}
