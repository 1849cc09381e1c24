// Package requirements parses ansible-galaxy requirements files.
package requirements

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/versionutil"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
	"gopkg.in/yaml.v3"
)

var collectionName = regexp.MustCompile(`^([a-z_][a-z0-9_]*)\.([a-z_][a-z0-9_]*)$`)

// Collection is one entry under "collections:".
type Collection struct {
	Namespace  string
	Name       string
	Range      *versionutil.Range
	Source     string
	Signatures []string
}

func (c Collection) FullName() string {
	return c.Namespace + "." + c.Name
}

// Role is one entry under "roles:" or of a bare role list.
type Role struct {
	Name    string
	Src     string
	Version string
}

type File struct {
	Collections []Collection
	Roles       []Role
}

type collectionEntry struct {
	Name       string   `yaml:"name"`
	Version    string   `yaml:"version"`
	Source     string   `yaml:"source"`
	Type       string   `yaml:"type"`
	Signatures []string `yaml:"signatures"`
}

// UnmarshalYAML accepts both "ns.name" and the mapping form.
func (e *collectionEntry) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		e.Name = n.Value
		return nil
	}
	type plain collectionEntry
	return n.Decode((*plain)(e))
}

type roleEntry struct {
	Name    string `yaml:"name"`
	Src     string `yaml:"src"`
	Version string `yaml:"version"`
}

func (e *roleEntry) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		e.Name = n.Value
		return nil
	}
	type plain roleEntry
	return n.Decode((*plain)(e))
}

type document struct {
	Collections []collectionEntry `yaml:"collections"`
	Roles       []roleEntry       `yaml:"roles"`
}

func invalid(format string, args ...any) apperrors.Error {
	return ansibleerrors.ErrInvalidRequirements.Msg(fmt.Sprintf(format, args...))
}

// Parse reads a requirements document. Only galaxy sourced collections are
// accepted; git, url and file entries are rejected.
func Parse(data string) (*File, apperrors.Error) {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(data), &root); err != nil {
		return nil, invalid("unable to parse requirements: %v", err)
	}
	if len(root.Content) == 0 {
		return &File{}, nil
	}
	var doc document
	switch top := root.Content[0]; top.Kind {
	case yaml.SequenceNode:
		// the legacy format is a bare list of roles
		if err := top.Decode(&doc.Roles); err != nil {
			return nil, invalid("unable to parse role list: %v", err)
		}
	case yaml.MappingNode:
		if err := top.Decode(&doc); err != nil {
			return nil, invalid("unable to parse requirements: %v", err)
		}
	default:
		return nil, invalid("requirements must be a mapping or a list")
	}

	f := &File{}
	for i, e := range doc.Collections {
		c, err := e.collection()
		if err != nil {
			return nil, invalid("collections[%d]: %s", i, err.Error())
		}
		f.Collections = append(f.Collections, c)
	}
	for i, e := range doc.Roles {
		if e.Name == "" && e.Src == "" {
			return nil, invalid("roles[%d]: name or src is required", i)
		}
		f.Roles = append(f.Roles, Role{Name: e.Name, Src: e.Src, Version: e.Version})
	}
	return f, nil
}

func (e collectionEntry) collection() (Collection, error) {
	if e.Type != "" && e.Type != "galaxy" {
		return Collection{}, fmt.Errorf("type %q is not supported", e.Type)
	}
	m := collectionName.FindStringSubmatch(strings.TrimSpace(e.Name))
	if m == nil {
		return Collection{}, fmt.Errorf("%q is not a namespace.name collection reference", e.Name)
	}
	r, err := versionutil.ParseRange(e.Version)
	if err != nil {
		return Collection{}, err
	}
	return Collection{
		Namespace:  m[1],
		Name:       m[2],
		Range:      r,
		Source:     e.Source,
		Signatures: e.Signatures,
	}, nil
}
