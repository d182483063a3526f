// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package depcheck reports dependencies that the modules of a Maven
// aggregator declare with different versions.
package depcheck

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/dotandev/tailrec/internal/errors"
	"github.com/dotandev/tailrec/internal/logger"
	"github.com/hashicorp/go-multierror"
)

// Dependency is one <dependency> entry.
type Dependency struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
	Scope      string `xml:"scope"`
}

// Key is groupId:artifactId.
func (d Dependency) Key() string { return d.GroupID + ":" + d.ArtifactID }

type property struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type properties struct {
	Entries []property `xml:",any"`
}

// Project is one parsed pom.xml.
type Project struct {
	Path         string       `xml:"-"`
	GroupID      string       `xml:"groupId"`
	ArtifactID   string       `xml:"artifactId"`
	Version      string       `xml:"version"`
	Modules      []string     `xml:"modules>module"`
	Properties   properties   `xml:"properties"`
	Dependencies []Dependency `xml:"dependencies>dependency"`
}

// Conflict is a later module declaring a different version of a
// dependency seen earlier.
type Conflict struct {
	Key        string `json:"key"`
	Have       string `json:"have"`
	New        string `json:"new"`
	HaveModule string `json:"have_module"`
	NewModule  string `json:"new_module"`
}

func (c Conflict) String() string {
	return fmt.Sprintf("duplicate version! for %s already have: %s new: %s", c.Key, c.Have, c.New)
}

// Load reads the pom at path, which may also name the directory holding
// it.
func Load(path string) (*Project, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "pom.xml")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p := &Project{Path: path}
	if err := xml.Unmarshal(data, p); err != nil {
		return nil, errors.WrapMalformedErr(path, err)
	}
	return p, nil
}

// Collect loads every module below the aggregator at path, depth first in
// declaration order. The aggregator itself is not included. Unreadable
// modules and modules that lead back to a pom already visited are skipped
// and reported together.
func Collect(path string) ([]*Project, error) {
	root, err := Load(path)
	if err != nil {
		return nil, err
	}
	visited := map[string]bool{absPath(root.Path): true}
	var out []*Project
	var result *multierror.Error
	var walk func(p *Project, inherited map[string]string)
	walk = func(p *Project, inherited map[string]string) {
		props := p.properties(inherited)
		for _, m := range p.Modules {
			child, err := Load(filepath.Join(filepath.Dir(p.Path), m))
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("module %s: %w", m, err))
				continue
			}
			key := absPath(child.Path)
			if visited[key] {
				result = multierror.Append(result, fmt.Errorf("module %s: %s already visited", m, child.Path))
				continue
			}
			visited[key] = true
			child.resolve(child.properties(props))
			out = append(out, child)
			walk(child, props)
		}
	}
	walk(root, nil)
	return out, result.ErrorOrNil()
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Check returns the version conflicts across projects, keeping the first
// version seen for each dependency. Dependencies without a version are
// managed elsewhere and ignored.
func Check(projects []*Project) []Conflict {
	type seen struct{ version, module string }
	first := make(map[string]seen)
	var out []Conflict
	for _, p := range projects {
		for _, d := range p.Dependencies {
			if d.Version == "" {
				continue
			}
			key := d.Key()
			prev, ok := first[key]
			if !ok {
				first[key] = seen{d.Version, p.ArtifactID}
				continue
			}
			if prev.version != d.Version {
				c := Conflict{Key: key, Have: prev.version, New: d.Version, HaveModule: prev.module, NewModule: p.ArtifactID}
				logger.Logger.Warn("duplicate version!", "dependency", key, "already_have", c.Have, "new", c.New, "module", c.NewModule)
				out = append(out, c)
			}
		}
	}
	return out
}

var propRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// properties layers p's own properties and coordinates over inherited.
func (p *Project) properties(inherited map[string]string) map[string]string {
	props := make(map[string]string, len(inherited)+len(p.Properties.Entries)+1)
	for k, v := range inherited {
		props[k] = v
	}
	for _, prop := range p.Properties.Entries {
		props[prop.XMLName.Local] = prop.Value
	}
	if p.Version != "" {
		props["project.version"] = p.Version
	}
	return props
}

// resolve expands ${name} references in dependency versions. Unknown
// names are left as written.
func (p *Project) resolve(props map[string]string) {
	for i := range p.Dependencies {
		d := &p.Dependencies[i]
		d.Version = propRef.ReplaceAllStringFunc(d.Version, func(ref string) string {
			if v, ok := props[ref[2:len(ref)-1]]; ok {
				return v
			}
			return ref
		})
	}
}
