package bootstrap

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/muhammadmuzzammil1998/jsonc"
)

// Dependency is one install step from a manifest.
type Dependency struct {
	ID          string   `json:"id,omitempty"`
	Command     string   `json:"command"`
	Description string   `json:"description"`
	Platforms   []string `json:"platforms,omitempty"`
}

func (d Dependency) label() string {
	if d.Description != "" {
		return d.Description
	}
	if d.ID != "" {
		return d.ID
	}
	return d.Command
}

// appliesTo reports whether the step runs on p. Steps without a platform
// list run everywhere.
func (d Dependency) appliesTo(p Platform) bool {
	if len(d.Platforms) == 0 {
		return true
	}
	id := p.ID()
	for _, want := range d.Platforms {
		if want == id {
			return true
		}
	}
	return false
}

// Manifest is the ordered list of commands that install a server.
type Manifest struct {
	Dependencies []Dependency
}

// LoadManifest decodes a manifest. Comments and trailing commas are allowed.
// The documentation-only "_description" key is discarded.
func LoadManifest(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return parseManifest("<reader>", data)
}

// LoadManifestFile decodes the manifest at path.
func LoadManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return parseManifest(path, data)
}

// ParseManifest decodes manifest bytes, typically an embedded file.
func ParseManifest(data []byte) (*Manifest, error) {
	return parseManifest("<embedded>", data)
}

func parseManifest(source string, data []byte) (*Manifest, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return nil, &ConfigError{What: source, Err: fmt.Errorf("%w: %v", ErrInvalidManifest, err)}
	}
	delete(doc, "_description")

	raw, ok := doc["runtimeDependencies"]
	if !ok {
		return &Manifest{}, nil
	}

	var deps []Dependency
	if err := json.Unmarshal(raw, &deps); err != nil {
		return nil, &ConfigError{What: source, Err: fmt.Errorf("%w: runtimeDependencies: %v", ErrInvalidManifest, err)}
	}
	for i, d := range deps {
		if strings.TrimSpace(d.Command) == "" {
			return nil, &ConfigError{
				What: fmt.Sprintf("%s: runtimeDependencies[%d]", source, i),
				Err:  fmt.Errorf("%w: empty command", ErrInvalidManifest),
			}
		}
	}
	return &Manifest{Dependencies: deps}, nil
}

// For returns the steps that apply to p, in manifest order.
func (m *Manifest) For(p Platform) []Dependency {
	if m == nil {
		return nil
	}
	out := make([]Dependency, 0, len(m.Dependencies))
	for _, d := range m.Dependencies {
		if d.appliesTo(p) {
			out = append(out, d)
		}
	}
	return out
}
