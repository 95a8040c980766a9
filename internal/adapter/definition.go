package adapter

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dshills/lspadapter/internal/bootstrap"
	"github.com/dshills/lspadapter/internal/initparams"
	"github.com/dshills/lspadapter/internal/lsp"
)

// Definition describes one language: how to install and launch its
// server, how to initialize it and how to tell when it is ready.
type Definition struct {
	// Name identifies the adapter.
	Name string
	// InstallName names the install directory under the install root.
	// Empty means Name.
	InstallName string
	// LanguageID is the LSP language identifier sent with documents.
	LanguageID string

	// Requirements are tools that must be on PATH before installing.
	Requirements []bootstrap.Requirement
	// Manifest lists the install steps run in a fresh install directory.
	Manifest *bootstrap.Manifest
	// Launch is the server command, run inside the install directory.
	Launch []string
	// Env holds extra environment for the server process.
	Env map[string]string

	// Template produces the initialize params.
	Template *initparams.Template
	// Matcher recognizes the log message that marks the server ready.
	// Nil means ready as soon as the handshake completes.
	Matcher lsp.Matcher
	// Intercept registers handlers for server-initiated messages.
	Intercept func(reg *lsp.HandlerRegistry)

	// FilePatterns are doublestar globs of the files the adapter serves.
	FilePatterns []string
}

// Validate reports missing required fields and malformed file patterns.
func (d Definition) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if d.LanguageID == "" {
		errs = append(errs, errors.New("language id is required"))
	}
	if len(d.Launch) == 0 {
		errs = append(errs, errors.New("launch command is required"))
	}
	if d.Manifest == nil {
		errs = append(errs, errors.New("manifest is required"))
	}
	if d.Template == nil {
		errs = append(errs, errors.New("initialize template is required"))
	}
	for _, p := range d.FilePatterns {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, fmt.Errorf("invalid file pattern %q", p))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("adapter %q: %w", d.Name, err)
	}
	return nil
}

func (d Definition) installName() string {
	if d.InstallName != "" {
		return d.InstallName
	}
	return d.Name
}

// Package returns what the bootstrapper installs for this adapter.
func (d Definition) Package() bootstrap.Package {
	return bootstrap.Package{
		Name:         d.installName(),
		Requirements: d.Requirements,
		Manifest:     d.Manifest,
		Launch:       d.Launch,
	}
}

// Descriptor returns the server descriptor for an installation in installDir.
func (d Definition) Descriptor(installDir string) lsp.ServerDescriptor {
	return lsp.ServerDescriptor{
		LanguageID:   d.LanguageID,
		Command:      append([]string(nil), d.Launch...),
		WorkDir:      installDir,
		Env:          d.Env,
		FilePatterns: d.FilePatterns,
	}
}

// Handles reports whether path matches one of the adapter's file patterns.
func (d Definition) Handles(path string) bool {
	name := matchPath(path)
	for _, p := range d.FilePatterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// matchPath turns path into the slash separated, unrooted form patterns
// are written against.
func matchPath(path string) string {
	path = strings.TrimPrefix(path, filepath.VolumeName(path))
	return strings.TrimLeft(filepath.ToSlash(path), "/")
}
