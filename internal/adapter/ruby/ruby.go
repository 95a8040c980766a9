// Package ruby defines the adapter for ruby-lsp.
//
// ruby-lsp is installed with Bundler into a private directory and
// launched as "bundle exec ruby-lsp". It indexes the workspace after the
// handshake and logs a message containing "Finished" when done; queries
// sent earlier may come back empty.
package ruby

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/dshills/lspadapter/internal/adapter"
	"github.com/dshills/lspadapter/internal/bootstrap"
	"github.com/dshills/lspadapter/internal/initparams"
	"github.com/dshills/lspadapter/internal/lsp"
)

// Name is the adapter name used on the command line.
const Name = "ruby"

// ReadyMarker is the log text ruby-lsp emits once indexing is done.
const ReadyMarker = "Finished"

//go:embed runtime_dependencies.json
var runtimeDependencies []byte

//go:embed initialize_params.json
var initializeParams []byte

var (
	loadOnce sync.Once
	manifest *bootstrap.Manifest
	template *initparams.Template
	loadErr  error
)

func load() error {
	loadOnce.Do(func() {
		manifest, loadErr = bootstrap.ParseManifest(runtimeDependencies)
		if loadErr != nil {
			loadErr = fmt.Errorf("ruby: runtime dependencies: %w", loadErr)
			return
		}
		template, loadErr = initparams.Parse(initializeParams)
		if loadErr != nil {
			loadErr = fmt.Errorf("ruby: initialize params: %w", loadErr)
		}
	})
	return loadErr
}

// Definition returns the ruby-lsp adapter definition. It panics if the
// embedded files are broken, which the package tests rule out.
func Definition() adapter.Definition {
	if err := load(); err != nil {
		panic(err)
	}
	return adapter.Definition{
		Name:        Name,
		LanguageID:  "ruby",
		InstallName: "ruby-lsp",
		Requirements: []bootstrap.Requirement{
			{Tool: "bundle", Hint: "bundle is not installed or isn't in PATH. Please install bundle and try again."},
			{Tool: "gem", Hint: "gem is not installed or isn't in PATH. Please install gem and try again."},
		},
		Manifest:  manifest,
		Launch:    []string{"bundle", "exec", "ruby-lsp"},
		Template:  template,
		Matcher:   lsp.ContainsMatcher(ReadyMarker),
		Intercept: Intercept,
		FilePatterns: []string{
			"**/*.rb",
			"**/*.rake",
			"**/Gemfile",
			"**/*.gemspec",
		},
	}
}

// Intercept answers the server-initiated messages ruby-lsp sends during
// startup. window/logMessage is left to the readiness detector.
func Intercept(reg *lsp.HandlerRegistry) {
	reg.Reply("workspace/executeClientCommand", []any{})
	reg.Ignore("$/progress", "textDocument/publishDiagnostics")
}
