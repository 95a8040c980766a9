// Package initparams turns an initialize-request template into concrete
// InitializeParams for one workspace.
//
// A template is an InitializeParams JSON object in which the
// workspace-specific fields hold placeholders:
//
//	{
//	  "_description": "...",
//	  "processId": "os.getpid()",
//	  "rootPath": "$rootPath",
//	  "rootUri": "$rootUri",
//	  "workspaceFolders": [{"uri": "$uri", "name": "$name"}],
//	  "capabilities": {...}
//	}
//
// Load checks the placeholders against an embedded JSON Schema, so a
// template that was edited incompatibly fails before any server starts.
// Build copies the template and fills it in; the template itself is never
// modified and can be built any number of times.
package initparams

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/muhammadmuzzammil1998/jsonc"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/dshills/lspadapter/internal/lsp"
)

// Placeholders a template must carry.
const (
	RootPathSentinel   = "$rootPath"
	RootURISentinel    = "$rootUri"
	FolderURISentinel  = "$uri"
	FolderNameSentinel = "$name"
)

//go:embed template.schema.json
var schemaJSON []byte

const schemaURL = "mem://schemas/initialize-template.schema.json"

var (
	compileOnce sync.Once
	schema      *jsonschema.Schema
	compileErr  error
)

func templateSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			compileErr = fmt.Errorf("decode template schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			compileErr = fmt.Errorf("register template schema: %w", err)
			return
		}
		schema, compileErr = c.Compile(schemaURL)
	})
	return schema, compileErr
}

// Template is a validated initialize-parameter template.
type Template struct {
	tree map[string]any
}

// Load reads and validates a template. Comments are allowed; the
// "_description" key is discarded.
func Load(r io.Reader) (*Template, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	return parse("<reader>", data)
}

// LoadFile reads and validates the template at path.
func LoadFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	return parse(path, data)
}

// Parse validates template bytes, typically an embedded file.
func Parse(data []byte) (*Template, error) {
	return parse("<embedded>", data)
}

func parse(source string, data []byte) (*Template, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonc.ToJSON(data)))
	if err != nil {
		return nil, &TemplateError{Source: source, Err: fmt.Errorf("decode: %w", err)}
	}

	tree, ok := doc.(map[string]any)
	if !ok {
		return nil, &TemplateError{Source: source, Err: fmt.Errorf("top level is %T, expected an object", doc)}
	}
	delete(tree, "_description")

	sch, err := templateSchema()
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(tree); err != nil {
		return nil, &TemplateError{Source: source, Err: err}
	}

	return &Template{tree: tree}, nil
}

// Build returns InitializeParams for the repository at repoPath, announcing
// pid as the client process id. repoPath must be absolute.
//
// Every placeholder is checked again on the copy before it is replaced; a
// placeholder that is missing or already filled in is a *TemplateError and
// nothing is returned.
func (t *Template) Build(repoPath string, pid int) (map[string]any, error) {
	if !filepath.IsAbs(repoPath) {
		return nil, &TemplateError{Source: "build", Err: fmt.Errorf("repository path %q is not absolute", repoPath)}
	}
	repoPath = filepath.Clean(repoPath)
	uri := string(lsp.FilePathToURI(repoPath))

	params, _ := deepCopy(t.tree).(map[string]any)
	if params == nil {
		return nil, &TemplateError{Source: "build", Err: fmt.Errorf("empty template")}
	}

	params["processId"] = pid

	if err := replace(params, "rootPath", "rootPath", RootPathSentinel, repoPath); err != nil {
		return nil, err
	}
	if err := replace(params, "rootUri", "rootUri", RootURISentinel, uri); err != nil {
		return nil, err
	}

	folders, ok := params["workspaceFolders"].([]any)
	if !ok || len(folders) == 0 {
		return nil, &TemplateError{Path: "workspaceFolders", Want: "a non-empty array", Got: params["workspaceFolders"]}
	}
	first, ok := folders[0].(map[string]any)
	if !ok {
		return nil, &TemplateError{Path: "workspaceFolders[0]", Want: "an object", Got: folders[0]}
	}
	if err := replace(first, "uri", "workspaceFolders[0].uri", FolderURISentinel, uri); err != nil {
		return nil, err
	}
	if err := replace(first, "name", "workspaceFolders[0].name", FolderNameSentinel, filepath.Base(repoPath)); err != nil {
		return nil, err
	}

	return params, nil
}

// replace swaps the placeholder at obj[key] for value. path names the
// field in errors.
func replace(obj map[string]any, key, path, sentinel string, value any) error {
	if got := obj[key]; got != sentinel {
		return &TemplateError{Path: path, Want: sentinel, Got: got}
	}
	obj[key] = value
	return nil
}

func deepCopy(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}
