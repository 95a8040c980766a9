package lsp

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func rng(sl, sc, el, ec int) Range {
	return Range{Start: Position{Line: sl, Character: sc}, End: Position{Line: el, Character: ec}}
}

func TestParseLocationResult(t *testing.T) {
	tests := []struct {
		name string
		data string
		want []Location
	}{
		{"empty", ``, nil},
		{"null", `null`, nil},
		{"empty array", `[]`, []Location{}},
		{
			"single location",
			`{"uri":"file:///a.rb","range":{"start":{"line":1,"character":2},"end":{"line":1,"character":5}}}`,
			[]Location{{URI: "file:///a.rb", Range: rng(1, 2, 1, 5)}},
		},
		{
			"location array",
			`[{"uri":"file:///a.rb","range":{"start":{"line":1,"character":2},"end":{"line":1,"character":5}}},
			  {"uri":"file:///b.rb","range":{"start":{"line":3,"character":0},"end":{"line":3,"character":4}}}]`,
			[]Location{
				{URI: "file:///a.rb", Range: rng(1, 2, 1, 5)},
				{URI: "file:///b.rb", Range: rng(3, 0, 3, 4)},
			},
		},
		{
			"location links",
			`[{"targetUri":"file:///c.rb",
			   "targetRange":{"start":{"line":5,"character":0},"end":{"line":9,"character":3}},
			   "targetSelectionRange":{"start":{"line":5,"character":6},"end":{"line":5,"character":17}}}]`,
			[]Location{{URI: "file:///c.rb", Range: rng(5, 6, 5, 17)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLocationResult(json.RawMessage(tt.data))
			if err != nil {
				t.Fatalf("ParseLocationResult() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseLocationResult_Invalid(t *testing.T) {
	for _, data := range []string{
		`"file:///a.rb"`,
		`{"range":{}}`,
		`[{"range":{}}]`,
		`[1, 2]`,
	} {
		if _, err := ParseLocationResult(json.RawMessage(data)); !errors.Is(err, ErrInvalidResponse) {
			t.Errorf("ParseLocationResult(%s) error = %v, want ErrInvalidResponse", data, err)
		}
	}
}

func TestFilePathToURI_RoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix paths")
	}

	tests := []struct {
		path string
		uri  DocumentURI
	}{
		{"/home/user/repo", "file:///home/user/repo"},
		{"/tmp/with space/a.rb", "file:///tmp/with%20space/a.rb"},
	}
	for _, tt := range tests {
		if got := FilePathToURI(tt.path); got != tt.uri {
			t.Errorf("FilePathToURI(%q) = %q, want %q", tt.path, got, tt.uri)
		}
		if got := URIToFilePath(tt.uri); got != tt.path {
			t.Errorf("URIToFilePath(%q) = %q, want %q", tt.uri, got, tt.path)
		}
	}

	if got := URIToFilePath("untitled:Untitled-1"); got != "untitled:Untitled-1" {
		t.Errorf("non-file URI changed: %q", got)
	}
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	inside := filepath.Join(root, "lib", "todo", "printable.rb")
	outside := filepath.Join(filepath.Dir(root), "elsewhere.rb")

	locs := []Location{
		{URI: FilePathToURI(inside), Range: rng(5, 6, 5, 17)},
		{URI: FilePathToURI(outside), Range: rng(1, 0, 1, 1)},
	}

	want := []ResolvedLocation{
		{URI: FilePathToURI(inside), AbsolutePath: inside, RelativePath: "lib/todo/printable.rb", Range: rng(5, 6, 5, 17)},
		{URI: FilePathToURI(outside), AbsolutePath: outside, RelativePath: "", Range: rng(1, 0, 1, 1)},
	}
	if diff := cmp.Diff(want, Resolve(root, locs)); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}

	if got := Resolve(root, nil); got == nil || len(got) != 0 {
		t.Errorf("Resolve(nil) = %#v, want empty non-nil slice", got)
	}
}

func TestResolvedLocation_JSONKeys(t *testing.T) {
	data, err := json.Marshal(ResolvedLocation{URI: "file:///r/a.rb", AbsolutePath: "/r/a.rb", RelativePath: "a.rb"})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"uri", "absolutePath", "relativePath", "range"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
}

func TestServerCapabilities_KeepsRaw(t *testing.T) {
	var res InitializeResult
	data := `{"capabilities":{"definitionProvider":true,"referencesProvider":{"workDoneProgress":true},"hoverProvider":true}}`
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		t.Fatal(err)
	}
	if !HasCapability(res.Capabilities.DefinitionProvider) || !HasCapability(res.Capabilities.ReferencesProvider) {
		t.Errorf("capabilities not decoded: %+v", res.Capabilities)
	}
	if HasCapability(res.Capabilities.TextDocumentSync) {
		t.Error("absent capability reported")
	}
	var raw map[string]any
	if err := json.Unmarshal(res.Capabilities.Raw, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["hoverProvider"] != true {
		t.Errorf("Raw lost hoverProvider: %s", res.Capabilities.Raw)
	}
}
