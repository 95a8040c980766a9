package initparams

import "fmt"

// TemplateError reports a template that does not match what the builder
// expects: a malformed file, a failed schema check, or a placeholder that
// is missing or already filled in. It is a configuration error.
type TemplateError struct {
	// Source names the template file, or "build" for substitution errors.
	Source string
	// Path is the field that failed a placeholder check.
	Path string
	Want string
	Got  any
	Err  error
}

// Error implements the error interface.
func (e *TemplateError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("initialize template: %s is %v, expected %s", e.Path, e.Got, e.Want)
	}
	return fmt.Sprintf("initialize template %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying error.
func (e *TemplateError) Unwrap() error {
	return e.Err
}
