// Package prompt renders the assistant's prompt templates.
package prompt

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var varRe = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)

// Vars maps template variable names to values.
type Vars map[string]string

// Render replaces every {{name}} in tmpl with vars[name]. All missing
// variables are reported in one error.
func Render(tmpl string, vars Vars) (string, error) {
	var missing []string
	out := varRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := varRe.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Load returns the named template. A file of the same name in overrideDir
// wins over the built-in copy; overrideDir may be empty.
func Load(name, overrideDir string) (string, error) {
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid template name %q", name)
	}
	if overrideDir != "" {
		data, err := os.ReadFile(filepath.Join(overrideDir, name))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read template override %q: %w", name, err)
		}
	}
	tmpl, ok := builtinTemplates[name]
	if !ok {
		return "", fmt.Errorf("template %q not found", name)
	}
	return tmpl, nil
}

// MustLoad is Load for built-in templates that cannot be missing.
func MustLoad(name, overrideDir string) string {
	tmpl, err := Load(name, overrideDir)
	if err != nil {
		panic(err)
	}
	return tmpl
}

// InstallBuiltins writes the built-in templates into dir, leaving any
// existing files alone, so they can be edited as overrides.
func InstallBuiltins(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create templates dir: %w", err)
	}
	for name, content := range builtinTemplates {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write template %q: %w", name, err)
		}
	}
	return nil
}
