package workflow

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/tideflow/internal/types"
)

var templateExtensions = []string{".yaml", ".yml", ".json"}

// LoadTemplate reads the template called name from dir, replaces ${var}
// tokens anywhere in the document with values from vars, and parses the
// result. Tokens without a matching variable are kept for run time. vars are
// also merged into the workflow variables.
func LoadTemplate(dir, name string, vars map[string]any) (*Config, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return nil, types.NewErrorf(types.CONFIG_VALIDATION_FAILED, "invalid template name %q", name)
	}

	path, err := findTemplate(dir, name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.CONFIG_LOAD_FAILED, "failed to read template "+name, err)
	}

	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, types.WrapError(types.CONFIG_PARSE_FAILED, "failed to parse template "+name, err)
	}

	if len(vars) > 0 {
		tree = renderTemplate(tree, vars, &Substituter{Variables: vars})
	}

	rendered, err := yaml.Marshal(tree)
	if err != nil {
		return nil, types.WrapError(types.CONFIG_PARSE_FAILED, "failed to render template "+name, err)
	}
	cfg, err := ParseConfig(rendered)
	if err != nil {
		return nil, err
	}

	if cfg.Name == "" {
		cfg.Name = name
	}
	if len(vars) > 0 {
		if cfg.Variables == nil {
			cfg.Variables = make(map[string]any, len(vars))
		}
		for k, v := range vars {
			cfg.Variables[k] = v
		}
	}
	return cfg, nil
}

var wholeToken = regexp.MustCompile(`^\$\{([^{}]+)\}$`)

// renderTemplate substitutes vars through the parsed document. A string that
// consists of a single token takes the variable's type, so "timeout: ${t}"
// stays numeric.
func renderTemplate(v any, vars map[string]any, sub *Substituter) any {
	switch val := v.(type) {
	case string:
		if m := wholeToken.FindStringSubmatch(val); m != nil {
			if rv, ok := vars[m[1]]; ok {
				if s, isString := rv.(string); isString {
					return scalar(s)
				}
				return rv
			}
		}
		return sub.String(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = renderTemplate(item, vars, sub)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = renderTemplate(item, vars, sub)
		}
		return out
	default:
		return v
	}
}

func scalar(s string) any {
	var out any
	if err := yaml.Unmarshal([]byte(s), &out); err == nil {
		switch out.(type) {
		case int, float64, bool:
			return out
		}
	}
	return s
}

func findTemplate(dir, name string) (string, error) {
	for _, ext := range templateExtensions {
		path := filepath.Join(dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", types.WrapError(types.CONFIG_LOAD_FAILED, "failed to stat template "+name, err)
		}
	}
	return "", types.NewErrorf(types.CONFIG_TEMPLATE_NOT_FOUND, "workflow template not found: %s", name)
}

// ListTemplates returns the names of the templates available in dir.
func ListTemplates(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read templates directory: %w", err)
	}

	seen := make(map[string]bool)
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		for _, known := range templateExtensions {
			if ext == known {
				name := strings.TrimSuffix(e.Name(), ext)
				if !seen[name] {
					seen[name] = true
					names = append(names, name)
				}
			}
		}
	}
	sort.Strings(names)
	return names, nil
}
