package workflow

import (
	"fmt"
	"os"
	"os/user"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

var tokenPattern = regexp.MustCompile(`\$\{([^{}]+)\}`)

// Substituter replaces ${...} tokens in task parameters. Each token is
// resolved once, in this order: workflow variables, task outputs, system
// values. Unresolved tokens are left as written and replaced text is never
// scanned again.
//
// Task outputs come in two forms: ${task.key} reads the running task's own
// outputs from an earlier attempt, and ${<task_id>.key} reads the outputs of
// an upstream task in the same workflow.
type Substituter struct {
	// Variables are workflow-scoped values referenced as ${name}.
	Variables map[string]any
	// Own holds the current task's outputs from earlier attempts, referenced
	// as ${task.key}.
	Own map[string]any
	// Upstream maps task id to outputs, referenced as ${task_id.key}.
	Upstream map[string]map[string]any
	// System resolves ${system.name}. Nil disables system values.
	System func(name string) (string, bool)
}

// String substitutes tokens in s.
func (s *Substituter) String(in string) string {
	if !strings.Contains(in, "${") {
		return in
	}
	return tokenPattern.ReplaceAllStringFunc(in, func(match string) string {
		if v, ok := s.resolve(match[2 : len(match)-1]); ok {
			return v
		}
		return match
	})
}

// Value substitutes tokens in every string inside v, descending into maps and
// slices. The input is not modified.
func (s *Substituter) Value(v any) any {
	switch val := v.(type) {
	case string:
		return s.String(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = s.Value(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = s.Value(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = s.String(item)
		}
		return out
	default:
		return v
	}
}

// Params substitutes tokens in a parameter map.
func (s *Substituter) Params(params map[string]any) map[string]any {
	out, _ := s.Value(params).(map[string]any)
	if out == nil {
		out = make(map[string]any)
	}
	return out
}

func (s *Substituter) resolve(token string) (string, bool) {
	if v, ok := s.Variables[token]; ok {
		return stringify(v), true
	}

	if key, ok := strings.CutPrefix(token, "task."); ok {
		if v, ok := s.Own[key]; ok {
			return stringify(v), true
		}
	}
	if id, key, ok := strings.Cut(token, "."); ok {
		if outputs, ok := s.Upstream[id]; ok {
			if v, ok := outputs[key]; ok {
				return stringify(v), true
			}
		}
	}

	if name, ok := strings.CutPrefix(token, "system."); ok && s.System != nil {
		return s.System(name)
	}
	return "", false
}

func stringify(v any) string {
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}

// SystemValues returns a resolver for the built-in ${system.*} values:
// date, datetime, timestamp, home and user.
func SystemValues(now func() time.Time) func(name string) (string, bool) {
	if now == nil {
		now = time.Now
	}
	return func(name string) (string, bool) {
		switch name {
		case "date":
			return now().Format("2006-01-02"), true
		case "datetime":
			return now().Format(time.RFC3339), true
		case "timestamp":
			return strconv.FormatInt(now().Unix(), 10), true
		case "home":
			home, err := os.UserHomeDir()
			return home, err == nil
		case "user":
			if u, err := user.Current(); err == nil {
				return u.Username, true
			}
			u := os.Getenv("USER")
			return u, u != ""
		}
		return "", false
	}
}
