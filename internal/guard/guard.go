// Package guard validates the targets of shell, file and source-control tasks
// before they touch the network or the filesystem.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/zero-day-ai/tideflow/internal/types"
)

// Operation names the kind of action being checked.
type Operation string

const (
	OperationShell  Operation = "shell"
	OperationScript Operation = "script"
	OperationGit    Operation = "git"
	OperationFile   Operation = "file"
)

// Guard checks a target before an operation runs. A rejected target returns
// a SECURITY_VIOLATION error, which the task executor never retries.
type Guard interface {
	Check(ctx context.Context, op Operation, target string) error
}

// Config configures a PatternGuard.
type Config struct {
	// ForbiddenOrgs are organisation or owner names that may not appear as a
	// path segment of a URL, remote spec or local path.
	ForbiddenOrgs []string `mapstructure:"forbidden_orgs" yaml:"forbidden_orgs"`

	// ForbiddenPatterns are additional regular expressions matched against
	// the whole target.
	ForbiddenPatterns []string `mapstructure:"forbidden_patterns" yaml:"forbidden_patterns"`
}

type rule struct {
	desc string
	re   *regexp.Regexp
}

// PatternGuard rejects targets that reference a forbidden organisation or
// match a forbidden pattern. Matching is case-insensitive.
type PatternGuard struct {
	rules  []rule
	logger *slog.Logger
}

// Option configures a PatternGuard.
type Option func(*PatternGuard)

// WithLogger sets the logger used to report violations.
func WithLogger(logger *slog.Logger) Option {
	return func(g *PatternGuard) {
		g.logger = logger
	}
}

// NewPatternGuard compiles cfg into a PatternGuard. An invalid pattern is a
// configuration error.
func NewPatternGuard(cfg Config, opts ...Option) (*PatternGuard, error) {
	g := &PatternGuard{logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}

	for _, org := range cfg.ForbiddenOrgs {
		org = strings.TrimSpace(org)
		if org == "" {
			continue
		}
		// org must stand alone between separators: "acme" matches
		// github.com/acme/repo and git@host:acme/repo but not acme-labs/repo.
		expr := `(?i)(^|[\s/:@"'=])` + regexp.QuoteMeta(org) + `([\s/:"']|\.git\b|$)`
		g.rules = append(g.rules, rule{
			desc: fmt.Sprintf("forbidden organization %q", org),
			re:   regexp.MustCompile(expr),
		})
	}

	for _, pattern := range cfg.ForbiddenPatterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, types.WrapError(types.CONFIG_VALIDATION_FAILED,
				fmt.Sprintf("invalid forbidden pattern %q", pattern), err)
		}
		g.rules = append(g.rules, rule{
			desc: fmt.Sprintf("forbidden pattern %q", pattern),
			re:   re,
		})
	}

	return g, nil
}

// Check implements Guard.
func (g *PatternGuard) Check(ctx context.Context, op Operation, target string) error {
	if target == "" {
		return nil
	}
	for _, r := range g.rules {
		if r.re.MatchString(target) {
			g.logger.WarnContext(ctx, "access guard blocked target",
				"operation", op,
				"target", target,
				"rule", r.desc,
			)
			return types.NewErrorf(types.SECURITY_VIOLATION,
				"blocked %s target %q: matches %s", op, target, r.desc)
		}
	}
	return nil
}

// AllowAll is a Guard that accepts every target.
type AllowAll struct{}

// Check implements Guard.
func (AllowAll) Check(context.Context, Operation, string) error { return nil }
