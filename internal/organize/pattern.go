package organize

import (
	"regexp"

	"downsort/internal/errors"

	"github.com/gobwas/glob"
)

// Syntax identifies how a pattern expression is interpreted.
type Syntax int

const (
	// SyntaxRegex is RE2 regular expression syntax.
	SyntaxRegex Syntax = iota
	// SyntaxGlob is shell-style glob syntax (*, ?, [...], {a,b}).
	SyntaxGlob
)

func (s Syntax) String() string {
	if s == SyntaxGlob {
		return "glob"
	}
	return "regex"
}

// Pattern is a compiled filename pattern. It always matches the whole
// filename, never a substring of it.
type Pattern struct {
	expr   string
	syntax Syntax
	re     *regexp.Regexp
	g      glob.Glob
}

// CompileRegex compiles a regular expression that must match an entire
// filename. Matching is case-sensitive unless the expression opts out
// with (?i).
func CompileRegex(expr string) (*Pattern, error) {
	re, err := regexp.Compile(`^(?:` + expr + `)$`)
	if err != nil {
		return nil, errors.NewRuleError("invalid regex pattern", expr, errors.InvalidPattern, err)
	}
	return &Pattern{expr: expr, syntax: SyntaxRegex, re: re}, nil
}

// CompileGlob compiles a glob pattern such as "*.{zip,tar.gz}".
func CompileGlob(expr string) (*Pattern, error) {
	g, err := glob.Compile(expr)
	if err != nil {
		return nil, errors.NewRuleError("invalid glob pattern", expr, errors.InvalidPattern, err)
	}
	return &Pattern{expr: expr, syntax: SyntaxGlob, g: g}, nil
}

// MustCompileRegex is like CompileRegex but panics on error. Intended for
// tests and package-level rule tables.
func MustCompileRegex(expr string) *Pattern {
	p, err := CompileRegex(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// Matches reports whether filename (a base name, not a path) matches.
func (p *Pattern) Matches(filename string) bool {
	if p == nil {
		return false
	}
	if p.syntax == SyntaxGlob {
		return p.g.Match(filename)
	}
	return p.re.MatchString(filename)
}

// String returns the expression the pattern was compiled from.
func (p *Pattern) String() string {
	return p.expr
}

// Syntax returns the pattern's syntax.
func (p *Pattern) Syntax() Syntax {
	return p.syntax
}
