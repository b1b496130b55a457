package organize

import (
	"testing"

	"downsort/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileRegex(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		filename string
		want     bool
	}{
		{"suffix match", `.*\.msi$`, "setup.msi", true},
		{"whole string only", `setup`, "setup.msi", false},
		{"anchored start", `msi`, "setup.msi", false},
		{"case sensitive", `.*\.msi`, "SETUP.MSI", false},
		{"case insensitive flag", `(?i).*\.msi`, "SETUP.MSI", true},
		{"alternation anchored", `a|b\.txt`, "xb.txt", false},
		{"alternation whole", `a|b\.txt`, "b.txt", true},
		{"prefix", `IMG_\d+\.(jpg|png)`, "IMG_0042.png", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := CompileRegex(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Matches(tt.filename))
			assert.Equal(t, tt.expr, p.String())
			assert.Equal(t, SyntaxRegex, p.Syntax())
		})
	}
}

func TestCompileRegexInvalid(t *testing.T) {
	_, err := CompileRegex(`(unclosed`)
	require.Error(t, err)
	assert.Equal(t, errors.InvalidPattern, errors.KindOf(err))
	assert.True(t, errors.IsInvalidRule(err))
}

func TestCompileGlob(t *testing.T) {
	p, err := CompileGlob("*.{zip,tgz}")
	require.NoError(t, err)

	assert.True(t, p.Matches("photos.zip"))
	assert.True(t, p.Matches("src.tgz"))
	assert.False(t, p.Matches("photos.zip.part"))
	assert.Equal(t, SyntaxGlob, p.Syntax())
	assert.Equal(t, "glob", p.Syntax().String())

	_, err = CompileGlob("[unclosed")
	require.Error(t, err)
	assert.Equal(t, errors.InvalidPattern, errors.KindOf(err))
}

func TestNilPatternNeverMatches(t *testing.T) {
	var p *Pattern
	assert.False(t, p.Matches("anything"))
}
