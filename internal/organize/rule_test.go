package organize

import (
	"testing"

	"downsort/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRule(t *testing.T) {
	p := MustCompileRegex(`.*\.zip`)

	t.Run("valid", func(t *testing.T) {
		actions := []Action{Unzip{Dest: "archives"}, Delete{}}
		r, err := NewRule("zips", p, actions...)
		require.NoError(t, err)
		assert.Equal(t, "zips", r.Name)
		assert.Len(t, r.Actions, 2)

		actions[0] = Delete{}
		assert.Equal(t, Unzip{Dest: "archives"}, r.Actions[0], "rule keeps its own copy of the actions")
	})

	t.Run("no actions", func(t *testing.T) {
		_, err := NewRule("empty", p)
		require.Error(t, err)
		assert.Equal(t, errors.InvalidRule, errors.KindOf(err))
	})

	t.Run("no pattern", func(t *testing.T) {
		_, err := NewRule("nopattern", nil, Delete{})
		require.Error(t, err)
		assert.True(t, errors.IsInvalidRule(err))
	})

	t.Run("empty destination", func(t *testing.T) {
		_, err := NewRule("nodest", p, Move{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "move needs a destination")
	})

	t.Run("bad duplicate policy", func(t *testing.T) {
		_, err := NewRule("badpolicy", p, Move{Dest: "x", Duplicate: DuplicatePolicy(9)})
		require.Error(t, err)
	})
}

func TestMatchFirstWins(t *testing.T) {
	rules := []Rule{
		{Name: "installers", Pattern: MustCompileRegex(`.*\.msi`), Actions: []Action{Delete{}}},
		{Name: "anything", Pattern: MustCompileRegex(`.*`), Actions: []Action{Delete{}}},
		{Name: "also-msi", Pattern: MustCompileRegex(`setup\.msi`), Actions: []Action{Delete{}}},
	}

	assert.Equal(t, 0, Match(rules, "setup.msi"))
	assert.Equal(t, 1, Match(rules, "notes.txt"))
	assert.Equal(t, -1, Match(rules[:1], "notes.txt"))
	assert.Equal(t, -1, Match(nil, "notes.txt"))
}

func TestParseDuplicatePolicy(t *testing.T) {
	p, err := ParseDuplicatePolicy("rename-date")
	require.NoError(t, err)
	assert.Equal(t, RenameDate, p)

	p, err = ParseDuplicatePolicy("overwrite")
	require.NoError(t, err)
	assert.Equal(t, Overwrite, p)
	assert.Equal(t, "overwrite", p.String())

	_, err = ParseDuplicatePolicy("skip")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidConfig(err))
}

func TestWatchTarget(t *testing.T) {
	w := WatchTarget{BaseDir: "/home/ana", WatchDir: "Downloads"}
	assert.Equal(t, "/home/ana/Downloads", w.WatchPath())
	assert.Equal(t, "/home/ana/Application Installers", w.Resolve("Application Installers"))
	assert.Equal(t, "/srv/archive", w.Resolve("/srv/archive/"))

	abs := WatchTarget{BaseDir: "/home/ana", WatchDir: "/tmp/in"}
	assert.Equal(t, "/tmp/in", abs.WatchPath())
}
