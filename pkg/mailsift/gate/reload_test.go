package gate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/mailsift/pkg/mailsift/types"
)

func TestReloaderPicksUpFileChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	v1 := `version: v1
patterns:
  - name: marker
    expr: "FIRST"
    severity: high
`
	require.NoError(t, os.WriteFile(path, []byte(v1), 0o644))

	g := New(Options{Level: types.LevelNormal, PatternFile: path})
	require.Equal(t, "v1", g.PatternVersion())

	reloader, err := NewReloader(g)
	require.NoError(t, err)
	defer reloader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reloader.Run(ctx)

	v2 := `version: v2
patterns:
  - name: marker
    expr: "SECOND"
    severity: high
`
	require.NoError(t, os.WriteFile(path, []byte(v2), 0o644))

	deadline := time.After(3 * time.Second)
	for g.PatternVersion() != "v2" {
		select {
		case <-deadline:
			t.Fatal("reloader never picked up the new snapshot")
		case <-time.After(20 * time.Millisecond):
		}
	}

	assert.True(t, g.Evaluate("msg", "SECOND", types.LevelNormal).Blocked())
	assert.False(t, g.Evaluate("msg", "FIRST", types.LevelNormal).Blocked())
}

func TestReloaderIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patterns.yaml")
	v1 := `version: v1
patterns:
  - name: marker
    expr: "FIRST"
    severity: high
`
	require.NoError(t, os.WriteFile(path, []byte(v1), 0o644))

	g := New(Options{Level: types.LevelNormal, PatternFile: path})
	reloader, err := NewReloader(g)
	require.NoError(t, err)
	defer reloader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reloader.Run(ctx)

	// Writes to unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644))
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, "v1", g.PatternVersion())
}
