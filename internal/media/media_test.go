package media

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanWindowsTilesDuration(t *testing.T) {
	windows := PlanWindows(1800*time.Second, 10*time.Second)
	require.Len(t, windows, 180)

	var sum time.Duration
	for i, w := range windows {
		assert.Equal(t, i, w.Index)
		if i > 0 {
			assert.Equal(t, windows[i-1].End(), w.Start, "windows must be contiguous")
		}
		sum += w.Duration
	}
	assert.Equal(t, 1800*time.Second, sum)
}

func TestPlanWindowsShortensLast(t *testing.T) {
	windows := PlanWindows(25*time.Second, 10*time.Second)
	require.Len(t, windows, 3)
	assert.Equal(t, 5*time.Second, windows[2].Duration)
	assert.Equal(t, 25*time.Second, windows[2].End())

	one := PlanWindows(3*time.Second, 10*time.Second)
	require.Len(t, one, 1)
	assert.Equal(t, 3*time.Second, one[0].Duration)
}

func TestPlanWindowsDegenerate(t *testing.T) {
	assert.Empty(t, PlanWindows(0, 10*time.Second))
	assert.Empty(t, PlanWindows(10*time.Second, 0))
	assert.Empty(t, PlanWindows(-time.Second, time.Second))
}

func TestPurgeStale(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	old := filepath.Join(dir, "old.mp3")
	fresh := filepath.Join(dir, "fresh.mp3")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(old, now.Add(-7*time.Hour), now.Add(-7*time.Hour)))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	abandoned := filepath.Join(dir, "7-dead-worker")
	require.NoError(t, os.Mkdir(abandoned, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(abandoned, "abcdefghijk.mp3"), []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(abandoned, now.Add(-7*time.Hour), now.Add(-7*time.Hour)))

	n, err := PurgeStale(dir, 6*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoFileExists(t, old)
	assert.NoDirExists(t, abandoned)
	assert.FileExists(t, fresh)
	assert.DirExists(t, filepath.Join(dir, "sub"))

	n, err = PurgeStale(filepath.Join(dir, "missing"), time.Hour, now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunKey(t *testing.T) {
	key := RunKey(12, "worker-b")
	assert.Equal(t, "12-worker-b", key)
	assert.NotEqual(t, key, RunKey(12, "worker-a"), "runs of one item under different leases do not share a directory")
	assert.True(t, ValidRunKey(key))

	for _, bad := range []string{"", ".", "..", "../etc", `a\b`, "a/b"} {
		assert.False(t, ValidRunKey(bad), bad)
	}
}

func TestPrepareTempDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "work")
	require.NoError(t, PrepareTempDir(dir))
	assert.DirExists(t, dir)
	assert.Error(t, PrepareTempDir(""))
}
