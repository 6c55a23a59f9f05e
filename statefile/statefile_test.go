package statefile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/statesync/errors"
	"github.com/teranos/statesync/state"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	write(t, path, `{"user": {"name": "ada", "age": 36}, "flags": {}}`)

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, state.Map{
		"user":  map[string]any{"name": "ada", "age": 36.0},
		"flags": map[string]any{},
	}, m)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		shape   bool
	}{
		{"empty", "  \n", false},
		{"not json", "{nope", false},
		{"array root", `[1, 2]`, true},
		{"scalar root", `"hello"`, true},
		{"nested array", `{"list": [1, 2]}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state.json")
			write(t, path, tt.content)

			_, err := Load(path)
			require.Error(t, err)
			assert.Equal(t, tt.shape, errors.IsShapeError(err), "got %v", err)
		})
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	in := state.Map{"a": state.Map{"b": 1.0}, "s": "x", "n": nil}

	require.NoError(t, Save(path, in))
	out, err := Load(path)
	require.NoError(t, err)
	assert.True(t, state.Equal(in, out), "got %v", out)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestSave_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	err := Save(path, state.Map{"bad": []int{1}})
	assert.True(t, errors.IsShapeError(err))
	assert.NoFileExists(t, path)
}

func newWatchedStore(t *testing.T, content string) (string, *state.Store, *Watcher) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	write(t, path, content)

	initial, err := Load(path)
	require.NoError(t, err)
	store, err := state.NewStore(initial)
	require.NoError(t, err)

	w, err := NewWatcher(path, store, WithDebounce(20*time.Millisecond), WithLogger(zap.NewNop().Sugar()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return path, store, w
}

func TestWatcher_ReplacesStoreOnEdit(t *testing.T) {
	path, store, w := newWatchedStore(t, `{"v": 1}`)

	write(t, path, `{"v": 2, "extra": true}`)

	require.Eventually(t, func() bool {
		v, _ := store.Get("v")
		return v == 2.0
	}, waitFor, tick)
	assert.Equal(t, state.Map{"v": 2.0, "extra": true}, store.State())
	assert.GreaterOrEqual(t, w.Reloads(), int64(1))
}

func TestWatcher_FollowsAtomicSave(t *testing.T) {
	path, store, _ := newWatchedStore(t, `{"v": 1}`)

	require.NoError(t, Save(path, state.Map{"v": "renamed"}))

	require.Eventually(t, func() bool {
		v, _ := store.Get("v")
		return v == "renamed"
	}, waitFor, tick)
}

func TestWatcher_KeepsStateOnInvalidFile(t *testing.T) {
	path, store, w := newWatchedStore(t, `{"v": 1}`)

	write(t, path, `{"v": [1, 2]}`)

	require.Eventually(t, func() bool { return w.Failures() >= 1 }, waitFor, tick)
	assert.Equal(t, state.Map{"v": 1.0}, store.State())
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	path, store, w := newWatchedStore(t, `{"v": 1}`)

	write(t, filepath.Join(filepath.Dir(path), "other.json"), `{"v": 99}`)
	write(t, path+".back1", `{"v": 98}`)

	assert.Never(t, func() bool { return w.Reloads() > 0 }, 200*time.Millisecond, tick)
	assert.Equal(t, state.Map{"v": 1.0}, store.State())
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	path, store, w := newWatchedStore(t, `{"v": 1}`)

	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())

	write(t, path, `{"v": 2}`)
	assert.Never(t, func() bool {
		v, _ := store.Get("v")
		return v == 2.0
	}, 200*time.Millisecond, tick)
}

func TestIsScratchFile(t *testing.T) {
	assert.True(t, isScratchFile("/x/.state.json.tmp123"))
	assert.True(t, isScratchFile("/x/state.json~"))
	assert.True(t, isScratchFile("/x/state.json.back2"))
	assert.False(t, isScratchFile("/x/state.json"))
}
