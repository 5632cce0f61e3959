package overrides

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/msageha/psstudio/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverBaseline() model.Values {
	return model.Values{
		"solver_threads": 4,
		"strategy":       "greedy",
		"limits": map[string]any{
			"max_bots": 10,
			"timeout":  2.5,
		},
	}
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := Open(Options{})
	require.NoError(t, err)
	m.LoadFromServer(serverBaseline())
	return m
}

func TestEffectiveValue_PrefersOverride(t *testing.T) {
	m := newManager(t)

	require.NoError(t, m.SetOverride("solver_threads", "8"))

	v, ok := m.EffectiveValue("solver_threads")
	require.True(t, ok)
	assert.Equal(t, 8, v)

	v, ok = m.EffectiveValue("strategy")
	require.True(t, ok)
	assert.Equal(t, "greedy", v)

	v, ok = m.EffectiveValue("limits.max_bots")
	require.True(t, ok)
	assert.Equal(t, 10, v)

	_, ok = m.EffectiveValue("missing")
	assert.False(t, ok)
}

func TestClearLocal_RevertsToServer(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.SetOverride("solver_threads", "8"))
	require.NoError(t, m.SetOverride("limits.timeout", "9"))
	require.NoError(t, m.SetOverride("new_key", "x"))

	assert.ErrorIs(t, m.ClearLocal(false), model.ErrConfirmationRequired)
	assert.True(t, m.Status().HasLocalChanges)

	require.NoError(t, m.ClearLocal(true))
	assert.False(t, m.Status().HasLocalChanges)

	for key, want := range Flatten(serverBaseline()) {
		got, ok := m.EffectiveValue(key)
		require.True(t, ok, key)
		assert.Equal(t, model.Normalize(want), got, key)
	}
	_, ok := m.EffectiveValue("new_key")
	assert.False(t, ok)
}

func TestLoadFromServer_KeepsOverrides(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.SetOverride("strategy", "exact"))

	m.LoadFromServer(model.Values{"strategy": "random", "extra": true})

	v, _ := m.EffectiveValue("strategy")
	assert.Equal(t, "exact", v)
	sv, _ := m.ServerValue("strategy")
	assert.Equal(t, "random", sv)
	_, ok := m.ServerValue("solver_threads")
	assert.False(t, ok, "baseline is replaced wholesale")
}

func TestSetOverride_MalformedJSONStaysInEditMode(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.BeginEdit("limits"))

	err := m.SetOverride("limits", `{"max_bots": `)
	var ve model.ValidationError
	require.ErrorAs(t, err, &ve)

	st := m.Status()
	assert.Equal(t, "limits", st.Editing)
	assert.NotEmpty(t, st.EditError)
	assert.False(t, st.HasLocalChanges)

	require.NoError(t, m.SetOverride("limits", `{"max_bots": 3}`))
	st = m.Status()
	assert.Empty(t, st.Editing)
	assert.Empty(t, st.EditError)
	v, _ := m.EffectiveValue("limits")
	assert.Equal(t, model.Values{"max_bots": 3}, v)
}

func TestBeginEdit_OneKeyAtATime(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.BeginEdit("strategy"))
	require.NoError(t, m.BeginEdit("strategy"))

	assert.ErrorIs(t, m.BeginEdit("solver_threads"), model.ErrEditInProgress)
	assert.ErrorIs(t, m.SetOverride("solver_threads", "1"), model.ErrEditInProgress)

	m.CancelEdit()
	assert.NoError(t, m.BeginEdit("solver_threads"))
}

func TestResetKeyToServer(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.SetOverride("strategy", "exact"))
	require.NoError(t, m.SetOverride("solver_threads", "1"))

	require.NoError(t, m.ResetKeyToServer("strategy"))
	v, _ := m.EffectiveValue("strategy")
	assert.Equal(t, "greedy", v)
	assert.Equal(t, []string{"solver_threads"}, m.Status().OverriddenKeys)

	require.NoError(t, m.ResetAllToServer())
	assert.False(t, m.Status().HasLocalChanges)
}

func TestForSubmission_AppliesDottedOverrides(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.SetOverride("limits.timeout", "7"))
	require.NoError(t, m.SetOverride("routing.mode", "fast"))

	got := m.ForSubmission()
	assert.Equal(t, model.Values{
		"solver_threads": 4,
		"strategy":       "greedy",
		"limits":         model.Values{"max_bots": 10, "timeout": 7},
		"routing":        model.Values{"mode": "fast"},
	}, got)

	got["strategy"] = "mutated"
	v, _ := m.EffectiveValue("strategy")
	assert.Equal(t, "greedy", v, "submission payload is a copy")
}

func TestStatus_DivergentKeys(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.SetOverride("strategy", "greedy"))
	require.NoError(t, m.SetOverride("solver_threads", "5"))
	require.NoError(t, m.SetOverride("fresh", "1"))

	st := m.Status()
	assert.True(t, st.HasLocalChanges)
	assert.Equal(t, []string{"fresh", "solver_threads", "strategy"}, st.OverriddenKeys)
	assert.Equal(t, []string{"fresh", "solver_threads"}, st.DivergentKeys)
	assert.Equal(t, 4, st.ServerKeys)
	assert.False(t, st.LastRefresh.IsZero())
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in      string
		want    any
		wantErr bool
	}{
		{"42", 42, false},
		{"-1.5", -1.5, false},
		{"true", true, false},
		{"FALSE", false, false},
		{"null", nil, false},
		{"hello world", "hello world", false},
		{`"slow"`, "slow", false},
		{` "two words" `, "two words", false},
		{`"unterminated`, `"unterminated`, false},
		{"1e3", 1000.0, false},
		{"42 apples", "42 apples", false},
		{"", "", false},
		{`[1, "a"]`, []any{1, "a"}, false},
		{`{"a": {"b": 1}}`, model.Values{"a": model.Values{"b": 1}}, false},
		{`{"a": `, nil, true},
		{`[1,`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseValue(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFlatten(t *testing.T) {
	got := Flatten(model.Values{
		"a": 1,
		"b": map[string]any{"c": map[string]any{"d": true}, "e": []any{1}},
		"f": map[string]any{},
	})
	assert.Equal(t, map[string]any{
		"a":     1,
		"b.c.d": true,
		"b.e":   []any{1},
		"f":     map[string]any{},
	}, got)
}

func TestPersistence_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state", "config_overrides.yaml")

	var counts []int
	m, err := Open(Options{Path: path, WorkspaceDir: dir, Observe: func(n int) { counts = append(counts, n) }})
	require.NoError(t, err)
	require.NoError(t, m.SetOverride("limits.timeout", "7"))
	require.NoError(t, m.SetOverride("tags", `["a","b"]`))

	reopened, err := Open(Options{Path: path, WorkspaceDir: dir})
	require.NoError(t, err)
	v, ok := reopened.EffectiveValue("tags")
	require.True(t, ok)
	assert.Equal(t, []any{"a", "b"}, v)
	v, _ = reopened.EffectiveValue("limits.timeout")
	assert.Equal(t, 7, v)
	assert.Equal(t, []int{0, 1, 2}, counts)
}

func TestOpen_QuarantinesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config_overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0644))

	m, err := Open(Options{Path: path, WorkspaceDir: dir})
	require.NoError(t, err)
	assert.False(t, m.Status().HasLocalChanges)

	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	entries, err := os.ReadDir(filepath.Join(dir, "quarantine"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
