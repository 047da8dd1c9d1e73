package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/examcast/internal/adapter/output"
	"github.com/jmylchreest/examcast/internal/config"
	"github.com/jmylchreest/examcast/internal/store"
)

// execute runs the CLI with args and returns its standard output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCLI_ImportListClear(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	events := filepath.Join(dir, "events.jsonl")
	timetable := filepath.Join(dir, "timetable.txt")

	_, err := execute(t, "sample", timetable)
	require.NoError(t, err)
	data, err := os.ReadFile(timetable)
	require.NoError(t, err)
	assert.Equal(t, output.SampleTimetable, string(data))

	out, err := execute(t, "--events-file", events, "import", "--no-cache", timetable)
	require.NoError(t, err)
	assert.Contains(t, out, "for 3 exams on 2025-04-20")

	out, err = execute(t, "--events-file", events, "list", "--subject", "Math", "--format", "ids")
	require.NoError(t, err)
	ids := strings.Fields(out)
	assert.Len(t, ids, 3)

	out, err = execute(t, "--events-file", events, "list", "--subject", "", "--format", "ids", ids[0], "--field", "cue")
	require.NoError(t, err)
	assert.Equal(t, "distribute_papers\n", out)

	out, err = execute(t, "--events-file", events, "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed")

	out, err = execute(t, "--events-file", events, "list", "--field", "", "--format", "ids")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCLI_ImportReplace(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	events := filepath.Join(dir, "events.jsonl")
	t.Cleanup(func() { importOpts.replace = false })

	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}
	ids := func() []string {
		out, err := execute(t, "--events-file", events, "list", "--subject", "", "--field", "", "--format", "ids")
		require.NoError(t, err)
		return strings.Fields(out)
	}

	_, err := execute(t, "--events-file", events, "import", "--no-cache", "--replace=false", write("full.txt", output.SampleTimetable))
	require.NoError(t, err)
	before := ids()
	require.NotEmpty(t, before)

	// A timetable with nothing usable leaves the schedule alone.
	_, err = execute(t, "--events-file", events, "import", "--no-cache", "--replace", write("bad.txt", "2025.04.20\nMath 25:00 120min\n"))
	assert.Error(t, err)
	assert.Equal(t, before, ids())

	_, err = execute(t, "--events-file", events, "import", "--no-cache", "--replace", write("one.txt", "2025.04.20\nChemistry 10:00 60min {exam_start}\n"))
	require.NoError(t, err)
	after := ids()
	require.Len(t, after, 1)
	assert.NotContains(t, before, after[0])
}

func TestCLI_StateToggles(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	events := filepath.Join(dir, "events.jsonl")

	out, err := execute(t, "--events-file", events, "autoplay", "off")
	require.NoError(t, err)
	assert.Equal(t, "Autoplay off\n", out)

	out, err = execute(t, "--events-file", events, "offline", "on")
	require.NoError(t, err)
	assert.Equal(t, "Offline mode on\n", out)

	_, err = execute(t, "--events-file", events, "library", "default")
	require.NoError(t, err)

	_, err = execute(t, "--events-file", events, "library", "no-such-voice")
	assert.Error(t, err)

	state, err := store.LoadSharedState()
	require.NoError(t, err)
	assert.False(t, state.AutoplayOr(true))
	assert.True(t, state.OfflineOr(false))
	assert.Equal(t, "default", state.Library)

	out, err = execute(t, "--events-file", events, "library")
	require.NoError(t, err)
	assert.Contains(t, out, "* default")
}

func TestParseOnOff(t *testing.T) {
	for _, s := range []string{"on", "true", "yes", "1"} {
		v, err := parseOnOff(s)
		require.NoError(t, err)
		assert.True(t, v, s)
	}
	for _, s := range []string{"off", "false", "no", "0"} {
		v, err := parseOnOff(s)
		require.NoError(t, err)
		assert.False(t, v, s)
	}
	_, err := parseOnOff("maybe")
	assert.Error(t, err)
}

func TestParseDmenuSelection(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"01JXYZ", "01JXYZ"},
		{"  7  ", "7"},
		{"3 | 09:00 Math: Exam start (2 hours from now)", "3"},
		{"Math exam", "Math exam"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseDmenuSelection(tt.in))
	}
}

func TestListFormat_ConfigDefault(t *testing.T) {
	cfg = config.DefaultConfig()
	listOpts.format = ""
	assert.Equal(t, output.FormatPlain, listFormat())

	cfg.List.Format = "yaml"
	assert.Equal(t, output.FormatYAML, listFormat())

	listOpts.format = "dmenu"
	assert.Equal(t, output.FormatDmenu, listFormat())
	assert.Equal(t, cfg.List.Template, formatterOptions(output.FormatDmenu).Template)
	assert.Empty(t, formatterOptions(output.FormatPlain).Template)
	listOpts.format = ""
}
