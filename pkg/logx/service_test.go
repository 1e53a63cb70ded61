package logx

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"loud":    zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in, zerolog.InfoLevel), in)
	}
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestServiceFileSinkAndLiveApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "jobvisor.log")
	svc, root := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	log := root.Named("runner").With(String("task", "Backup"))

	log.Debug("hidden")
	log.Info("started", Int("rc", 0))
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("now visible", Err(nil))
	require.NoError(t, svc.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "started", lines[0]["message"])
	assert.Equal(t, "runner", lines[0]["comp"])
	assert.Equal(t, "Backup", lines[0]["task"])
	assert.True(t, strings.HasPrefix(lines[0]["caller"].(string), "service_test.go:"))
	assert.Equal(t, "now visible", lines[1]["message"])
	_, hasErr := lines[1]["err"]
	assert.False(t, hasErr)
}

func TestOversizedFileMovedAside(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobvisor.log")
	require.NoError(t, os.WriteFile(path, make([]byte, 2<<20), 0o644))

	svc, log := New(Config{File: FileConfig{Enabled: true, Path: path, MaxSizeMB: 1}})
	log.Info("fresh")
	require.NoError(t, svc.Close())

	st, err := os.Stat(path + ".1")
	require.NoError(t, err)
	assert.EqualValues(t, 2<<20, st.Size())
	assert.Len(t, readLines(t, path), 1)
}

func TestZeroLoggerDiscards(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	l.Error("nothing happens")
	assert.False(t, l.Named("x").IsZero())
	assert.True(t, NewConsole("").Enabled(LevelWarn))
	assert.False(t, NewConsole("").Enabled(LevelInfo))
}
