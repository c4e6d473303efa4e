package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/require"
)

// runCLI parses args against a fresh CLI and runs the selected command.
func runCLI(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("player-cache"), kong.Vars{"version": "test"})
	require.NoError(t, err)

	kctx, err := parser.Parse(append([]string{"--data-dir", dataDir, "--log-level", "error"}, args...))
	if err != nil {
		return "", err
	}
	var out bytes.Buffer
	cli.out = &out
	err = kctx.Run(&cli.Globals)
	return out.String(), err
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := parseLevel(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := parseLevel("loud")
	require.Error(t, err)
}

func TestNewLoggerFormats(t *testing.T) {
	for _, format := range []string{"text", "json"} {
		g := Globals{LogLevel: "info", LogFormat: format}
		var buf bytes.Buffer
		logger, err := g.newLogger(&buf)
		require.NoError(t, err)

		logger.Debug("hidden")
		logger.Info("shown", "k", "v")
		require.NotContains(t, buf.String(), "hidden")
		require.Contains(t, buf.String(), "shown")

		g.level.Set(slog.LevelDebug)
		logger.Debug("now visible")
		require.Contains(t, buf.String(), "now visible")
	}
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()

	out, err := runCLI(t, dir, "config", "get", "setting.basic.maxDownload")
	require.NoError(t, err)
	require.Equal(t, "3", strings.TrimSpace(out))

	out, err = runCLI(t, dir, "config", "set", "setting.basic.notInterrupt", "true")
	require.NoError(t, err)
	require.Equal(t, "true", strings.TrimSpace(out))

	out, err = runCLI(t, dir, "config", "get", "setting.basic.notInterrupt")
	require.NoError(t, err)
	require.Equal(t, "true", strings.TrimSpace(out))

	_, err = runCLI(t, dir, "config", "get", "setting.basic.nothing")
	require.Error(t, err)
}

func TestConfigLimitCommand(t *testing.T) {
	dir := t.TempDir()

	out, err := runCLI(t, dir, "config", "limit", "9000")
	require.NoError(t, err)
	require.Equal(t, "8.0 GiB", strings.TrimSpace(out))

	_, err = runCLI(t, dir, "config", "limit", "50")
	require.ErrorContains(t, err, "rejected")

	out, err = runCLI(t, dir, "config", "get", "setting.basic.maxCacheSize")
	require.NoError(t, err)
	require.Equal(t, "8589934592", strings.TrimSpace(out))
}

func TestSizesAndClearCommands(t *testing.T) {
	dir := t.TempDir()

	out, err := runCLI(t, dir, "sizes", "--disk")
	require.NoError(t, err)
	require.Contains(t, out, "ON DISK")
	require.Contains(t, out, "music")

	_, err = runCLI(t, dir, "clear", "music")
	require.ErrorContains(t, err, "--yes")

	out, err = runCLI(t, dir, "clear", "music", "--yes")
	require.NoError(t, err)
	require.Equal(t, "Cleared music cache", strings.TrimSpace(out))

	_, err = runCLI(t, dir, "clear", "video", "--yes")
	require.Error(t, err)
}

func TestDialogsCommand(t *testing.T) {
	out, err := runCLI(t, t.TempDir(), "dialogs")
	require.NoError(t, err)
	require.Equal(t, []string{"simple", "radio", "download", "subscribePlugin", "simpleInput"},
		strings.Fields(out))
}

func TestReindexAndEvictCommands(t *testing.T) {
	dir := t.TempDir()

	out, err := runCLI(t, dir, "reindex", "lyric")
	require.NoError(t, err)
	require.Contains(t, out, "lyric\t0 added")

	_, err = runCLI(t, dir, "reindex", "video")
	require.Error(t, err)

	out, err = runCLI(t, dir, "evict")
	require.NoError(t, err)
	require.Contains(t, out, "evicted 0 entries")
}
