package logger

import (
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
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestNew_FileIsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zulubox.log")

	log, closer, err := New(Config{Output: path, Level: "info"})
	require.NoError(t, err)

	log.Debug().Msg("hidden")
	log.Info().Msgf("track started: title=%s", "a")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "track started: title=a", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestNew_BadFile(t *testing.T) {
	_, _, err := New(Config{Output: filepath.Join(t.TempDir(), "missing", "zulubox.log")})
	assert.Error(t, err)
}

func TestShortCaller(t *testing.T) {
	file := filepath.Join("root", "module", "internal", "app", "player.go")
	assert.Equal(t, filepath.Join("app", "player.go")+":12", shortCaller(0, file, 12))
	assert.Equal(t, "main.go:3", shortCaller(0, "main.go", 3))
}
