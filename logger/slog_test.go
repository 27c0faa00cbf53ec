package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlogLogger_JSON(t *testing.T) {
	require := require.New(t)
	t.Setenv(EnvMode, "")

	var buf bytes.Buffer
	l := NewSlogWriter(&buf, InfoLevel, false)

	l.Debug("hidden")
	require.Zero(buf.Len())

	l.With("component", "link").Warn("valve command dropped", "valve", "NCS1")

	var rec map[string]any
	require.NoError(json.Unmarshal(buf.Bytes(), &rec))
	require.Equal("valve command dropped", rec["msg"])
	require.Equal("WARN", rec["level"])
	require.Equal("link", rec["component"])
	require.Equal("NCS1", rec["valve"])
	require.Contains(rec, "ts")
}

func TestSlogLogger_Level(t *testing.T) {
	require := require.New(t)

	l := NewSlogWriter(&bytes.Buffer{}, WarnLevel, false)
	require.Equal(WarnLevel, l.Level())

	child := l.With("k", "v")
	l.SetLevel(DebugLevel)
	require.Equal(DebugLevel, child.Level())
}

func TestParseLevel(t *testing.T) {
	require := require.New(t)

	for in, want := range map[string]Level{
		"debug": DebugLevel,
		"INFO":  InfoLevel,
		"":      InfoLevel,
		"warn":  WarnLevel,
		"Error": ErrorLevel,
		"fatal": FatalLevel,
	} {
		lv, err := ParseLevel(in)
		require.NoError(err, in)
		require.Equal(want, lv, in)
	}

	_, err := ParseLevel("verbose")
	require.Error(err)
	require.Equal("warn", WarnLevel.String())
}
