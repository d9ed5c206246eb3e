package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerRenamesCoreKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "localmoneyd", "test", slog.LevelInfo, false)
	logger.Info("trade created", "tradeId", 7)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "trade created", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "localmoneyd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
	require.EqualValues(t, 7, line["tradeId"])
}

func TestLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "localmoneyd", "", ParseLevel("warn"), false)
	logger.Info("quiet")
	require.Zero(t, buf.Len())
	logger.Warn("loud")
	require.NotZero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range cases {
		require.Equal(t, want, ParseLevel(raw), raw)
	}
}

func TestOptionsWriterRotatesFile(t *testing.T) {
	out, closer := Options{}.writer()
	require.NotNil(t, out)
	require.Nil(t, closer)

	path := filepath.Join(t.TempDir(), "localmoneyd.log")
	out, closer = Options{File: path, MaxSizeMB: 1}.writer()
	require.NotNil(t, closer)
	_, err := out.Write([]byte("{}\n"))
	require.NoError(t, err)
	require.NoError(t, closer.Close())
	require.FileExists(t, path)
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("contact", "enc:telegram").Value.String())
	require.Equal(t, RedactedValue, MaskField("Buyer_Contact", "enc:signal").Value.String())
	require.Equal(t, " ", MaskField("contact", " ").Value.String())
	require.Equal(t, "42", MaskField("tradeId", "42").Value.String())
	require.Contains(t, SensitiveKeys(), "reason")
	require.NotContains(t, SensitiveKeys(), "token")
}

func TestLoggerRedactsSensitiveAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "localmoneyd", "", slog.LevelInfo, false)
	logger.Info("trade disputed", "tradeId", 9, "reason", "seller never paid", slog.Int("reason_len", 17))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, RedactedValue, line["reason"])
	require.EqualValues(t, 17, line["reason_len"])
	require.EqualValues(t, 9, line["tradeId"])
}
