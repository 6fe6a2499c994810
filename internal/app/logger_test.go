package app

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&Config{LogFormat: "json"}, &buf).Info("fees collected", "batch_id", "b-1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "fees collected", entry["msg"])
	require.Equal(t, "b-1", entry["batch_id"])
	require.Contains(t, entry, "source")

	buf.Reset()
	newLogger(nil, &buf).Info("fees collected")
	require.Contains(t, buf.String(), "msg=\"fees collected\"")
}
