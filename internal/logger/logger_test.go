// SPDX-License-Identifier: LGPL-3.0-or-later

package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelString(t *testing.T) {
	cases := []struct {
		level Level
		want  string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{FatalLevel, "FATAL"},
		{Level(99), "UNKNOWN"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.level.String())
	}
}

func TestStructuredLoggerFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, WarnLevel)

	l.Debug("debug message")
	l.Info("info message")
	assert.Empty(t, buf.String())

	l.Warn("warn message")
	assert.Contains(t, buf.String(), "warn message")
}

func TestStructuredLoggerFieldsAndError(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, DebugLevel)

	l.WithFields(String("peer", "abc")).Error("send failed", Error(errors.New("boom")))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "send failed", entry["message"])
	assert.Equal(t, "abc", entry["peer"])
	assert.Equal(t, "boom", entry["error"])
}

func TestSetLevelRoundTrip(t *testing.T) {
	l := NewLogger(&bytes.Buffer{}, InfoLevel)
	l.SetLevel(ErrorLevel)
	assert.Equal(t, ErrorLevel, l.GetLevel())
}
