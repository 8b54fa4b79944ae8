// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"trace", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownLevel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: LevelWarn, Writer: &buf})
	require.NoError(t, err)
	defer l.Close()

	l.Slog().Info("hidden")
	l.Slog().Warn("shown", slog.Int("n", 1))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "n=1")
}

func TestNew_JSONWithService(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{JSON: true, Service: "opfuse", Writer: &buf})
	require.NoError(t, err)

	l.Slog().Info("run finished", slog.Int("matches", 3))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "run finished", rec["msg"])
	assert.Equal(t, "opfuse", rec["service"])
	assert.EqualValues(t, 3, rec["matches"])
}

func TestNew_FileAndConsole(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "opfuse.log")
	l, err := New(Config{Level: LevelDebug, File: path, Writer: &buf})
	require.NoError(t, err)

	l.Slog().With(slog.String("run_id", "abc")).Debug("matched", slog.String("pattern", "mlp"))
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	assert.Contains(t, buf.String(), "pattern=mlp")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &rec))
	assert.Equal(t, "mlp", rec["pattern"])
	assert.Equal(t, "abc", rec["run_id"])
}

func TestNew_QuietWithoutFile(t *testing.T) {
	l, err := New(Config{Quiet: true})
	require.NoError(t, err)
	assert.NotPanics(t, func() { l.Slog().Error("dropped") })
}

func TestNew_FileError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	_, err := New(Config{File: filepath.Join(blocker, "opfuse.log")})
	assert.Error(t, err)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "logs"), expandPath("~/logs"))
	assert.Equal(t, "/var/log/opfuse.log", expandPath("/var/log/opfuse.log"))
	assert.Equal(t, "relative.log", expandPath("relative.log"))
}
