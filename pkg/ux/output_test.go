// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrinter_MachineMode(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeMachine)

	p.Title("ignored")
	p.Muted("ignored too")
	p.Success("done")
	p.Warning("careful")
	p.Error("broken")
	p.Info("plain")

	assert.Equal(t, "OK: done\nWARN: careful\nERROR: broken\nplain\n", buf.String())
	assert.Equal(t, ModeMachine, p.Mode())
}

func TestPrinter_MachineTable(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeMachine)

	p.Table([]string{"pattern", "ops"}, [][]string{
		{"mlp", "0,1,2"},
		{"matmul_post_ops", "3"},
	})

	assert.Equal(t, "pattern\tops\nmlp\t0,1,2\nmatmul_post_ops\t3\n", buf.String())
}

func TestPrinter_MachineKeyValues(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeMachine)

	p.KeyValues([][2]string{{"matches", "3"}, {"cache_hit", "false"}})

	assert.Equal(t, "matches=3\ncache_hit=false\n", buf.String())
}

func TestPrinter_MachineBox(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, ModeMachine).Box("Summary", "3 matches")

	assert.Equal(t, "Summary:\n3 matches\n", buf.String())
}

func TestPrinter_StyledContainsText(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeStyled)

	p.Title("Fusion report")
	p.Success("3 partitions")
	p.Table([]string{"pattern", "ops"}, [][]string{{"conv_bias_post_ops", "0,1"}})
	p.KeyValues([][2]string{{"workers", "4"}})
	p.Box("Summary", "all good")

	out := buf.String()
	for _, want := range []string{"Fusion report", "3 partitions", "pattern", "conv_bias_post_ops", "0,1", "workers", "4", "Summary", "all good"} {
		assert.Contains(t, out, want)
	}
	assert.Contains(t, out, string(IconSuccess))
}

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError, IconArrow, IconBullet} {
		assert.Contains(t, icon.Render(), string(icon))
	}
}

func TestDetectMode(t *testing.T) {
	assert.Equal(t, ModeMachine, DetectMode(&bytes.Buffer{}))

	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, ModeMachine, DetectMode(f))
}
