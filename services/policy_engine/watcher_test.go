// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kiwiRules = `classifications:
  - name: no_kiwi
    priority: 1
    action: block
    reason: No kiwi.
    patterns:
      - id: KIWI
        description: kiwi
        regex: '(?i)kiwi'
        confidence: high
`

func TestLoadOverride_EmptyPathIsNoop(t *testing.T) {
	s := newTestSanitizer(t)
	assert.NoError(t, LoadOverride("", s))
}

func TestLoadOverride_MissingFile(t *testing.T) {
	s := newTestSanitizer(t)
	err := LoadOverride(filepath.Join(t.TempDir(), "missing.yaml"), s)
	assert.Error(t, err)
}

func TestWatchOverride_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(kiwiRules), 0o600))

	s := newTestSanitizer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, WatchOverride(ctx, path, s))

	assert.True(t, s.Sanitize("a kiwi please", "u").WasBlocked)

	updated := []byte(`classifications:
  - name: no_mango
    priority: 1
    action: block
    reason: No mango.
    patterns:
      - id: MANGO
        description: mango
        regex: '(?i)mango'
        confidence: high
`)
	require.NoError(t, os.WriteFile(path, updated, 0o600))

	assert.Eventually(t, func() bool {
		return s.Sanitize("a mango please", "u").WasBlocked
	}, 2*time.Second, 20*time.Millisecond)
	assert.False(t, s.Sanitize("a kiwi please", "u").WasBlocked)
}
