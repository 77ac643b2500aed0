// Copyright 2025 veridiff project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadData(t *testing.T) {
	type testConfig struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	data := []byte(`
# leading comment
{
	"name": "campaign",
	# inline comment line
	"count": 3
}
`)
	cfg := new(testConfig)
	require.NoError(t, LoadData(data, cfg))
	assert.Equal(t, "campaign", cfg.Name)
	assert.Equal(t, 3, cfg.Count)

	// Unknown fields are configuration errors, not silently dropped.
	err := LoadData([]byte(`{"name": "x", "unknown_field": 1}`), new(testConfig))
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	type testConfig struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	file := filepath.Join(t.TempDir(), "campaign.cfg")
	require.NoError(t, SaveFile(file, &testConfig{Name: "campaign", Count: 3}))

	loaded := new(testConfig)
	require.NoError(t, LoadFile(file, loaded))
	assert.Equal(t, &testConfig{Name: "campaign", Count: 3}, loaded)

	assert.Error(t, LoadFile("", new(testConfig)))
	assert.Error(t, LoadFile(filepath.Join(t.TempDir(), "missing.cfg"), new(testConfig)))
}
