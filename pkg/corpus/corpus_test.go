// Copyright 2025 veridiff project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirIteration(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.bin"), []byte("bb"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bin"), []byte("aa"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "c.bin"), []byte("cc"), 0644))

	iter, err := OpenDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, iter.Len())

	// Deterministic sorted order, nested files included.
	var ids []string
	for {
		input, err := iter.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		ids = append(ids, input.ID)
	}
	assert.Equal(t, []string{"a.bin", "b.bin", filepath.Join("sub", "c.bin")}, ids)

	// Restartable: Reset replays the same sequence.
	require.NoError(t, iter.Reset())
	input, err := iter.Next()
	require.NoError(t, err)
	assert.Equal(t, "a.bin", input.ID)
	assert.Equal(t, []byte("aa"), input.Data)
	assert.Equal(t, filepath.Join(dir, "a.bin"), input.Path)
}

func TestDirEmpty(t *testing.T) {
	iter, err := OpenDir(t.TempDir())
	require.NoError(t, err)
	_, err = iter.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDirErrors(t *testing.T) {
	_, err := OpenDir(filepath.Join(t.TempDir(), "nonexistent"))
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	_, err = OpenDir(file)
	assert.ErrorContains(t, err, "not a directory")
}
