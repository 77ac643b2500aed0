// Copyright 2025 veridiff project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package corpus enumerates the testcase inputs a campaign runs.
// Input generation and mutation are out of scope; this package only walks
// an existing corpus in a deterministic, restartable order.
package corpus

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/veridiff/veridiff/pkg/osutil"
)

// Input is one testcase. ID is stable across campaign restarts so a
// resumed campaign refers to the same inputs.
type Input struct {
	ID   string
	Path string
	Data []byte
}

// Iterator is a lazy, finite, restartable sequence of inputs.
// Next returns io.EOF after the last input.
type Iterator interface {
	// ID identifies the corpus itself, for campaign resumption.
	ID() string
	Next() (*Input, error)
	Reset() error
}

// Dir iterates over all regular files under a directory in sorted order.
type Dir struct {
	root  string
	files []string
	pos   int
}

var _ Iterator = (*Dir)(nil)

// OpenDir enumerates the corpus directory. An unreadable directory is a
// configuration error and fails here, before any execution starts.
func OpenDir(root string) (*Dir, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("corpus directory is not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus %v is not a directory", root)
	}
	files, err := osutil.ListFiles(root)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate corpus %v: %w", root, err)
	}
	return &Dir{root: root, files: files}, nil
}

func (dir *Dir) ID() string {
	return dir.root
}

func (dir *Dir) Len() int {
	return len(dir.files)
}

func (dir *Dir) Next() (*Input, error) {
	if dir.pos >= len(dir.files) {
		return nil, io.EOF
	}
	rel := dir.files[dir.pos]
	dir.pos++
	path := filepath.Join(dir.root, rel)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus input %v: %w", rel, err)
	}
	return &Input{ID: rel, Path: path, Data: data}, nil
}

func (dir *Dir) Reset() error {
	dir.pos = 0
	return nil
}
