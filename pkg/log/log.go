// Copyright 2025 veridiff project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package log provides functionality similar to standard log package with some extensions:
//   - verbosity levels
//   - global verbosity setting that can be used by multiple packages
//   - ability to cache recent output in memory for inclusion in campaign reports
package log

import (
	"flag"
	"fmt"
	golog "log"
	"strings"
	"sync"
	"time"
)

var (
	flagV        = flag.Int("vv", 0, "verbosity")
	mu           sync.Mutex
	cacheEntries []string
	cachePos     int
	prependTime  = true // for testing
)

// EnableLogCaching enables in-memory caching of up to maxLines of low-verbosity
// log output. Cached output can later be queried with CachedLogOutput.
func EnableLogCaching(maxLines int) {
	mu.Lock()
	defer mu.Unlock()
	if cacheEntries != nil {
		Fatalf("log caching is already enabled")
	}
	if maxLines < 1 {
		panic("invalid maxLines")
	}
	cacheEntries = make([]string, 0, maxLines)
}

// CachedLogOutput returns the cached log output, oldest line first.
func CachedLogOutput() string {
	mu.Lock()
	defer mu.Unlock()
	buf := new(strings.Builder)
	for i := range cacheEntries {
		pos := (cachePos + i) % len(cacheEntries)
		buf.WriteString(cacheEntries[pos])
		buf.WriteByte('\n')
	}
	return buf.String()
}

func V(level int) bool {
	return level <= *flagV
}

func Logf(v int, msg string, args ...interface{}) {
	mu.Lock()
	if cacheEntries != nil && v <= 1 {
		timeStr := ""
		if prependTime {
			timeStr = time.Now().Format("2006/01/02 15:04:05 ")
		}
		line := fmt.Sprintf(timeStr+msg, args...)
		if len(cacheEntries) < cap(cacheEntries) {
			cacheEntries = append(cacheEntries, line)
		} else {
			cacheEntries[cachePos] = line
			cachePos = (cachePos + 1) % len(cacheEntries)
		}
	}
	doLog := V(v)
	mu.Unlock()

	if doLog {
		golog.Printf(msg, args...)
	}
}

func Errorf(msg string, args ...interface{}) {
	Logf(0, "error: "+msg, args...)
}

func Fatal(err error) {
	golog.Fatal(err)
}

func Fatalf(msg string, args ...interface{}) {
	golog.Fatalf(msg, args...)
}

// VerboseWriter is an io.Writer that forwards everything to Logf
// with the given verbosity level.
type VerboseWriter int

func (w VerboseWriter) Write(data []byte) (int, error) {
	Logf(int(w), "%s", data)
	return len(data), nil
}
