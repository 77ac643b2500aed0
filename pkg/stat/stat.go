// Copyright 2025 veridiff project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package stat provides a small registry of named counters for
// instrumenting a running campaign. Every counter is also exported
// as a prometheus gauge so that external scrapers can observe a
// long-running campaign without touching the store.
package stat

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Val is a single named metric. Values are set (overwritten), not
// incremented, mirroring how campaign counters are owned by the harness.
type Val struct {
	Name string
	Desc string
	v    atomic.Int64
}

func (val *Val) Set(v int64) {
	val.v.Store(v)
}

func (val *Val) Add(v int64) {
	val.v.Add(v)
}

func (val *Val) Val() int64 {
	return val.v.Load()
}

type set struct {
	mu   sync.Mutex
	vals map[string]*Val
}

var global = &set{vals: make(map[string]*Val)}

// New registers a new metric in the global registry.
// Registering the same name twice returns the existing metric.
func New(name, desc string) *Val {
	global.mu.Lock()
	defer global.mu.Unlock()
	if val := global.vals[name]; val != nil {
		return val
	}
	val := &Val{Name: name, Desc: desc}
	global.vals[name] = val
	prometheus.DefaultRegisterer.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "veridiff",
			Name:      name,
			Help:      desc,
		},
		func() float64 { return float64(val.Val()) },
	))
	return val
}

// Collect returns a snapshot of all registered metrics sorted by name.
func Collect() []*Val {
	global.mu.Lock()
	defer global.mu.Unlock()
	vals := make([]*Val, 0, len(global.vals))
	for _, val := range global.vals {
		vals = append(vals, val)
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i].Name < vals[j].Name })
	return vals
}
