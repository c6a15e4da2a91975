/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package stats is the counters each daemon exposes over HTTP as JSON, plus
// a Prometheus exporter that scrapes that same endpoint and republishes it
// as gauges. One JSONStats instance is shared by whichever components a
// given daemon binary hosts.
package stats

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// JSONStats holds every counter and gauge meshbridge's daemons report, in
// flat maps keyed by name that components update through Inc, Add and
// SetGauge. The counter set spans four independent components, so a single
// flat map keeps the reporting surface uniform the way ptp4u's single
// counters struct does for its one component.
type JSONStats struct {
	mu       sync.Mutex
	counters map[string]*int64
	gauges   map[string]*int64
}

// NewJSONStats returns an empty JSONStats ready to report.
func NewJSONStats() *JSONStats {
	return &JSONStats{
		counters: make(map[string]*int64),
		gauges:   make(map[string]*int64),
	}
}

func (s *JSONStats) counter(name string) *int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[name]
	if !ok {
		c = new(int64)
		s.counters[name] = c
	}
	return c
}

func (s *JSONStats) gauge(name string) *int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gauges[name]
	if !ok {
		g = new(int64)
		s.gauges[name] = g
	}
	return g
}

// Inc increments a named counter by 1.
func (s *JSONStats) Inc(name string) {
	atomic.AddInt64(s.counter(name), 1)
}

// Add adds delta to a named counter.
func (s *JSONStats) Add(name string, delta int64) {
	atomic.AddInt64(s.counter(name), delta)
}

// SetGauge sets a named gauge to an absolute value.
func (s *JSONStats) SetGauge(name string, value int64) {
	atomic.StoreInt64(s.gauge(name), value)
}

// Snapshot returns a point-in-time copy of every counter and gauge, suitable
// for JSON encoding.
func (s *JSONStats) Snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counters)+len(s.gauges))
	for k, v := range s.counters {
		out[k] = atomic.LoadInt64(v)
	}
	for k, v := range s.gauges {
		out[k] = atomic.LoadInt64(v)
	}
	return out
}

// Start runs the JSON stats http server. It blocks; callers run it in a
// goroutine.
func (s *JSONStats) Start(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)
	addr := fmt.Sprintf(":%d", port)
	log.Infof("Starting stats http server on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func (s *JSONStats) handleRequest(w http.ResponseWriter, r *http.Request) {
	js, err := json.Marshal(s.Snapshot())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(js); err != nil {
		log.Errorf("stats: failed to reply: %v", err)
	}
}
