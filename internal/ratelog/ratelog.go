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

// Package ratelog gates a repeating log line to at most once per key per
// interval, for loops that would otherwise spam the same warning every
// sampling tick.
package ratelog

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Gate suppresses repeated log lines for the same key within Interval.
type Gate struct {
	Interval time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewGate returns a Gate with the given interval. A zero interval logs every
// call.
func NewGate(interval time.Duration) *Gate {
	return &Gate{Interval: interval, last: make(map[string]time.Time)}
}

// Allow reports whether a log line keyed by key may fire now, and records
// that it did.
func (g *Gate) Allow(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if prev, ok := g.last[key]; ok && now.Sub(prev) < g.Interval {
		return false
	}
	g.last[key] = now
	return true
}

// Warnf logs at Warn level if the key hasn't fired within Interval.
func (g *Gate) Warnf(key, format string, args ...any) {
	if g.Allow(key) {
		log.Warnf(format, args...)
	}
}

// Errorf logs at Error level if the key hasn't fired within Interval.
func (g *Gate) Errorf(key, format string, args ...any) {
	if g.Allow(key) {
		log.Errorf(format, args...)
	}
}
