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

package dedup

import "testing"

func TestObserveNewThenSeen(t *testing.T) {
	r := New(4)
	if got := r.Observe(1); got != WasNew {
		t.Fatalf("first observe of 1: got %v, want WasNew", got)
	}
	if got := r.Observe(1); got != WasSeen {
		t.Fatalf("second observe of 1: got %v, want WasSeen", got)
	}
}

func TestEvictionAtCapacity(t *testing.T) {
	r := New(2)
	r.Observe(1)
	r.Observe(2)
	// capacity 2 is full; inserting 3 evicts 1
	r.Observe(3)

	if got := r.Observe(1); got != WasNew {
		t.Fatalf("1 should have been evicted and be observed as new again, got %v", got)
	}
	if got := r.Observe(2); got != WasSeen {
		t.Fatalf("2 should still be within the window, got %v", got)
	}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint([]byte("hello"))
	b := Fingerprint([]byte("hello"))
	c := Fingerprint([]byte("world"))
	if a != b {
		t.Fatalf("identical payloads must hash identically")
	}
	if a == c {
		t.Fatalf("distinct payloads should not collide in this test")
	}
}
