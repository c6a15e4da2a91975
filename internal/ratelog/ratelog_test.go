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

package ratelog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGateSuppressesWithinInterval(t *testing.T) {
	g := NewGate(time.Minute)
	require.True(t, g.Allow("peer-a"))
	require.False(t, g.Allow("peer-a"))
	require.True(t, g.Allow("peer-b"))
}

func TestGateAllowsAfterIntervalElapses(t *testing.T) {
	g := NewGate(10 * time.Millisecond)
	require.True(t, g.Allow("peer-a"))
	time.Sleep(15 * time.Millisecond)
	require.True(t, g.Allow("peer-a"))
}

func TestGateZeroIntervalAlwaysAllows(t *testing.T) {
	g := NewGate(0)
	require.True(t, g.Allow("x"))
	require.True(t, g.Allow("x"))
}
