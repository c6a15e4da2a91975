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

package telemetry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleOriginators = `  B.A.T.M.A.N. V adv=15 b.a.t.m.a.n.-adv adapter: bat0
   Originator        last-seen (#OGMs)   throughput  Nexthop           outgoingIF
* aa:bb:cc:dd:ee:01    0.980s   (255)  65.0 Mbit/s  aa:bb:cc:dd:ee:01        bat0
  aa:bb:cc:dd:ee:02    4.210s   (200)  12.0 Mbit/s  aa:bb:cc:dd:ee:02        bat0
`

func TestParseOriginators(t *testing.T) {
	samples, err := parseOriginators(strings.NewReader(sampleOriginators))
	require.NoError(t, err)
	require.Len(t, samples, 2)

	require.Equal(t, "aa:bb:cc:dd:ee:01", samples[0].MAC)
	require.InDelta(t, 0.980, samples[0].SecondsSinceLastOGM, 0.001)
	require.NotNil(t, samples[0].Throughput)
	require.InDelta(t, 65.0, *samples[0].Throughput, 0.001)
	require.NotNil(t, samples[0].NextHop)
	require.Equal(t, "aa:bb:cc:dd:ee:01", *samples[0].NextHop)

	require.Equal(t, "aa:bb:cc:dd:ee:02", samples[1].MAC)
}

func TestParseOriginatorsIgnoresHeaderLines(t *testing.T) {
	samples, err := parseOriginators(strings.NewReader("   Originator        last-seen (#OGMs)   throughput  Nexthop           outgoingIF\n"))
	require.NoError(t, err)
	require.Empty(t, samples)
}
