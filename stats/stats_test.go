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

package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIncAndAdd(t *testing.T) {
	s := NewJSONStats()
	s.Inc("pb.ingress.received")
	s.Inc("pb.ingress.received")
	s.Add("pb.ingress.dropped", 3)

	snap := s.Snapshot()
	require.EqualValues(t, 2, snap["pb.ingress.received"])
	require.EqualValues(t, 3, snap["pb.ingress.dropped"])
}

func TestSetGaugeOverwrites(t *testing.T) {
	s := NewJSONStats()
	s.SetGauge("ros.queue_depth", 5)
	s.SetGauge("ros.queue_depth", 2)

	require.EqualValues(t, 2, s.Snapshot()["ros.queue_depth"])
}

func TestFlattenKey(t *testing.T) {
	require.Equal(t, "pb_ingress_received", flattenKey("pb.ingress.received"))
	require.Equal(t, "a_b_c_d_e", flattenKey("a b-c=d/e"))
}
