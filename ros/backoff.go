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

package ros

import (
	"math/rand"
	"time"

	"github.com/fieldmesh/meshbridge/config"
)

// backoff computes the exponential retry delay with jitter, bounded at
// RetryMaxDelay. attempt is 1 for the first retry.
type backoff struct {
	cfg config.ROS
}

func newBackoff(cfg config.ROS) backoff {
	return backoff{cfg: cfg}
}

func (b backoff) delay(attempt int) time.Duration {
	d := float64(b.cfg.RetryInitialDelay)
	for i := 1; i < attempt; i++ {
		d *= b.cfg.RetryBackoff
	}
	if max := float64(b.cfg.RetryMaxDelay); d > max {
		d = max
	}
	jitter := d * b.cfg.RetryJitter * (rand.Float64()*2 - 1)
	d += jitter
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
