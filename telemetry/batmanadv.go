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
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
)

// originator table lines look like:
//
//	aa:bb:cc:dd:ee:ff    0.980s   (255) 65.0 Mbit/s  aa:bb:cc:dd:ee:ff  bat0
//
// with an optional leading "* " marking the best next hop, which we strip.
var originatorLine = regexp.MustCompile(
	`^\*?\s*([0-9a-fA-F:]{17})\s+([0-9.]+)s\s+\(\s*\d+\)\s*(?:([0-9.]+)\s*Mbit/s\s+)?([0-9a-fA-F:]{17})`,
)

// BatmanAdv polls the batman-adv originator table via batctl. It is the
// single concrete Source this package ships.
type BatmanAdv struct {
	// BatctlPath overrides the batctl binary looked up on PATH, for tests.
	BatctlPath string
	// Iface is the batman-adv mesh interface, e.g. "bat0".
	Iface string
	// runner lets tests substitute the subprocess call.
	runner func() (io.Reader, error)
}

// NewBatmanAdv returns a Source polling batctl for iface's originator table.
func NewBatmanAdv(iface string) *BatmanAdv {
	return &BatmanAdv{BatctlPath: "batctl", Iface: iface}
}

// Poll runs `batctl meshif <iface> originators` and parses its output.
func (b *BatmanAdv) Poll() ([]Sample, error) {
	r, err := b.open()
	if err != nil {
		return nil, fmt.Errorf("telemetry: batctl: %w", err)
	}
	return parseOriginators(r)
}

func (b *BatmanAdv) open() (io.Reader, error) {
	if b.runner != nil {
		return b.runner()
	}
	cmd := exec.Command(b.BatctlPath, "meshif", b.Iface, "originators")
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(out), nil
}

func parseOriginators(r io.Reader) ([]Sample, error) {
	var samples []Sample
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		m := originatorLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		lastSeen, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		s := Sample{
			MAC:                 m[1],
			SecondsSinceLastOGM: lastSeen,
		}
		if m[3] != "" {
			if thr, err := strconv.ParseFloat(m[3], 64); err == nil {
				s.Throughput = &thr
			}
		}
		if m[4] != "" {
			nh := m[4]
			s.NextHop = &nh
		}
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}
