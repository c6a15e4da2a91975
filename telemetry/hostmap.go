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
	"fmt"

	"github.com/go-ini/ini"
)

// Hostmap is the static MAC-to-hostname/IP directory the LQM needs to turn
// batman-adv's MAC-keyed originator table into the hostnames node_status
// reports. It changes only when the mesh's membership changes, so it's
// loaded once from a flat file rather than discovered dynamically.
type Hostmap struct {
	Hostname map[string]string // MAC -> hostname
	IP       map[string]string // MAC -> IP
}

// LoadHostmap reads an INI file where each section is a MAC address:
//
//	[aa:bb:cc:dd:ee:ff]
//	hostname = node-12
//	ip = 10.50.0.12
func LoadHostmap(path string) (*Hostmap, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("telemetry: load hostmap %s: %w", path, err)
	}

	hm := &Hostmap{
		Hostname: make(map[string]string),
		IP:       make(map[string]string),
	}
	for _, sec := range f.Sections() {
		mac := sec.Name()
		if mac == ini.DefaultSection {
			continue
		}
		if h := sec.Key("hostname").String(); h != "" {
			hm.Hostname[mac] = h
		}
		if ip := sec.Key("ip").String(); ip != "" {
			hm.IP[mac] = ip
		}
	}
	return hm, nil
}
