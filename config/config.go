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

// Package config holds the tunables shared by lqmd, pdsd and pbd, and a
// YAML loader for them. Each daemon embeds the sub-struct it cares about and
// ignores the rest.
package config

import (
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// LQM holds Link-Quality Monitor tunables.
type LQM struct {
	SampleInterval   time.Duration `yaml:"sample_interval"`
	FailureThreshold time.Duration `yaml:"failure_threshold"`
	FailureCount     int           `yaml:"failure_count"`
	RecoveryCount    int           `yaml:"recovery_count"`
	HostmapPath      string        `yaml:"hostmap_path"`
	StatePath        string        `yaml:"state_path"`
}

// PDS holds Peer Discovery Service tunables.
type PDS struct {
	AnnounceInterval time.Duration `yaml:"announce_interval"`
	PeerTimeout      time.Duration `yaml:"peer_timeout"`
	AppName          string        `yaml:"app_name"`
	Aspect           string        `yaml:"aspect"`
	IdentityPath     string        `yaml:"identity_path"`
	StatePath        string        `yaml:"state_path"`
}

// ROS holds Reliable Overlay Sender tunables.
type ROS struct {
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	RetryBackoff      float64       `yaml:"retry_backoff_factor"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`
	RetryMaxAttempts  int           `yaml:"retry_max_attempts"`
	RetryJitter       float64       `yaml:"retry_jitter"`
	SendSpacingDelay  time.Duration `yaml:"send_spacing_delay"`
	PacketTimeout     time.Duration `yaml:"packet_timeout"`
}

// MulticastChannel names one multicast group and its pair of upstream
// (local app -> bridge) and downstream (bridge -> local app) ports. The
// ports must differ: sharing one port between ingress and egress would let
// PB hear its own replayed traffic and loop it back onto the overlay.
type MulticastChannel struct {
	Group          string `yaml:"group"`
	UpstreamPort   int    `yaml:"upstream_port"`
	DownstreamPort int    `yaml:"downstream_port"`
}

// PB holds Packet Bridge tunables.
type PB struct {
	Channels []MulticastChannel `yaml:"channels"`
	Iface    string             `yaml:"iface"`
	// LocalAddrs, when set, is the authoritative set of locally-attached
	// addresses used to classify an ingress datagram's source as LOCAL vs
	// REMOTE. Empty means derive it from the host's interface addresses.
	LocalAddrs     []string      `yaml:"local_addrs"`
	DictionaryPath string        `yaml:"dictionary_path"`
	CompressLevel  int           `yaml:"compress_level"`
	MaxBytes       int           `yaml:"max_bytes"`
	DedupCapacity  int           `yaml:"dedup_capacity"`
	EgressInterval time.Duration `yaml:"egress_interval"`
	SpoolRoot      string        `yaml:"spool_root"`
}

// Config is the union of every daemon's tunables, as found in one on-disk
// YAML file so an operator can keep a single config across all three.
type Config struct {
	LQM LQM `yaml:"lqm"`
	PDS PDS `yaml:"pds"`
	ROS ROS `yaml:"ros"`
	PB  PB  `yaml:"pb"`
}

// Defaults returns a Config populated with the values spec'd for each
// component, to be overridden by whatever the operator's YAML sets.
func Defaults() *Config {
	return &Config{
		LQM: LQM{
			SampleInterval:   time.Second,
			FailureThreshold: 3 * time.Second,
			FailureCount:     3,
			RecoveryCount:    10,
			HostmapPath:      "/etc/meshbridge/hostmap.ini",
			StatePath:        "/var/run/meshbridge/node_status.json",
		},
		PDS: PDS{
			AnnounceInterval: 60 * time.Second,
			PeerTimeout:      300 * time.Second,
			AppName:          "meshbridge",
			Aspect:           "pds",
			IdentityPath:     "/var/lib/meshbridge/identity",
			StatePath:        "/var/run/meshbridge/peer_discovery.json",
		},
		ROS: ROS{
			RetryInitialDelay: 25 * time.Second,
			RetryBackoff:      2,
			RetryMaxDelay:     120 * time.Second,
			RetryMaxAttempts:  5,
			RetryJitter:       0.1,
			SendSpacingDelay:  2 * time.Second,
			PacketTimeout:     300 * time.Second,
		},
		PB: PB{
			Channels: []MulticastChannel{
				{Group: "224.10.10.1", UpstreamPort: 17012, DownstreamPort: 17013},
				{Group: "239.2.3.1", UpstreamPort: 6969, DownstreamPort: 6971},
			},
			CompressLevel:  19,
			MaxBytes:       350,
			DedupCapacity:  1000,
			EgressInterval: 100 * time.Millisecond,
			SpoolRoot:      "/var/spool/meshbridge",
		},
	}
}

// ReadConfig loads YAML from path over a set of defaults. An empty path
// returns the defaults with no error; a path that cannot be read returns the
// os.ReadFile error.
func ReadConfig(path string) (*Config, error) {
	c := Defaults()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}
