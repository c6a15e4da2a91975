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

package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fieldmesh/meshbridge/spool"
	"github.com/fieldmesh/meshbridge/statefile"
)

var (
	nodeStatusPath    string
	peerDiscoveryPath string
	spoolRootFlag     string
)

func init() {
	RootCmd.AddCommand(nodesCmd)
	RootCmd.AddCommand(peersCmd)
	RootCmd.AddCommand(spoolCmd)

	for _, c := range []*cobra.Command{nodesCmd} {
		c.Flags().StringVar(&nodeStatusPath, "node-status", "/var/run/meshbridge/node_status.json", "Path to node_status.json")
	}
	for _, c := range []*cobra.Command{peersCmd} {
		c.Flags().StringVar(&peerDiscoveryPath, "peer-discovery", "/var/run/meshbridge/peer_discovery.json", "Path to peer_discovery.json")
	}
	spoolCmd.Flags().StringVar(&spoolRootFlag, "spool", "/var/spool/meshbridge", "Root of the pending/sent_buffer/incoming spool")
}

func modeString(m statefile.Mode) string {
	if m == statefile.ModeSlow {
		return color.YellowString("SLOW")
	}
	return color.GreenString("FAST")
}

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "print the LQM's current FAST/SLOW classification of every peer",
	Run: func(_ *cobra.Command, _ []string) {
		status, err := statefile.ReadFresh[statefile.NodeStatus](nodeStatusPath)
		if err != nil {
			log.Fatalf("reading %s: %v", nodeStatusPath, err)
		}

		macs := make([]string, 0, len(status.Nodes))
		for mac := range status.Nodes {
			macs = append(macs, mac)
		}
		sort.Strings(macs)

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"mac", "hostname", "ip", "mode", "last seen (s)", "failures", "good", "throughput", "nexthop"})
		for _, mac := range macs {
			n := status.Nodes[mac]
			throughput := ""
			if n.Throughput != nil {
				throughput = fmt.Sprintf("%.1f", *n.Throughput)
			}
			nextHop := ""
			if n.NextHop != nil {
				nextHop = *n.NextHop
			}
			table.Append([]string{
				mac,
				n.Hostname,
				n.IP,
				modeString(n.Mode),
				fmt.Sprintf("%.1f", n.LastSeen),
				fmt.Sprintf("%d", n.FailureCount),
				fmt.Sprintf("%d", n.GoodCount),
				throughput,
				nextHop,
			})
		}
		table.Render()
		fmt.Printf("as of %s\n", time.Unix(status.Timestamp, 0).Format(time.RFC3339))
	},
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "print the PDS's currently known overlay peers",
	Run: func(_ *cobra.Command, _ []string) {
		pd, err := statefile.ReadFresh[statefile.PeerDiscovery](peerDiscoveryPath)
		if err != nil {
			log.Fatalf("reading %s: %v", peerDiscoveryPath, err)
		}

		hostnames := make([]string, 0, len(pd.Peers))
		for hostname := range pd.Peers {
			hostnames = append(hostnames, hostname)
		}
		sort.Strings(hostnames)

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"hostname", "destination hash", "last seen"})
		for _, hostname := range hostnames {
			peer := pd.Peers[hostname]
			table.Append([]string{
				hostname,
				peer.DestinationHash,
				time.Unix(peer.LastSeen, 0).Format(time.RFC3339),
			})
		}
		table.Render()
	},
}

var spoolCmd = &cobra.Command{
	Use:   "spool",
	Short: "print the queue depth of each spool stage",
	Run: func(_ *cobra.Command, _ []string) {
		sp := &spool.Spool{Root: spoolRootFlag}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"stage", "files", "oldest"})
		for _, stage := range []spool.Stage{spool.Pending, spool.SentBuffer, spool.Incoming} {
			files, err := sp.List(stage)
			if err != nil {
				log.Fatalf("listing %s: %v", stage, err)
			}
			oldest := ""
			if len(files) > 0 {
				oldest = time.UnixMilli(files[0].TSms).Format(time.RFC3339)
			}
			table.Append([]string{string(stage), fmt.Sprintf("%d", len(files)), oldest})
		}
		table.Render()
	},
}
