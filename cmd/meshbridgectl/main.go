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

// meshbridgectl is an operator inspection tool for the three meshbridge
// daemons: it reads their shared control feeds and spool directly, the way
// an operator would tail them by hand, and renders them as tables.
package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootCmd is meshbridgectl's entry point.
var RootCmd = &cobra.Command{
	Use:   "meshbridgectl",
	Short: "inspect meshbridge node_status, peer_discovery and spool state",
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
