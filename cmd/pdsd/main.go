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

// pdsd co-hosts the Peer Discovery Service and the Reliable Overlay Sender:
// both need the same overlay.Transport handle, PDS to announce and learn
// peers, ROS to send and receive packets to/from them.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/fieldmesh/meshbridge/config"
	"github.com/fieldmesh/meshbridge/internal/identity"
	"github.com/fieldmesh/meshbridge/overlay"
	"github.com/fieldmesh/meshbridge/overlay/overlaynoop"
	"github.com/fieldmesh/meshbridge/pds"
	"github.com/fieldmesh/meshbridge/ros"
	"github.com/fieldmesh/meshbridge/spool"
	"github.com/fieldmesh/meshbridge/statefile"
	"github.com/fieldmesh/meshbridge/stats"
)

func main() {
	var (
		configFile     string
		logLevel       string
		hostname       string
		spoolRoot      string
		monitoringPort int
	)

	flag.StringVar(&configFile, "config", "", "Path to YAML config. Unset runs with built-in defaults")
	flag.StringVar(&logLevel, "loglevel", "info", "Set a log level. Can be: debug, info, warning, error")
	flag.StringVar(&hostname, "hostname", "", "This node's hostname, as announced to peers. Defaults to os.Hostname()")
	flag.StringVar(&spoolRoot, "spool", "/var/spool/meshbridge", "Root of the pending/sent_buffer/incoming spool shared with pbd")
	flag.IntVar(&monitoringPort, "monitoringport", 8882, "Port to run the JSON stats endpoint on")
	flag.Parse()

	switch logLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Fatalf("Unrecognized log level: %v", logLevel)
	}

	cfg, err := config.ReadConfig(configFile)
	if err != nil {
		log.Fatalf("pdsd: failed to load config: %v", err)
	}

	if hostname == "" {
		hostname, err = os.Hostname()
		if err != nil {
			log.Fatalf("pdsd: failed to determine hostname: %v", err)
		}
	}

	st := stats.NewJSONStats()
	go func() {
		if err := st.Start(monitoringPort); err != nil {
			log.Errorf("pdsd: stats server exited: %v", err)
		}
	}()

	// No real Reticulum/LoRa overlay binding ships in this tree (the OVN
	// abstraction in package overlay is deliberately vendor-neutral); wire
	// the in-process fake here until one is plugged in. overlaynoop only
	// reaches peers sharing its Hub, so production deployment requires
	// swapping this for a real overlay.Transport.
	fp, err := identity.LoadOrCreate(cfg.PDS.IdentityPath)
	if err != nil {
		log.Fatalf("pdsd: failed to load identity: %v", err)
	}
	var transport overlay.Transport = overlaynoop.NewNode(overlaynoop.NewHub(true), fp)

	pdsSvc, err := pds.NewService(cfg.PDS, hostname, transport, st)
	if err != nil {
		log.Fatalf("pdsd: failed to start peer discovery: %v", err)
	}
	defer pdsSvc.Close()

	sp, err := spool.New(spoolRoot)
	if err != nil {
		log.Fatalf("pdsd: failed to open spool at %s: %v", spoolRoot, err)
	}

	nodeState := statefile.NewReader[statefile.NodeStatus](cfg.LQM.StatePath)
	sender := ros.NewSender(cfg.ROS, transport, pdsSvc, nodeState, sp, st)
	transport.RegisterPacketCallback(pdsSvc.Destination(), sender.IncomingPacketCallback)

	ctx, cancel := context.WithCancel(context.Background())

	sigStop := make(chan os.Signal, 1)
	signal.Notify(sigStop, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	go func() {
		<-sigStop
		log.Warning("pdsd: graceful shutdown")
		cancel()
	}()

	if err := notifyReady(); err != nil {
		log.Warningf("pdsd: sd_notify failed: %v", err)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return pdsSvc.Run(ctx) })
	eg.Go(func() error { return sender.Run(ctx) })

	if err := eg.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("pdsd: exited: %v", err)
	}
}

func notifyReady() error {
	supported, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if !supported && err != nil {
		return err
	} else if !supported {
		log.Debug("pdsd: sd_notify not supported")
	}
	return nil
}
