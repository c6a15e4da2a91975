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

// pbd runs the Packet Bridge: it shuttles local multicast tactical traffic
// into the overlay spool while any peer is SLOW, and replays overlay
// deliveries back onto the multicast group.
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

	"github.com/fieldmesh/meshbridge/codec"
	"github.com/fieldmesh/meshbridge/config"
	"github.com/fieldmesh/meshbridge/pb"
	"github.com/fieldmesh/meshbridge/spool"
	"github.com/fieldmesh/meshbridge/statefile"
	"github.com/fieldmesh/meshbridge/stats"
)

func main() {
	var (
		configFile     string
		logLevel       string
		iface          string
		spoolRoot      string
		monitoringPort int
	)

	flag.StringVar(&configFile, "config", "", "Path to YAML config. Unset runs with built-in defaults")
	flag.StringVar(&logLevel, "loglevel", "info", "Set a log level. Can be: debug, info, warning, error")
	flag.StringVar(&iface, "iface", "bat0", "Interface to join the tactical multicast group on")
	flag.StringVar(&spoolRoot, "spool", "/var/spool/meshbridge", "Root of the pending/sent_buffer/incoming spool shared with pdsd")
	flag.IntVar(&monitoringPort, "monitoringport", 8883, "Port to run the JSON stats endpoint on")
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
		log.Fatalf("pbd: failed to load config: %v", err)
	}
	if iface != "" {
		cfg.PB.Iface = iface
	}

	cdc, err := codec.New(cfg.PB.DictionaryPath, cfg.PB.CompressLevel, cfg.PB.MaxBytes)
	if err != nil {
		log.Fatalf("pbd: failed to load dictionary %s: %v", cfg.PB.DictionaryPath, err)
	}

	sp, err := spool.New(spoolRoot)
	if err != nil {
		log.Fatalf("pbd: failed to open spool at %s: %v", spoolRoot, err)
	}

	st := stats.NewJSONStats()
	go func() {
		if err := st.Start(monitoringPort); err != nil {
			log.Errorf("pbd: stats server exited: %v", err)
		}
	}()

	nodeState := statefile.NewReader[statefile.NodeStatus](cfg.LQM.StatePath)
	bridge := pb.NewBridge(cfg.PB, cdc, nodeState, sp, st)

	ctx, cancel := context.WithCancel(context.Background())

	sigStop := make(chan os.Signal, 1)
	signal.Notify(sigStop, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	go func() {
		<-sigStop
		log.Warning("pbd: graceful shutdown")
		cancel()
	}()

	if err := notifyReady(); err != nil {
		log.Warningf("pbd: sd_notify failed: %v", err)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return bridge.RunIngress(ctx) })
	eg.Go(func() error { return bridge.RunEgress(ctx) })

	if err := eg.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("pbd: exited: %v", err)
	}
}

func notifyReady() error {
	supported, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if !supported && err != nil {
		return err
	} else if !supported {
		log.Debug("pbd: sd_notify not supported")
	}
	return nil
}
