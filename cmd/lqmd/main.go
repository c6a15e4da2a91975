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

// lqmd runs the Link-Quality Monitor: it samples batman-adv originator
// telemetry once a second, classifies every known peer FAST or SLOW with
// hysteresis, and publishes the result as node_status for the Packet Bridge
// and Reliable Overlay Sender to read.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"

	"github.com/fieldmesh/meshbridge/config"
	"github.com/fieldmesh/meshbridge/lqm"
	"github.com/fieldmesh/meshbridge/stats"
	"github.com/fieldmesh/meshbridge/telemetry"
)

func main() {
	var (
		configFile      string
		logLevel        string
		iface           string
		monitoringPort  int
		promListenPort  int
		promScrapeDelay int
	)

	flag.StringVar(&configFile, "config", "", "Path to YAML config. Unset runs with built-in defaults")
	flag.StringVar(&logLevel, "loglevel", "info", "Set a log level. Can be: debug, info, warning, error")
	flag.StringVar(&iface, "iface", "bat0", "batman-adv mesh interface")
	flag.IntVar(&monitoringPort, "monitoringport", 8881, "Port to run the JSON stats endpoint on")
	flag.IntVar(&promListenPort, "promport", 9101, "Port to serve Prometheus metrics on (0 disables)")
	flag.IntVar(&promScrapeDelay, "promscrapems", 1000, "Milliseconds between Prometheus re-scrapes of the JSON stats endpoint")
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
		log.Fatalf("lqmd: failed to load config: %v", err)
	}

	hostmap, err := telemetry.LoadHostmap(cfg.LQM.HostmapPath)
	if err != nil {
		log.Fatalf("lqmd: failed to load hostmap %s: %v", cfg.LQM.HostmapPath, err)
	}

	st := stats.NewJSONStats()
	go func() {
		if err := st.Start(monitoringPort); err != nil {
			log.Errorf("lqmd: stats server exited: %v", err)
		}
	}()

	if promListenPort != 0 {
		exporter := stats.NewPrometheusExporter(promListenPort, monitoringPort, time.Duration(promScrapeDelay)*time.Millisecond)
		go func() {
			if err := exporter.Start(); err != nil {
				log.Errorf("lqmd: prometheus exporter exited: %v", err)
			}
		}()
	}

	source := telemetry.NewBatmanAdv(iface)
	monitor := lqm.NewMonitor(cfg.LQM, source, hostmap, st)

	ctx, cancel := context.WithCancel(context.Background())

	sigStop := make(chan os.Signal, 1)
	signal.Notify(sigStop, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	go func() {
		<-sigStop
		log.Warning("lqmd: graceful shutdown")
		cancel()
	}()

	if err := notifyReady(); err != nil {
		log.Warningf("lqmd: sd_notify failed: %v", err)
	}

	if err := monitor.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("lqmd: monitor exited: %v", err)
	}
}

func notifyReady() error {
	supported, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if !supported && err != nil {
		return err
	} else if !supported {
		log.Debug("lqmd: sd_notify not supported")
	}
	return nil
}
