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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// PrometheusExporter scrapes a JSONStats http endpoint on a fixed interval
// and republishes each counter as a Prometheus gauge.
type PrometheusExporter struct {
	registry   *prometheus.Registry
	listenPort int
	scrapePort int
	interval   time.Duration
}

// NewPrometheusExporter returns an exporter that scrapes localhost:scrapePort
// and serves /metrics on listenPort.
func NewPrometheusExporter(listenPort, scrapePort int, interval time.Duration) *PrometheusExporter {
	return &PrometheusExporter{
		registry:   prometheus.NewRegistry(),
		listenPort: listenPort,
		scrapePort: scrapePort,
		interval:   interval,
	}
}

// Start runs the scrape loop and the /metrics http server. It blocks.
func (e *PrometheusExporter) Start() error {
	go func() {
		for {
			if err := e.scrapeOnce(); err != nil {
				log.Errorf("stats: scrape failed: %v", err)
			}
			time.Sleep(e.interval)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	return http.ListenAndServe(fmt.Sprintf(":%d", e.listenPort), mux)
}

func (e *PrometheusExporter) scrapeOnce() error {
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/", e.scrapePort))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var counters map[string]int64
	if err := json.NewDecoder(resp.Body).Decode(&counters); err != nil {
		return err
	}

	for name, val := range counters {
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: flattenKey(name), Help: name})
		if err := e.registry.Register(gauge); err != nil {
			are := &prometheus.AlreadyRegisteredError{}
			if errors.As(err, are) {
				gauge = are.ExistingCollector.(prometheus.Gauge)
			} else {
				log.Errorf("stats: failed to register metric %s: %v", name, err)
				continue
			}
		}
		gauge.Set(float64(val))
	}
	return nil
}

func flattenKey(key string) string {
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, ".", "_")
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, "=", "_")
	key = strings.ReplaceAll(key, "/", "_")
	return key
}
