// Command purpleair polls a local PurpleAir sensor, appends derived
// readings to a timeseries log, and atomically publishes the latest
// reading as a JSON state file. Backgrounding is left to the service
// manager (systemd, runit); the process always runs in the foreground.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	kingpin "github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/promlog"
	"github.com/prometheus/common/promlog/flag"
	"github.com/prometheus/common/version"
	"github.com/prometheus/exporter-toolkit/web"
	webflag "github.com/prometheus/exporter-toolkit/web/kingpinflag"

	"github.com/andrewgho/purpleair/internal/poller"
	"github.com/andrewgho/purpleair/internal/sensor"
)

func main() {
	var (
		host           = kingpin.Flag("sensor.host", "Hostname or IP address of the PurpleAir sensor").Required().String()
		interval       = kingpin.Flag("interval", "Seconds between poll cycles").Default("60").Int()
		dataFile       = kingpin.Flag("data.file", "Append timeseries lines to this file instead of stdout").String()
		stateFile      = kingpin.Flag("state.file", "Publish the latest reading to this JSON file").String()
		fetchTimeout   = kingpin.Flag("sensor.timeout", "Bound each sensor fetch; 0 blocks indefinitely").Default("0s").Duration()
		metricsEnabled = kingpin.Flag("metrics.enabled", "Serve Prometheus metrics").Bool()
		webConfig      = webflag.AddFlags(kingpin.CommandLine, ":9101")
	)

	promlogConfig := &promlog.Config{}
	flag.AddFlags(kingpin.CommandLine, promlogConfig)
	kingpin.Version(version.Print("purpleair"))
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()
	logger := promlog.New(promlogConfig)

	if *interval <= 0 {
		kingpin.Fatalf("--interval must be positive, got %d", *interval)
	}

	data := os.Stdout
	if *dataFile != "" {
		f, err := os.OpenFile(*dataFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			kingpin.Fatalf("cannot open data file: %v", err)
		}
		defer f.Close()
		data = f
	}

	var opts []sensor.Option
	if *fetchTimeout > 0 {
		opts = append(opts, sensor.WithTimeout(*fetchTimeout))
	}
	client := sensor.New(*host, log.With(logger, "component", "sensor"), opts...)
	p := poller.New(client, data, *stateFile, logger)

	if *metricsEnabled {
		prometheus.MustRegister(p)
		prometheus.MustRegister(version.NewCollector("purpleair"))
		http.Handle("/metrics", promhttp.Handler())
		http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>
             <head><title>PurpleAir Poller</title></head>
             <body>
             <h1>PurpleAir Poller</h1>
             <p><a href="/metrics">Metrics</a></p>
             </body>
             </html>`))
		})
		go func() {
			srv := &http.Server{}
			if err := web.ListenAndServe(srv, webConfig, logger); err != nil {
				level.Error(logger).Log("msg", "Error starting HTTP server", "err", err)
				os.Exit(1)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	level.Info(logger).Log("msg", "starting poller", "host", *host, "interval", *interval)
	err := p.Run(ctx, time.Duration(*interval)*time.Second)
	if err == nil || errors.Is(err, context.Canceled) {
		level.Info(logger).Log("msg", "interrupted, shutting down", "status", 0)
		return
	}

	level.Error(logger).Log("msg", "poll cycle failed", "class", fmt.Sprintf("%T", err), "err", err, "stack", string(debug.Stack()))
	level.Error(logger).Log("msg", "shutting down", "status", 1)
	os.Exit(1)
}
