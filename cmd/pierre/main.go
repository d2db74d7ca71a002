// Command pierre runs the accessory process: one SETUP-able AirPlay2
// session (C1..C9) feeding a downstream DMX lighting consumer.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/pierre-project/pierre/pkg/config"
	"github.com/pierre-project/pierre/pkg/logger"
	"github.com/pierre-project/pierre/pkg/mdns"
	"github.com/pierre-project/pierre/pkg/stats"
	"github.com/pierre-project/pierre/pkg/supervisor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

func main() {
	fs := flag.NewFlagSet("pierre", flag.ExitOnError)

	serviceName := fs.String("service-name", "pierre", "mDNS service name advertised for this accessory")
	deviceID := fs.String("device-id", "", "6-byte MAC-like device identifier, colon separated (required)")
	model := fs.String("model", "pierre1,1", "HomeKit accessory model string")
	name := fs.String("name", "Pierre", "accessory display name")
	setupCode := fs.String("setup-code", "", "8-digit HomeKit pairing code (required)")
	dmxAddr := fs.String("dmx-addr", "127.0.0.1:6454", "tcp address of the downstream DMX message consumer")
	bindIP := fs.String("bind-ip", "0.0.0.0", "interface to bind all listeners on")
	metricsAddr := fs.String("metrics-addr", "", "address to serve Prometheus metrics on, empty disables it")
	logLevel := fs.String("log-level", "info", "debug, info, warn, or error")
	logFormat := fs.String("log-format", "text", "text or json")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "AirPlay2-to-DMX lighting accessory\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logCfg := logger.NewConfig()
	logCfg.Level = logger.Level(*logLevel)
	logCfg.Format = logger.OutputFormat(*logFormat)

	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	if *deviceID == "" || *setupCode == "" {
		log.Error("missing required flags", "device-id", *deviceID != "", "setup-code", *setupCode != "")
		os.Exit(1)
	}

	cfg := config.Default()
	cfg.Accessory = config.AccessoryConfig{
		ServiceName:  *serviceName,
		DeviceID:     *deviceID,
		Model:        *model,
		Name:         *name,
		SetupCode:    *setupCode,
		FeaturesMask: 0x445f8a00, // AirPlay2 audio + coreutils pairing, no video
	}
	cfg.DMX.Addr = *dmxAddr
	cfg.Net.BindIP = *bindIP

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	var sink stats.Sink = stats.NewPromSink(registry)

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Warn("metrics server stopped", "error", err)
			}
		}()
		log.Info("metrics server listening", "addr", *metricsAddr)
	}

	sup, err := supervisor.New(cfg, log.Logger, sink)
	if err != nil {
		log.Error("failed to build supervisor", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	var announcer *mdns.Announcer
	sup.OnReady = func(eventPort int) {
		a, err := mdns.New(log.Logger, cfg.Accessory, eventPort)
		if err != nil {
			log.Warn("mdns announce failed, accessory will not be discoverable", "error", err)
			return
		}
		announcer = a
		announcer.Start(ctx)
		log.Info("advertising via mDNS", "service_name", cfg.Accessory.ServiceName, "port", eventPort)
	}

	log.Info("starting pierre", "device_id", *deviceID, "service_name", *serviceName)
	if err := sup.Run(ctx); err != nil {
		log.Error("supervisor exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("pierre shut down cleanly")
}
