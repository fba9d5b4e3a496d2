/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 *
 */

/*
 * a2.pollerd polls every registered APRS-IS server and stores the results
 * for the web UI and for the DNS driver.
 */

package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hessu/aprs2net-backend/a2_common/config"
	"github.com/hessu/aprs2net-backend/a2_common/daemon"
	"github.com/hessu/aprs2net-backend/a2_common/store"
)

const pname = "a2.pollerd"

var (
	configFile = flag.String("config", "poller.conf", "configuration file path")
	promAddr   = flag.String("prom_address", "", "address to listen on for Prometheus HTTP requests")

	log  *zap.Logger
	slog *zap.SugaredLogger
)

var defaultConf = map[string]string{
	// Site description, shown in the web UI.
	"site_descr": "Unconfigured, CC",

	// Server polling interval.
	"poll_interval": "300",

	// Portal URLs for downloading configs.
	"portal_servers_url": "https://portal-url.example.com/blah",
	"portal_rotates_url": "https://portal-url.example.com/blah",

	// Status page detection order.  javAPRSSrvr 3.x is detected by the
	// absence of a Server: header, so it must come first.
	"probe_order": "javap3 aprsc javap4",

	// Redis instance holding the status database.
	"redis": "localhost:6379",

	// HTTP API listen address, serving /api/full for the DNS driver.
	"listen": ":8036",
}

func signalHandler() {
	sig := make(chan os.Signal, 1)

	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	slog.Infof("Signal (%v) received, stopping", received)
}

func main() {
	flag.Parse()
	log, slog = daemon.ResetupLogs()
	defer log.Sync()

	slog.Infof("Starting up")

	cfg, err := daemon.LoadConfig(*configFile, "poller", defaultConf)
	if err != nil {
		slog.Fatalf("cannot read configuration: %v", err)
	}

	str := store.New(store.NewRedisBackend(cfg.String("redis"), 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := str.SetWebConfig(ctx, &store.WebConfig{
		SiteDescr: cfg.String("site_descr"),
	}); err != nil {
		slog.Errorf("cannot store web config: %v", err)
	}

	cm, err := config.NewManager(slog.Named("config"), str,
		cfg.String("portal_rotates_url"), nil)
	if err != nil {
		slog.Fatalf("cannot set up config manager: %v", err)
	}
	go cm.Run(ctx)

	p := newPoller(log, slog.Named("poller"), str,
		cfg.Int("poll_interval"), cfg.Strings("probe_order"))
	go p.loop(ctx)

	go apiLoop(slog.Named("api"), str, cfg.String("listen"))

	if *promAddr != "" {
		http.Handle("/metrics", promhttp.Handler())
		go http.ListenAndServe(*promAddr, nil)
	}

	signalHandler()
}
