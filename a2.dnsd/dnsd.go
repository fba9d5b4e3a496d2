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
 * a2.dnsd fetches poll results from every poller site, fuses them into one
 * merged status per server, selects the members of each DNS rotate and
 * pushes the record sets to the authoritative nameservers.
 */

package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hessu/aprs2net-backend/a2_common/config"
	"github.com/hessu/aprs2net-backend/a2_common/daemon"
	"github.com/hessu/aprs2net-backend/a2_common/dnspub"
	"github.com/hessu/aprs2net-backend/a2_common/graphite"
	"github.com/hessu/aprs2net-backend/a2_common/store"
)

const pname = "a2.dnsd"

var (
	configFile = flag.String("config", "poller.conf", "configuration file path")
	promAddr   = flag.String("prom_address", "", "address to listen on for Prometheus HTTP requests")

	log  *zap.Logger
	slog *zap.SugaredLogger
)

var defaultConf = map[string]string{
	// Driver cycle interval.
	"poll_interval": "120",

	// Gates for accepting a poller's snapshot.
	"max_test_result_age": "660",
	"min_polled_servers":  "80",
	"min_polled_ok_pct":   "55",

	// Portal URLs for downloading configs.
	"portal_servers_url": "https://portal-url.example.com/blah",
	"portal_rotates_url": "https://portal-url.example.com/blah",

	// Rotates which are not managed by this driver.
	"unmanaged_rotates": "hubs.aprs2.net hub-rotate.aprs2.net cwop.aprs.net rotate.aprs.net",

	// Dynamic-update nameserver back-end.
	"dns_master":   "",
	"dns_zones":    "",
	"dns_tsig_key": "",

	// Cloudflare back-end.
	"cloudflare_zones": "",
	"cloudflare_token": "",

	"dns_ttl": "600",

	"site_descr": "Unconfigured, CC",

	// Redis instance holding the merged status database.
	"redis": "localhost:6379",

	// Graphite statistics sink ("host:port", empty to disable).
	"graphite_server": "",
}

var (
	driverCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dns_driver_cycles",
			Help: "Number of completed DNS driver cycles.",
		})
	mergedServers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "merged_servers",
			Help: "Number of servers with a merged status.",
		})
	mergedServersOk = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "merged_servers_ok",
			Help: "Number of servers whose merged status is ok.",
		})
)

func init() {
	prometheus.MustRegister(driverCycles)
	prometheus.MustRegister(mergedServers)
	prometheus.MustRegister(mergedServersOk)
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

	cfg, err := daemon.LoadConfig(*configFile, "dns", defaultConf)
	if err != nil {
		slog.Fatalf("cannot read configuration: %v", err)
	}

	// The driver keeps its merged state in a separate database from the
	// per-site poller.
	str := store.New(store.NewRedisBackend(cfg.String("redis"), 1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := str.SetWebConfig(ctx, &store.WebConfig{
		SiteDescr: cfg.String("site_descr"),
		Master:    1,
	}); err != nil {
		slog.Errorf("cannot store web config: %v", err)
	}

	cm, err := config.NewManager(slog.Named("config"), str,
		cfg.String("portal_rotates_url"), nil)
	if err != nil {
		slog.Fatalf("cannot set up config manager: %v", err)
	}
	go cm.Run(ctx)

	var backends []dnspub.Backend
	if cfg.String("dns_master") != "" && cfg.String("dns_tsig_key") != "" {
		backends = append(backends, dnspub.NewBindBackend(slog.Named("bind"),
			cfg.String("dns_master"), cfg.String("dns_tsig_key"), cfg.Int("dns_ttl")))
	}
	if cfg.String("cloudflare_token") != "" && len(cfg.Strings("cloudflare_zones")) > 0 {
		cf, err := dnspub.NewCloudflareBackend(slog.Named("cloudflare"),
			cfg.String("cloudflare_token"), cfg.Strings("cloudflare_zones"))
		if err != nil {
			slog.Fatalf("cannot set up Cloudflare: %v", err)
		}
		backends = append(backends, cf)
	}

	zones := append(cfg.Strings("dns_zones"), cfg.Strings("cloudflare_zones")...)
	pub := dnspub.New(slog.Named("dnspub"), zones, backends...)

	var gport int
	ghost := cfg.String("graphite_server")
	if ghost != "" {
		if h, p, err := splitHostPort(ghost); err == nil {
			ghost, gport = h, p
		}
	}
	gsink := graphite.NewSink(slog.Named("graphite"), ghost, gport, "aprs2")

	d := &driver{
		log:              slog.Named("dns"),
		str:              str,
		pub:              pub,
		gsink:            gsink,
		pollers:          cfg.Strings("pollers"),
		pollInterval:     cfg.Int("poll_interval"),
		masterRotate:     cfg.String("master_rotate"),
		unmanagedRotates: sliceToSet(cfg.Strings("unmanaged_rotates")),
		maxTestResultAge: cfg.Int("max_test_result_age"),
		minPolledServers: cfg.Int("min_polled_servers"),
		minPolledOkPct:   cfg.Float("min_polled_ok_pct"),
		client:           &http.Client{Timeout: fetchTimeout},
	}
	go d.loop(ctx)

	if *promAddr != "" {
		http.Handle("/metrics", promhttp.Handler())
		go http.ListenAndServe(*promAddr, nil)
	}

	signalHandler()
}

func splitHostPort(s string) (string, int, error) {
	h, ps, err := net.SplitHostPort(s)
	if err != nil {
		// Plain hostname: use the default Graphite plaintext port.
		return s, 2003, nil
	}
	p, err := strconv.Atoi(ps)
	if err != nil {
		return "", 0, err
	}
	return h, p, nil
}

func sliceToSet(l []string) map[string]bool {
	m := make(map[string]bool, len(l))
	for _, s := range l {
		m[s] = true
	}
	return m
}

// driver runs the periodic fuse-select-publish cycle.
type driver struct {
	log   *zap.SugaredLogger
	str   *store.Store
	pub   *dnspub.Publisher
	gsink *graphite.Sink

	pollers          []string
	pollInterval     int
	masterRotate     string
	unmanagedRotates map[string]bool
	maxTestResultAge int
	minPolledServers int
	minPolledOkPct   float64

	client *http.Client
}

// poll runs a single driver cycle.
func (d *driver) poll(ctx context.Context) {
	// Fetch full status JSON from all pollers, ignoring pollers which
	// appear to be faulty.
	statusSet := d.fetchFullStatus(ctx)

	// If no server status is available from any of the pollers, throw
	// in the towel so that we won't CNAME all servers to the rotate.
	if len(statusSet) == 0 {
		d.log.Errorf("Failed to get any server status information - no pollers reachable?")
		return
	}

	servers, err := d.str.GetServers(ctx)
	if err != nil {
		d.log.Errorf("cannot fetch server catalog: %v", err)
		return
	}

	merged := d.mergeStatus(ctx, servers, statusSet)

	d.updateDNS(ctx, servers, merged)

	if err := d.str.SendDnsStatusMessage(ctx, map[string]string{"reload": "full"}); err != nil {
		d.log.Errorf("cannot publish DNS status message: %v", err)
	}

	driverCycles.Inc()
}

// loop is the main DNS driver loop.
func (d *driver) loop(ctx context.Context) {
	t := time.NewTicker(time.Duration(d.pollInterval) * time.Second)
	defer t.Stop()

	for {
		d.poll(ctx)

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
