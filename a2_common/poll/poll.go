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

// Package poll probes a single APRS-IS server: status page over HTTP with
// protocol auto-detection, TCP login test, HTTP submission port test, and
// uplink topology validation.  The result is a property set, an error list
// and a score.
package poll

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hessu/aprs2net-backend/a2_common/score"
	"github.com/hessu/aprs2net-backend/a2_common/store"
)

const (
	httpTimeout = 5 * time.Second
	userAgent   = "aprs2net-poller/2.0"

	// Per-listener client capacity used for load calculations; servers
	// often configure very large maximums which would make the load
	// figure meaningless.
	clientCap = 300
)

// DefaultTryOrder is the status page detection order.  javAPRSSrvr 3.x is
// identified only by the absence of a Server: header, so it has to be
// asked before the others to avoid misclassification.
var DefaultTryOrder = []string{"javap3", "aprsc", "javap4"}

type probeResult int

const (
	// probeAlive: the page was fetched and parsed; this is the flavor.
	probeAlive probeResult = iota
	// probeNotThisType: the server is up but runs a different flavor.
	probeNotThisType
	// probeBroken: the server answered in a way that is just wrong.
	probeBroken
)

var (
	reIPv4Port = regexp.MustCompile(`^(\d+\.\d+\.\d+\.\d+):(\d+)`)
	reIPv6Port = regexp.MustCompile(`^([0-9a-f:]+:[0-9a-f]*):(\d+)`)
)

// SoftwareTypeCache remembers the last detected software flavor per
// server, so the next poll can try the right parser first.
type SoftwareTypeCache struct {
	sync.Mutex
	m map[string]string
}

// NewSoftwareTypeCache returns an empty cache.
func NewSoftwareTypeCache() *SoftwareTypeCache {
	return &SoftwareTypeCache{m: make(map[string]string)}
}

// Get returns the cached flavor for a server, or "".
func (c *SoftwareTypeCache) Get(id string) string {
	c.Lock()
	defer c.Unlock()
	return c.m[id]
}

// Set stores the detected flavor for a server.
func (c *SoftwareTypeCache) Set(id, flavor string) {
	c.Lock()
	defer c.Unlock()
	c.m[id] = flavor
}

// Del forgets the cached flavor for a server.
func (c *SoftwareTypeCache) Del(id string) {
	c.Lock()
	defer c.Unlock()
	delete(c.m, id)
}

// RatesEntry is the cumulative-counter snapshot from the previous poll,
// used for computing per-second rates.
type RatesEntry struct {
	T             time.Time
	TotalBytesIn  int64
	TotalBytesOut int64
	Connects      int64
}

// RatesCache holds a RatesEntry per server.
type RatesCache struct {
	sync.Mutex
	m map[string]RatesEntry
}

// NewRatesCache returns an empty cache.
func NewRatesCache() *RatesCache {
	return &RatesCache{m: make(map[string]RatesEntry)}
}

// Get returns the previous snapshot for a server.
func (c *RatesCache) Get(id string) (RatesEntry, bool) {
	c.Lock()
	defer c.Unlock()
	e, ok := c.m[id]
	return e, ok
}

// Set stores the snapshot for a server.
func (c *RatesCache) Set(id string, e RatesEntry) {
	c.Lock()
	defer c.Unlock()
	c.m[id] = e
}

// ServerLookup resolves a server ID to its configuration; the uplink
// validation uses it to check the upstream's rotate membership.
type ServerLookup interface {
	GetServer(ctx context.Context, id string) (*store.Server, error)
}

// Probe runs one poll round against one server.
type Probe struct {
	log     *zap.SugaredLogger
	server  *store.Server
	lookup  ServerLookup
	stc     *SoftwareTypeCache
	rates   *RatesCache
	addrMap map[string]string

	id         string
	statusURL  string
	submitPort int
	client     *http.Client
	tryOrder   []string

	// Props collects everything learned about the server; valid after
	// Run regardless of success.
	Props *store.Props

	// Score collects the timing measurements; valid after Run.
	Score *score.Score

	// Errors is the list of failures; empty on success.
	Errors []store.ErrorTuple
}

// New prepares a probe of the given server.  tryOrder may be nil for the
// default detection order.
func New(log *zap.SugaredLogger, server *store.Server, lookup ServerLookup,
	stc *SoftwareTypeCache, rates *RatesCache, addrMap map[string]string,
	tryOrder []string) *Probe {

	if len(tryOrder) == 0 {
		tryOrder = DefaultTryOrder
	}

	return &Probe{
		log:        log,
		server:     server,
		lookup:     lookup,
		stc:        stc,
		rates:      rates,
		addrMap:    addrMap,
		id:         server.ID,
		statusURL:  fmt.Sprintf("http://%s:14501/", server.IPv4),
		submitPort: 8080,
		client:     &http.Client{Timeout: httpTimeout},
		tryOrder:   append([]string(nil), tryOrder...),
		Props:      &store.Props{},
		Score:      score.New(),
	}
}

// error pushes an error to the list of errors.  Always returns
// probeBroken, so parsers can fail in a single statement.
func (p *Probe) error(code, msg string) probeResult {
	p.log.Infof("%s: Polling error [%s]: %s", p.id, code, msg)
	p.Errors = append(p.Errors, store.ErrorTuple{Code: code, Message: msg})
	return probeBroken
}

// httpGet fetches a URL with the poller user agent, returning the
// response, the body and the request duration.
func (p *Probe) httpGet(ctx context.Context, url string) (*http.Response, []byte, float64, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, nil, 0, err
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nil, 0, err
	}
	defer resp.Body.Close()

	body, err := readBodyLimited(resp)
	dur := time.Since(start).Seconds()
	if err != nil {
		return nil, nil, 0, err
	}
	return resp, body, dur, nil
}

// mapAddrID maps a remote "addr:port" literal to a server ID, if possible.
func (p *Probe) mapAddrID(addr string) string {
	if m := reIPv4Port.FindStringSubmatch(addr); m != nil {
		return p.addrMap[m[1]]
	}
	if m := reIPv6Port.FindStringSubmatch(addr); m != nil {
		if ip := net.ParseIP(m[1]); ip != nil {
			return p.addrMap[ip.String()]
		}
	}
	return "unknown"
}

// Run performs the full poll round.  It returns true when the server
// passed every test; the error list explains a false.
func (p *Probe) Run(ctx context.Context) bool {
	success := p.run(ctx)

	if !success {
		p.Score.Add("server-fail", 1000, "1000")
	}

	total := p.Score.Total(p.Props)
	p.Props.Score = &total
	p.Props.ScoreBase = p.Score.Components()

	verdict := "FAIL"
	if success {
		verdict = "OK"
	}
	p.log.Infof("%s: Server %s, score %.1f: %v", verdict, p.id, total, p.Props.ScoreBase)

	return success
}

func (p *Probe) run(ctx context.Context) bool {
	p.log.Infof("polling %s", p.id)

	// Check if we know its software type already.
	if first := p.stc.Get(p.id); first != "" {
		found := false
		order := []string{first}
		for _, t := range p.tryOrder {
			if t == first {
				found = true
			} else {
				order = append(order, t)
			}
		}
		if !found {
			p.log.Infof("%s: software type cache says '%s' which we don't know about", p.id, first)
			p.stc.Del(p.id)
		} else {
			p.tryOrder = order
		}
	}

	ok := false
	for _, t := range p.tryOrder {
		var r probeResult

		switch t {
		case "aprsc":
			r = p.pollAprsc(ctx)
		case "javap4":
			r = p.pollJavaprssrvr4(ctx)
		case "javap3":
			r = p.pollJavaprssrvr3(ctx)
		default:
			continue
		}

		// Not this type, but might be alive?
		if r == probeNotThisType {
			continue
		}
		if r == probeBroken {
			return false
		}

		p.log.Debugf("%s: HTTP %s OK %.3f s", p.id, t, *p.Score.HTTPStatusT)

		if !p.checkProperties() {
			return false
		}

		p.calculateRates()

		p.log.Debugf("%s: Server users %d/%d (%.1f %% total, %.1f %% worst-case)",
			p.id, p.Props.Clients, p.Props.ClientsMax, p.Props.UserLoad, p.Props.WorstLoad)

		p.stc.Set(p.id, t)

		ok = true
		break
	}

	if !ok {
		p.error("web-undetermined", fmt.Sprintf("Server status not determined: %s", p.id))
		return false
	}

	// Test that the required APRS-IS services are working.
	if !p.serviceTests(ctx) {
		return false
	}

	return p.checkUplink(ctx)
}

// checkProperties validates properties received from the HTTP status page.
func (p *Probe) checkProperties() bool {
	mandatory := map[string]string{
		"id":   p.Props.ID,
		"os":   p.Props.OS,
		"soft": p.Props.Soft,
		"vers": p.Props.Vers,
	}
	for k, v := range mandatory {
		if v == "" {
			p.error("web-props", fmt.Sprintf("Failed to get mandatory server property: \"%s\"", k))
			return false
		}
	}

	if p.Props.ID != p.id {
		p.error("id-mismatch", fmt.Sprintf("Server ID mismatch: \"%s\" on server, \"%s\" expected",
			p.Props.ID, p.id))
		return false
	}

	return true
}

// calculateRates computes bytes/sec rates from the cumulative counters,
// against the snapshot taken at the previous poll.
func (p *Probe) calculateRates() {
	now := time.Now()

	if prev, ok := p.rates.Get(p.id); ok {
		dur := now.Sub(prev.T).Seconds()
		if dur > 0 {
			if p.Props.TotalBytesIn > prev.TotalBytesIn {
				p.Props.RateBytesIn = float64(p.Props.TotalBytesIn-prev.TotalBytesIn) / dur
			}
			if p.Props.TotalBytesOut > prev.TotalBytesOut {
				p.Props.RateBytesOut = float64(p.Props.TotalBytesOut-prev.TotalBytesOut) / dur
			}
			if p.Props.Connects > prev.Connects {
				p.Props.RateConnects = float64(p.Props.Connects-prev.Connects) / dur
			}
		}
	}

	p.rates.Set(p.id, RatesEntry{
		T:             now,
		TotalBytesIn:  p.Props.TotalBytesIn,
		TotalBytesOut: p.Props.TotalBytesOut,
		Connects:      p.Props.Connects,
	})
}

// serviceTests performs the APRS-IS service tests: the submission port
// check and the TCP login test on each configured address family.
func (p *Probe) serviceTests(ctx context.Context) bool {
	p.pollHTTPSubmit(ctx)

	port := 14580
	if len(p.id) >= 5 && p.id[:5] == "T2HUB" {
		port = 20152
	}

	ok := true
	okCount := 0

	families := []struct {
		family string
		addr   string
		prefix string
	}{
		{"ipv4", p.server.IPv4, "IS4"},
		{"ipv6", p.server.IPv6, "IS6"},
	}

	for _, f := range families {
		if f.addr == "" {
			continue
		}
		start := time.Now()
		code, msg := aprsisPoll(ctx, p.log, f.addr, port, p.id, f.prefix)
		dur := time.Since(start).Seconds()

		if code != "" {
			p.error(code, fmt.Sprintf("%s TCP %d: %s", f.family, port, msg))
			ok = false
		} else {
			okCount++
			p.Score.PollT14580[f.family] = dur
		}
	}

	return ok && okCount > 0
}
