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

package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hessu/aprs2net-backend/a2_common/store"
)

const (
	fetchTimeout = 10 * time.Second
	userAgent    = "aprs2net-dns/2.0"

	maxSnapshotBytes = 64 * 1024 * 1024
)

// statusSet collects the per-site poll results: server ID -> site -> status.
type statusSet map[string]map[string]*store.Status

// fetchFullStatus fetches the full status snapshot from each of the
// pollers.  Snapshots from pollers which are unreachable or look faulty
// are discarded entirely.
func (d *driver) fetchFullStatus(ctx context.Context) statusSet {
	set := make(statusSet)

	for _, base := range d.pollers {
		d.log.Infof("Fetching status: %s", base)
		siteid := base
		if u, err := url.Parse(base); err == nil && u.Host != "" {
			siteid = u.Host
		}

		start := time.Now()

		req, err := http.NewRequestWithContext(ctx, "GET", base+"api/full", nil)
		if err != nil {
			d.log.Errorf("%s: bad poller URL: %v", siteid, err)
			continue
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := d.client.Do(req)
		if err != nil {
			d.log.Errorf("%s: HTTP full JSON status fetch: Connection error: %v", siteid, err)
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
		resp.Body.Close()
		if err != nil {
			d.log.Errorf("%s: HTTP full JSON status fetch: read error: %v", siteid, err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			d.log.Errorf("%s: HTTP full JSON status fetch: Status code %d", siteid, resp.StatusCode)
			continue
		}

		d.log.Debugf("%s: HTTP GET /api/full returned: %d (%.3f s)",
			siteid, resp.StatusCode, time.Since(start).Seconds())

		var full store.FullStatus
		if err := json.Unmarshal(body, &full); err != nil {
			d.log.Errorf("%s: JSON parsing failed: %v", siteid, err)
			continue
		}

		d.checkReturnedStatus(siteid, &full, set)
	}

	return set
}

// checkReturnedStatus validates a poller's snapshot before merging it in.
// A poller which reports too few servers, or too few working ones, is in
// trouble itself and its results would poison the merge.
func (d *driver) checkReturnedStatus(siteid string, full *store.FullStatus, set statusSet) {
	if full.Result != "full" && full.Result != "ok" {
		d.log.Errorf("%s: Full status JSON does not have result: ok/full", siteid)
		return
	}

	if len(full.Servers) == 0 {
		d.log.Errorf("%s: Full status JSON does not contain servers", siteid)
		return
	}

	if len(full.Servers) < d.minPolledServers {
		d.log.Errorf("%s: %d servers polled - too few (min %d)!",
			siteid, len(full.Servers), d.minPolledServers)
		return
	}

	okCount := 0
	for _, s := range full.Servers {
		if s.Status != nil && s.Status.Status == "ok" {
			okCount++
		}
	}
	okPct := 100.0 * float64(okCount) / float64(len(full.Servers))
	d.log.Infof("%s: %d/%d (%.1f %%) servers OK", siteid, okCount, len(full.Servers), okPct)

	if okPct < d.minPolledOkPct {
		d.log.Errorf("%s: Too few servers OK (%d/%d: %.1f %% < %.0f %%) - poller having trouble?",
			siteid, okCount, len(full.Servers), okPct, d.minPolledOkPct)
		return
	}

	for _, s := range full.Servers {
		d.addReturnedServer(siteid, s, set)
	}
}

// addReturnedServer adds a single returned server to the status set.
func (d *driver) addReturnedServer(siteid string, s store.ServerEntry, set statusSet) {
	if s.Config == nil || s.Status == nil {
		d.log.Errorf("%s: Server in set, with config or status missing", siteid)
		return
	}

	id := s.Config.ID
	if id == "" || s.Status.LastTest == 0 {
		d.log.Errorf("%s: Server in set, with id or last_test missing", siteid)
		return
	}

	// The testing result must be quite recent to be useful.
	testAge := time.Now().Unix() - s.Status.LastTest
	if testAge > int64(d.maxTestResultAge) {
		d.log.Errorf("%s: [%s] test age %d > %d", siteid, id, testAge, d.maxTestResultAge)
		return
	}

	if set[id] == nil {
		set[id] = make(map[string]*store.Status)
	}
	set[id][siteid] = s.Status
}
