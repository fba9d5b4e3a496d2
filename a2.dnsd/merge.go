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
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/hessu/aprs2net-backend/a2_common/graphite"
	"github.com/hessu/aprs2net-backend/a2_common/store"
)

// A merged status is ok when at least one site saw the server up and a
// good share of the sites agree.
const mergeOkFraction = 0.48

// The availability penalty kicks in below this 3-day availability.
const availPenaltyLimit = 99.98

// availabilityPenalty converts a 3-day availability percentage to a score
// penalty.  Logarithmic: dropping from four nines hurts quickly, but the
// penalty is capped so a server can still climb back.
func availabilityPenalty(avail3 float64) float64 {
	if avail3 >= availPenaltyLimit {
		return 0
	}
	return math.Min(math.Log((100.0-avail3)*1000+1)*90, 500)
}

// mergeStatus fuses the per-site status sets into one merged status per
// server, updates availability bookkeeping, and stores the results.
func (d *driver) mergeStatus(ctx context.Context, servers map[string]*store.Server, set statusSet) map[string]*store.MergedStatus {
	merged := make(map[string]*store.MergedStatus)

	okTotal := 0
	for id, sites := range set {
		m := d.mergeOne(ctx, id, servers[id], sites)
		merged[id] = m
		if m.Status == "ok" {
			okTotal++
		}

		if err := d.str.SetMergedStatus(ctx, id, m); err != nil {
			d.log.Errorf("%s: cannot store merged status: %v", id, err)
		}

		if servers[id] != nil {
			d.sendServerStats(servers[id], m)
		}
	}

	mergedServers.Set(float64(len(merged)))
	mergedServersOk.Set(float64(okTotal))

	return merged
}

// mergeOne merges the per-site results of a single server.
func (d *driver) mergeOne(ctx context.Context, id string, server *store.Server, sites map[string]*store.Status) *store.MergedStatus {
	okCount := 0
	var scores []float64
	var scoreSum float64
	errs := make(map[string]string)
	mergedScoreBase := make(map[string]map[string]store.ScoreComponent)

	// The site with the latest test result supplies the displayed
	// properties.
	var latest *store.Status

	for site, stat := range sites {
		d.log.Debugf("status for %s at %s: %s", id, site, stat.Status)

		if latest == nil || latest.LastTest < stat.LastTest {
			latest = stat
		}

		if stat.Status == "ok" {
			okCount++
		}

		if stat.Props != nil && stat.Props.Score != nil {
			scores = append(scores, *stat.Props.Score)
			scoreSum += *stat.Props.Score
			if stat.Props.ScoreBase != nil {
				mergedScoreBase[site] = stat.Props.ScoreBase
			}
		}

		for _, e := range stat.Errors {
			errs[e.Code] = e.Message
		}
	}

	status := "fail"
	if okCount >= 1 && float64(okCount)/float64(len(sites)) > mergeOkFraction {
		status = "ok"
	}

	m := &store.MergedStatus{
		Status: status,
		C:      fmt.Sprintf("%d/%d", okCount, len(sites)),
		COk:    okCount,
		CRes:   len(sites),
		Errors: []store.ErrorTuple{},
	}

	if latest != nil {
		m.Props = latest.Props
		m.LastTest = latest.LastTest
	}

	codes := make([]string, 0, len(errs))
	for c := range errs {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	for _, c := range codes {
		m.Errors = append(m.Errors, store.ErrorTuple{Code: c, Message: errs[c]})
	}

	// last_change only advances on true transitions; availability is
	// carried over and updated from the time since the previous merge.
	prev, err := d.str.GetMergedStatus(ctx, id)
	if err != nil {
		d.log.Errorf("%s: cannot fetch previous merged status: %v", id, err)
	}

	if prev == nil || status != prev.Status || prev.LastChange == 0 {
		m.LastChange = m.LastTest
	} else {
		m.LastChange = prev.LastChange
	}

	if prev != nil && prev.LastTest > 0 && m.LastTest > 0 {
		tdif := m.LastTest - prev.LastTest
		m.Avail3 = prev.Avail3
		m.Avail30 = prev.Avail30

		if server != nil && server.OutOfService {
			d.log.Debugf("%s: server out_of_service, not updating availability stats", id)
		} else if tdif > 0 && tdif < int64(d.pollInterval)*3 {
			a3, a30, err := d.str.UpdateAvail(ctx, id, time.Now(), tdif, status == "ok")
			if err != nil {
				d.log.Errorf("%s: cannot update availability: %v", id, err)
			} else {
				m.Avail3 = &a3
				m.Avail30 = &a30
			}
		} else {
			d.log.Debugf("%s: tdif %d not good, using old availability stats", id, tdif)
		}
	}

	// Calculate the availability penalty for the score.
	availScore := 0.0
	if m.Avail3 != nil {
		availScore = availabilityPenalty(*m.Avail3)
	}

	// Start off with the arithmetic mean of the per-site scores; a
	// failed poll already carries its failure penalty in its score.
	if len(scores) > 0 {
		sc := scoreSum / float64(len(scores))
		if availScore > 0 {
			sc += availScore
			mergedScoreBase["master"] = map[string]store.ScoreComponent{
				"availability": {
					Value: availScore,
					Human: fmt.Sprintf("%.3f %%", *m.Avail3),
				},
			}
		}
		m.Score = &sc
		if m.Props != nil {
			m.Props.Score = &sc
		}

		// The merged scorebase table heading needs the union of the
		// component names.
		keys := make(map[string]bool)
		for _, sb := range mergedScoreBase {
			for k := range sb {
				keys[k] = true
			}
		}
		m.MergedScoreKeys = make([]string, 0, len(keys))
		for k := range keys {
			m.MergedScoreKeys = append(m.MergedScoreKeys, k)
		}
		sort.Strings(m.MergedScoreKeys)
	}

	if len(mergedScoreBase) > 0 {
		m.MergedScoreBase = mergedScoreBase
	}

	return m
}

// sendServerStats pushes per-server statistics to Graphite.
func (d *driver) sendServerStats(server *store.Server, m *store.MergedStatus) {
	gs := graphite.NewSender(d.gsink, "server."+server.ID)

	ok := 0.0
	if m.Status == "ok" {
		ok = 1.0
	}
	gs.Send("merged_ok", ok)

	if m.Score != nil {
		gs.Send("merged_score", *m.Score)
	}
	if m.Avail3 != nil {
		gs.Send("merged_avail_3", *m.Avail3)
	}

	if p := m.Props; p != nil {
		gs.Send("clients", float64(p.Clients))
		gs.Send("rate_bytes_in", p.RateBytesIn)
		gs.Send("rate_bytes_out", p.RateBytesOut)
		gs.Send("rate_connects", p.RateConnects)
		gs.Send("worst_load", p.WorstLoad)
	}
}
