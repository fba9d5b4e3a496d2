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
	"math"
	"sort"

	"github.com/hessu/aprs2net-backend/a2_common/store"
)

const (
	// Share of the healthy members a rotate carries: load balancing
	// happens even in smaller rotates, as the few servers with the
	// worst score are left out.
	rotateShare = 0.55

	// Record set size bounds.  The upper bounds keep the DNS reply
	// packet under 512 bytes, since there are still broken resolvers
	// out there which do neither EDNS nor TCP.
	rotateMinSize   = 2
	rotateMaxV4Size = 8
	rotateMaxV6Size = 3

	// Members loaded beyond this are not usable rotate candidates.
	rotateMaxLoad = 80
)

// updateDNS publishes the rotates and the individual host names to match
// the current merged status.
func (d *driver) updateDNS(ctx context.Context, servers map[string]*store.Server, merged map[string]*store.MergedStatus) {
	rotates, err := d.str.GetRotates(ctx)
	if err != nil {
		d.log.Errorf("cannot fetch rotate catalog: %v", err)
		return
	}

	// Which servers are taking part in one of the rotations.
	participating := make(map[string]map[string]int)

	for id, rot := range rotates {
		if d.unmanagedRotates[id] {
			continue
		}
		d.updateDNSRotate(ctx, id, rot, merged, servers, participating)
	}

	d.updateDNSHosts(ctx, servers, merged)

	if err := d.str.StoreRotateStatus(ctx, participating); err != nil {
		d.log.Errorf("cannot store rotate status: %v", err)
	}

	d.updateTotalStats(ctx, servers, merged)
}

// rotateCandidate tells whether a server is usable in a rotate right now.
func rotateCandidate(server *store.Server, m *store.MergedStatus) bool {
	if server == nil || server.Deleted || server.OutOfService {
		return false
	}
	if m == nil || m.Status != "ok" || m.Score == nil {
		return false
	}
	if m.Props != nil && m.Props.WorstLoad > rotateMaxLoad {
		return false
	}
	return true
}

// hasSubmitPort tells whether the server's HTTP submission port passed its
// probe; only such servers may serve the master rotate.
func hasSubmitPort(m *store.MergedStatus) bool {
	return m != nil && m.Props != nil && m.Props.SubmitHTTP4 != nil
}

// rotateLimit sizes a rotate: a share of the candidates, clamped.
func rotateLimit(n, max int) int {
	limit := int(math.Round(float64(n) * rotateShare))
	if limit > max {
		limit = max
	}
	if limit < rotateMinSize {
		limit = rotateMinSize
	}
	return limit
}

// updateDNSRotate selects the members of a single rotate and publishes
// its record set.
func (d *driver) updateDNSRotate(ctx context.Context, domain string, rot *store.Rotate,
	merged map[string]*store.MergedStatus, servers map[string]*store.Server,
	participating map[string]map[string]int) {

	d.log.Infof("Processing rotate %s ...", domain)

	var membersNotDeleted, membersOk []string
	for _, id := range rot.Members {
		srv := servers[id]
		if srv == nil || srv.Deleted {
			continue
		}
		membersNotDeleted = append(membersNotDeleted, id)
		if rotateCandidate(srv, merged[id]) {
			membersOk = append(membersOk, id)
		}
	}

	// Split by address family availability.
	var okV4, okV6 []string
	for _, id := range membersOk {
		if servers[id].IPv4 != "" {
			okV4 = append(okV4, id)
		}
		if servers[id].IPv6 != "" {
			okV6 = append(okV6, id)
		}
	}

	// For the master rotate, only accept servers which support HTTP
	// submit on port 8080.
	if domain == d.masterRotate {
		okV4 = filterIds(okV4, func(id string) bool { return hasSubmitPort(merged[id]) })
		okV6 = filterIds(okV6, func(id string) bool { return hasSubmitPort(merged[id]) })
	}

	// Sort by score, best first.
	byScore := func(ids []string) {
		sort.SliceStable(ids, func(i, j int) bool {
			return *merged[ids[i]].Score < *merged[ids[j]].Score
		})
	}
	byScore(okV4)
	byScore(okV6)

	v4Limit := rotateLimit(len(okV4), rotateMaxV4Size)
	v6Limit := rotateLimit(len(okV6), rotateMaxV6Size)

	limitedV4 := limitIds(okV4, v4Limit)
	limitedV6 := limitIds(okV6, v6Limit)

	d.log.Infof("Scored order ip4: %v", scoredList(limitedV4, merged))
	d.log.Infof("Left out     ip4: %v", scoredList(okV4[len(limitedV4):], merged))
	d.log.Infof("Scored order ip6: %v", scoredList(limitedV6, merged))
	d.log.Infof("Left out     ip6: %v", scoredList(okV6[len(limitedV6):], merged))

	if len(limitedV4) < 1 {
		if domain == d.masterRotate {
			// Publishing an empty master rotate would take the
			// whole network down; better to leave the old records
			// in place and scream.
			d.log.Errorf("Ouch! Master rotate %s has no working servers - not doing anything!", d.masterRotate)
			return
		}

		d.log.Infof("VERDICT %s: No working servers, CNAME %s", domain, d.masterRotate)
		d.pub.Push(ctx, domain, domain, nil, nil, d.masterRotate)
		return
	}

	for _, id := range limitedV4 {
		markParticipating(participating, id, domain)
	}
	for _, id := range limitedV6 {
		markParticipating(participating, id, domain)
	}

	v4Addrs := make([]string, 0, len(limitedV4))
	for _, id := range limitedV4 {
		v4Addrs = append(v4Addrs, servers[id].IPv4)
	}
	v6Addrs := make([]string, 0, len(limitedV6))
	for _, id := range limitedV6 {
		v6Addrs = append(v6Addrs, servers[id].IPv6)
	}

	d.pub.Push(ctx, domain, domain, v4Addrs, v6Addrs, "")

	d.storeRotateStats(ctx, domain, membersOk, membersNotDeleted, merged)
}

func filterIds(ids []string, keep func(string) bool) []string {
	var out []string
	for _, id := range ids {
		if keep(id) {
			out = append(out, id)
		}
	}
	return out
}

func limitIds(ids []string, limit int) []string {
	if len(ids) > limit {
		return ids[:limit]
	}
	return ids
}

func markParticipating(participating map[string]map[string]int, id, domain string) {
	if participating[id] == nil {
		participating[id] = make(map[string]int)
	}
	participating[id][domain] = 1
}

type scoredID struct {
	ID    string
	Score float64
}

func scoredList(ids []string, merged map[string]*store.MergedStatus) []scoredID {
	out := make([]scoredID, 0, len(ids))
	for _, id := range ids {
		out = append(out, scoredID{ID: id, Score: math.Round(*merged[id].Score*10) / 10})
	}
	return out
}

// updateDNSHosts publishes the addresses of the individual servers.  A
// server which is down, deleted or out of service is CNAMEd to the master
// rotate instead, so clients configured with its host name keep working;
// hubs are exempt since their peers address them on purpose.
func (d *driver) updateDNSHosts(ctx context.Context, servers map[string]*store.Server, merged map[string]*store.MergedStatus) {
	type addrs struct {
		v4, v6 []string
	}
	names := make(map[string]*addrs)
	cnamed := make(map[string]bool)

	for id, srv := range servers {
		fqdn := srv.Host + "." + srv.Domain

		failed := srv.OutOfService || srv.Deleted ||
			merged[id] == nil || merged[id].Status != "ok"

		if failed && !srv.MemberOf("hubs.aprs2.net") {
			cnamed[fqdn] = true
			continue
		}

		a := names[fqdn]
		if a == nil {
			a = &addrs{}
			names[fqdn] = a
		}
		if srv.IPv4 != "" {
			a.v4 = append(a.v4, srv.IPv4)
		}
		if srv.IPv6 != "" {
			a.v6 = append(a.v6, srv.IPv6)
		}
	}

	for fqdn, a := range names {
		d.pub.Push(ctx, fqdn, fqdn, a.v4, a.v6, "")
	}

	// CNAME to the rotate, but only for names which did not get A
	// records through another server instance.
	for fqdn := range cnamed {
		if names[fqdn] == nil {
			d.pub.Push(ctx, fqdn, fqdn, nil, nil, d.masterRotate)
		}
	}
}

// storeRotateStats calculates and stores aggregate statistics for one
// rotate.
func (d *driver) storeRotateStats(ctx context.Context, domain string, membersOk, membersNotDeleted []string, merged map[string]*store.MergedStatus) {
	st := &store.RotateStats{
		ServersOk: len(membersOk),
		Servers:   len(membersNotDeleted),
	}
	for _, id := range membersOk {
		m := merged[id]
		if m == nil || m.Props == nil {
			continue
		}
		st.Clients += m.Props.Clients
		st.RateBytesIn += m.Props.RateBytesIn
		st.RateBytesOut += m.Props.RateBytesOut
	}

	d.log.Infof("%s: %d clients on %d/%d servers, total data rate %.0f/%.0f bytes/sec in/out",
		domain, st.Clients, st.ServersOk, st.Servers, st.RateBytesIn, st.RateBytesOut)

	if err := d.str.StoreRotateStats(ctx, domain, st); err != nil {
		d.log.Errorf("%s: cannot store rotate stats: %v", domain, err)
	}
}

// updateTotalStats stores statistics over the whole server set as the
// pseudo-rotate "total".
func (d *driver) updateTotalStats(ctx context.Context, servers map[string]*store.Server, merged map[string]*store.MergedStatus) {
	var membersOk, membersNotDeleted []string
	for id, srv := range servers {
		if srv.Deleted {
			continue
		}
		membersNotDeleted = append(membersNotDeleted, id)
		m := merged[id]
		if m != nil && m.Status == "ok" && m.Score != nil && !srv.OutOfService {
			membersOk = append(membersOk, id)
		}
	}
	d.storeRotateStats(ctx, "total", membersOk, membersNotDeleted, merged)
}
