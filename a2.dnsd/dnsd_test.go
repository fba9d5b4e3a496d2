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
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hessu/aprs2net-backend/a2_common/dnspub"
	"github.com/hessu/aprs2net-backend/a2_common/graphite"
	"github.com/hessu/aprs2net-backend/a2_common/store"
)

type recordedPush struct {
	fqdn  string
	v4    []string
	v6    []string
	cname string
}

type recordingBackend struct {
	pushes []recordedPush
}

func (r *recordingBackend) Push(ctx context.Context, logid, zone, fqdn string, v4Addrs, v6Addrs []string, cname string) error {
	r.pushes = append(r.pushes, recordedPush{fqdn: fqdn, v4: v4Addrs, v6: v6Addrs, cname: cname})
	return nil
}

func testDriver(t *testing.T) (*driver, *store.Store, *recordingBackend) {
	t.Helper()

	str := store.New(store.NewMemBackend())
	be := &recordingBackend{}
	nop := zap.NewNop().Sugar()

	d := &driver{
		log:              nop,
		str:              str,
		pub:              dnspub.New(nop, []string{"aprs2.net", "aprs.net"}, be),
		gsink:            graphite.NewSink(nop, "", 0, "aprs2"),
		pollInterval:     120,
		masterRotate:     "rotate.aprs2.net",
		unmanagedRotates: map[string]bool{"hubs.aprs2.net": true},
		maxTestResultAge: 660,
		minPolledServers: 2,
		minPolledOkPct:   55,
		client:           &http.Client{Timeout: fetchTimeout},
	}
	return d, str, be
}

func fptr(v float64) *float64 {
	return &v
}

func okMerged(score float64) *store.MergedStatus {
	return &store.MergedStatus{
		Status: "ok",
		Score:  fptr(score),
		Props: &store.Props{
			WorstLoad:   10,
			SubmitHTTP4: fptr(0.05),
		},
	}
}

// Twelve healthy members with scores 10..120: round(12*0.55) = 7, within
// the [2,8] clamp, so the seven best get published.
func TestRotateSelection(t *testing.T) {
	assert := require.New(t)
	d, str, be := testDriver(t)
	ctx := context.Background()

	servers := make(map[string]*store.Server)
	merged := make(map[string]*store.MergedStatus)
	var members []string

	for i := 1; i <= 12; i++ {
		id := fmt.Sprintf("T2N%02d", i)
		members = append(members, id)
		servers[id] = &store.Server{
			ID:   id,
			Host: fmt.Sprintf("n%02d", i),
			IPv4: fmt.Sprintf("192.0.2.%d", i),
		}
		merged[id] = okMerged(float64(i * 10))
	}

	assert.NoError(str.StoreRotate(ctx, &store.Rotate{ID: "euro.aprs2.net", Members: members}))

	participating := make(map[string]map[string]int)
	rot := &store.Rotate{ID: "euro.aprs2.net", Members: members}
	d.updateDNSRotate(ctx, "euro.aprs2.net", rot, merged, servers, participating)

	assert.Len(be.pushes, 1)
	push := be.pushes[0]
	assert.Equal("euro.aprs2.net", push.fqdn)
	assert.Equal([]string{
		"192.0.2.1", "192.0.2.2", "192.0.2.3", "192.0.2.4",
		"192.0.2.5", "192.0.2.6", "192.0.2.7",
	}, push.v4)
	assert.Empty(push.cname)

	// The published members are recorded as participating; the left-out
	// five are not.
	assert.Len(participating, 7)
	assert.Contains(participating, "T2N01")
	assert.NotContains(participating, "T2N08")
}

// Candidate gating: failed, deleted, overloaded and out-of-service members
// never enter a rotate.
func TestRotateCandidateGates(t *testing.T) {
	assert := require.New(t)

	ok := &store.Server{ID: "A", IPv4: "192.0.2.1"}
	assert.True(rotateCandidate(ok, okMerged(10)))

	deleted := &store.Server{ID: "B", IPv4: "192.0.2.2", Deleted: true}
	assert.False(rotateCandidate(deleted, okMerged(10)))

	oos := &store.Server{ID: "C", IPv4: "192.0.2.3", OutOfService: true}
	assert.False(rotateCandidate(oos, okMerged(10)))

	failed := okMerged(10)
	failed.Status = "fail"
	assert.False(rotateCandidate(ok, failed))

	noScore := okMerged(10)
	noScore.Score = nil
	assert.False(rotateCandidate(ok, noScore))

	loaded := okMerged(10)
	loaded.Props.WorstLoad = 85
	assert.False(rotateCandidate(ok, loaded))

	assert.False(rotateCandidate(ok, nil))
}

func TestRotateLimits(t *testing.T) {
	assert := require.New(t)

	// round(12*0.55) = 7
	assert.Equal(7, rotateLimit(12, rotateMaxV4Size))
	// Clamped to the upper bound.
	assert.Equal(8, rotateLimit(30, rotateMaxV4Size))
	assert.Equal(3, rotateLimit(30, rotateMaxV6Size))
	// Never below two, even with a single candidate.
	assert.Equal(2, rotateLimit(1, rotateMaxV4Size))
	assert.Equal(2, rotateLimit(0, rotateMaxV4Size))
}

// The master rotate needs a working submit port on its members.
func TestRotateMasterSubmitGate(t *testing.T) {
	assert := require.New(t)
	d, _, be := testDriver(t)
	ctx := context.Background()

	servers := map[string]*store.Server{
		"T2A": {ID: "T2A", Host: "a", IPv4: "192.0.2.1"},
		"T2B": {ID: "T2B", Host: "b", IPv4: "192.0.2.2"},
		"T2C": {ID: "T2C", Host: "c", IPv4: "192.0.2.3"},
	}
	merged := map[string]*store.MergedStatus{
		"T2A": okMerged(10),
		"T2B": okMerged(20),
		"T2C": okMerged(30),
	}
	merged["T2C"].Props.SubmitHTTP4 = nil

	rot := &store.Rotate{ID: "rotate.aprs2.net", Members: []string{"T2A", "T2B", "T2C"}}
	d.updateDNSRotate(ctx, "rotate.aprs2.net", rot, merged, servers,
		make(map[string]map[string]int))

	assert.Len(be.pushes, 1)
	assert.Equal([]string{"192.0.2.1", "192.0.2.2"}, be.pushes[0].v4)
}

// When every member of a managed rotate fails, the rotate becomes a CNAME
// to the master rotate; the master rotate itself is left untouched.  A
// second cycle on identical inputs publishes nothing.
func TestMasterRotateFallback(t *testing.T) {
	assert := require.New(t)
	d, str, be := testDriver(t)
	ctx := context.Background()

	servers := map[string]*store.Server{
		"T2A": {ID: "T2A", Host: "a", Domain: "aprs2.net", IPv4: "192.0.2.1",
			Member: []string{"rotate.aprs2.net", "euro.aprs2.net"}},
		"T2B": {ID: "T2B", Host: "b", Domain: "aprs2.net", IPv4: "192.0.2.2",
			Member: []string{"rotate.aprs2.net", "euro.aprs2.net"}},
	}
	for _, srv := range servers {
		assert.NoError(str.StoreServer(ctx, srv))
	}
	assert.NoError(str.StoreRotate(ctx, &store.Rotate{
		ID: "rotate.aprs2.net", Members: []string{"T2A", "T2B"}}))
	assert.NoError(str.StoreRotate(ctx, &store.Rotate{
		ID: "euro.aprs2.net", Members: []string{"T2A", "T2B"}}))

	merged := map[string]*store.MergedStatus{
		"T2A": {Status: "fail", Score: fptr(1020)},
		"T2B": {Status: "fail", Score: fptr(1040)},
	}

	d.updateDNS(ctx, servers, merged)

	var cnames, others []recordedPush
	for _, p := range be.pushes {
		if p.cname != "" {
			cnames = append(cnames, p)
		} else {
			others = append(others, p)
		}
	}

	// euro.aprs2.net and both host names fall back to the master
	// rotate; nothing at all is pushed for the master rotate.
	assert.Len(cnames, 3)
	seen := make(map[string]bool)
	for _, p := range cnames {
		assert.Equal("rotate.aprs2.net", p.cname)
		assert.NotEqual("rotate.aprs2.net", p.fqdn)
		seen[p.fqdn] = true
	}
	assert.True(seen["euro.aprs2.net"])
	assert.True(seen["a.aprs2.net"])
	assert.True(seen["b.aprs2.net"])
	assert.Empty(others)

	// Second identical cycle: complete suppression.
	n := len(be.pushes)
	d.updateDNS(ctx, servers, merged)
	assert.Len(be.pushes, n)
}

// Failed hubs keep their A records: their peers address them on purpose.
func TestHostsHubNoCNAME(t *testing.T) {
	assert := require.New(t)
	d, _, be := testDriver(t)
	ctx := context.Background()

	servers := map[string]*store.Server{
		"T2HUB1": {ID: "T2HUB1", Host: "hub1", Domain: "aprs2.net", IPv4: "192.0.2.10",
			Member: []string{"hubs.aprs2.net"}},
	}
	merged := map[string]*store.MergedStatus{
		"T2HUB1": {Status: "fail", Score: fptr(1020)},
	}

	d.updateDNSHosts(ctx, servers, merged)

	assert.Len(be.pushes, 1)
	assert.Equal("hub1.aprs2.net", be.pushes[0].fqdn)
	assert.Equal([]string{"192.0.2.10"}, be.pushes[0].v4)
	assert.Empty(be.pushes[0].cname)
}

func TestMergeOkFraction(t *testing.T) {
	assert := require.New(t)
	d, _, _ := testDriver(t)
	ctx := context.Background()

	mk := func(status string, lastTest int64) *store.Status {
		return &store.Status{Status: status, LastTest: lastTest,
			Props: &store.Props{Score: fptr(10)}}
	}

	now := time.Now().Unix()

	// 1/1 ok.
	m := d.mergeOne(ctx, "T2A", nil, map[string]*store.Status{
		"site1": mk("ok", now),
	})
	assert.Equal("ok", m.Status)

	// 1/2 ok: 0.5 > 0.48.
	m = d.mergeOne(ctx, "T2B", nil, map[string]*store.Status{
		"site1": mk("ok", now),
		"site2": mk("fail", now - 10),
	})
	assert.Equal("ok", m.Status)
	assert.Equal(1, m.COk)
	assert.Equal(2, m.CRes)
	assert.Equal("1/2", m.C)

	// 1/3 ok: below the fraction.
	m = d.mergeOne(ctx, "T2C", nil, map[string]*store.Status{
		"site1": mk("ok", now),
		"site2": mk("fail", now - 10),
		"site3": mk("fail", now - 20),
	})
	assert.Equal("fail", m.Status)

	// 0/1 ok.
	m = d.mergeOne(ctx, "T2D", nil, map[string]*store.Status{
		"site1": mk("fail", now),
	})
	assert.Equal("fail", m.Status)
}

func TestMergeScoreMean(t *testing.T) {
	assert := require.New(t)
	d, _, _ := testDriver(t)
	ctx := context.Background()

	now := time.Now().Unix()
	m := d.mergeOne(ctx, "T2A", nil, map[string]*store.Status{
		"site1": {Status: "ok", LastTest: now, Props: &store.Props{Score: fptr(10)}},
		"site2": {Status: "ok", LastTest: now - 5, Props: &store.Props{Score: fptr(30)}},
	})

	assert.NotNil(m.Score)
	assert.InDelta(20.0, *m.Score, 0.001)
	// The freshest site supplies the displayed props.
	assert.NotNil(m.Props)
	assert.Equal(m.Score, m.Props.Score)
}

// last_change must only advance on a true status transition.
func TestMergeLastChange(t *testing.T) {
	assert := require.New(t)
	d, str, _ := testDriver(t)
	ctx := context.Background()

	t0 := time.Now().Unix() - 1000

	assert.NoError(str.SetMergedStatus(ctx, "T2A", &store.MergedStatus{
		Status: "ok", LastTest: t0, LastChange: t0,
	}))

	// Still ok: last_change stays.
	m := d.mergeOne(ctx, "T2A", nil, map[string]*store.Status{
		"site1": {Status: "ok", LastTest: t0 + 120, Props: &store.Props{Score: fptr(10)}},
	})
	assert.Equal(t0, m.LastChange)
	assert.NoError(str.SetMergedStatus(ctx, "T2A", m))

	// Transition to fail: last_change advances to the new last_test.
	m = d.mergeOne(ctx, "T2A", nil, map[string]*store.Status{
		"site1": {Status: "fail", LastTest: t0 + 240, Props: &store.Props{Score: fptr(1010)}},
	})
	assert.Equal(t0+240, m.LastChange)
}

func TestMergeAvailabilityPenalty(t *testing.T) {
	assert := require.New(t)

	assert.Equal(0.0, availabilityPenalty(100.0))
	assert.Equal(0.0, availabilityPenalty(99.99))
	// Deep outage: capped at 500.
	assert.Equal(500.0, availabilityPenalty(99.5))
	assert.Equal(500.0, availabilityPenalty(50.0))
	// Just below the limit: a mild penalty.
	p := availabilityPenalty(99.97)
	assert.Greater(p, 0.0)
	assert.Less(p, 500.0)
}

// Out-of-service servers keep their availability figures frozen.
func TestMergeOutOfServiceAvail(t *testing.T) {
	assert := require.New(t)
	d, str, _ := testDriver(t)
	ctx := context.Background()

	t0 := time.Now().Unix() - 120

	assert.NoError(str.SetMergedStatus(ctx, "T2A", &store.MergedStatus{
		Status: "ok", LastTest: t0, LastChange: t0,
		Avail3: fptr(99.0), Avail30: fptr(98.0),
	}))

	srv := &store.Server{ID: "T2A", OutOfService: true}
	m := d.mergeOne(ctx, "T2A", srv, map[string]*store.Status{
		"site1": {Status: "fail", LastTest: t0 + 120, Props: &store.Props{Score: fptr(1010)}},
	})

	assert.Equal(99.0, *m.Avail3)
	assert.Equal(98.0, *m.Avail30)
}

func TestCheckReturnedStatusGates(t *testing.T) {
	assert := require.New(t)
	d, _, _ := testDriver(t)

	now := time.Now().Unix()
	entry := func(id, status string, lastTest int64) store.ServerEntry {
		return store.ServerEntry{
			Config: &store.Server{ID: id},
			Status: &store.Status{Status: status, LastTest: lastTest},
		}
	}

	// Too few servers: the whole snapshot is discarded.
	set := make(statusSet)
	d.checkReturnedStatus("site1", &store.FullStatus{
		Result:  "full",
		Servers: []store.ServerEntry{entry("T2A", "ok", now)},
	}, set)
	assert.Empty(set)

	// Too few ok: discarded too.
	set = make(statusSet)
	d.checkReturnedStatus("site1", &store.FullStatus{
		Result: "full",
		Servers: []store.ServerEntry{
			entry("T2A", "ok", now),
			entry("T2B", "fail", now),
			entry("T2C", "fail", now),
		},
	}, set)
	assert.Empty(set)

	// Wrong result marker.
	set = make(statusSet)
	d.checkReturnedStatus("site1", &store.FullStatus{
		Result: "partial",
		Servers: []store.ServerEntry{
			entry("T2A", "ok", now),
			entry("T2B", "ok", now),
		},
	}, set)
	assert.Empty(set)

	// Healthy snapshot: accepted, but stale per-server results dropped.
	set = make(statusSet)
	d.checkReturnedStatus("site1", &store.FullStatus{
		Result: "full",
		Servers: []store.ServerEntry{
			entry("T2A", "ok", now),
			entry("T2B", "ok", now-10000),
		},
	}, set)
	assert.Len(set, 1)
	assert.Contains(set, "T2A")
}
