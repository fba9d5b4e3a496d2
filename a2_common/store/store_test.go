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

package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testStore() (*Store, *MemBackend) {
	be := NewMemBackend()
	return New(be), be
}

func fptr(v float64) *float64 {
	return &v
}

func TestServerRoundTrip(t *testing.T) {
	assert := require.New(t)
	s, _ := testStore()
	ctx := context.Background()

	srv := &Server{
		ID:     "T2FINLAND",
		Host:   "finland",
		Domain: "aprs2.net",
		IPv4:   "85.188.1.32",
		IPv6:   "2001:67c:15c:1::32",
		Member: []string{"rotate.aprs2.net"},
		Email:  "sysop@example.com",
	}
	assert.NoError(s.StoreServer(ctx, srv))

	back, err := s.GetServer(ctx, "T2FINLAND")
	assert.NoError(err)
	assert.Equal(srv, back)

	missing, err := s.GetServer(ctx, "T2NOWHERE")
	assert.NoError(err)
	assert.Nil(missing)

	all, err := s.GetServers(ctx)
	assert.NoError(err)
	assert.Len(all, 1)
	assert.Equal(srv, all["T2FINLAND"])
}

func TestStatusRoundTrip(t *testing.T) {
	assert := require.New(t)
	s, _ := testStore()
	ctx := context.Background()

	st := &Status{
		Status:     "fail",
		LastTest:   1700000000,
		LastChange: 1699990000,
		Props: &Props{
			Type:      "aprsc",
			ID:        "T2TEST",
			Soft:      "aprsc",
			Vers:      "2.1.4",
			OS:        "Linux",
			Clients:   17,
			WorstLoad: 1.7,
			Score:     fptr(1017.0),
			ScoreBase: map[string]ScoreComponent{
				"user_load":   {Value: 17, Human: "1.7 %"},
				"server-fail": {Value: 1000, Human: "1000"},
			},
		},
		Errors: []ErrorTuple{{Code: "id-mismatch", Message: "wrong ID"}},
		Avail3: fptr(99.99),
	}
	assert.NoError(s.SetServerStatus(ctx, "T2TEST", st))

	back, err := s.GetServerStatus(ctx, "T2TEST")
	assert.NoError(err)
	assert.Equal(st, back)
}

// The UI expects errors and score components as two-element arrays.
func TestTupleWireFormat(t *testing.T) {
	assert := require.New(t)

	d, err := json.Marshal(ErrorTuple{Code: "IS4-acl", Message: "blocked"})
	assert.NoError(err)
	assert.JSONEq(`["IS4-acl", "blocked"]`, string(d))

	d, err = json.Marshal(ScoreComponent{Value: 17, Human: "1.7 %"})
	assert.NoError(err)
	assert.JSONEq(`[17, "1.7 %"]`, string(d))

	var e ErrorTuple
	assert.NoError(json.Unmarshal([]byte(`["crash", "boom"]`), &e))
	assert.Equal(ErrorTuple{Code: "crash", Message: "boom"}, e)
}

func TestPollQueue(t *testing.T) {
	assert := require.New(t)
	s, _ := testStore()
	ctx := context.Background()

	now := time.Unix(1700000000, 0)

	assert.NoError(s.SetPollQ(ctx, "T2A", now.Unix()-10))
	assert.NoError(s.SetPollQ(ctx, "T2B", now.Unix()-5))
	assert.NoError(s.SetPollQ(ctx, "T2C", now.Unix()+100))

	due, err := s.GetPollSet(ctx, now, 10)
	assert.NoError(err)
	assert.Equal([]string{"T2A", "T2B"}, due)

	// The limit caps the batch.
	due, err = s.GetPollSet(ctx, now, 1)
	assert.NoError(err)
	assert.Equal([]string{"T2A"}, due)

	assert.NoError(s.DelPollQ(ctx, "T2A"))
	all, err := s.GetPollList(ctx)
	assert.NoError(err)
	assert.Equal([]string{"T2B", "T2C"}, all)
}

func TestUpdateAvailAllUp(t *testing.T) {
	assert := require.New(t)
	s, _ := testStore()
	ctx := context.Background()

	now := time.Date(2020, 6, 15, 12, 0, 0, 0, time.UTC)

	a3, a30, err := s.UpdateAvail(ctx, "T2TEST", now, 300, true)
	assert.NoError(err)
	assert.Equal(100.0, a3)
	assert.Equal(100.0, a30)
}

func TestUpdateAvailMixed(t *testing.T) {
	assert := require.New(t)
	s, _ := testStore()
	ctx := context.Background()

	now := time.Date(2020, 6, 15, 12, 0, 0, 0, time.UTC)

	// 3600 s up, then 1200 s down, all today.
	_, _, err := s.UpdateAvail(ctx, "T2TEST", now, 3600, true)
	assert.NoError(err)
	a3, a30, err := s.UpdateAvail(ctx, "T2TEST", now, 1200, false)
	assert.NoError(err)

	assert.InDelta(75.0, a3, 0.001)
	assert.InDelta(75.0, a30, 0.001)
}

// Day -3 only counts fractionally: its weight fades as today progresses.
func TestUpdateAvailFractionalDay(t *testing.T) {
	assert := require.New(t)
	s, be := testStore()
	ctx := context.Background()

	// Noon UTC: half of today has passed, so day -3 has weight 0.5.
	now := time.Date(2020, 6, 15, 12, 0, 0, 0, time.UTC)
	day3 := dayEpoch(now) - 3*daySecs

	// 1000 s of downtime on day -3.
	_, err := be.HashIncrBy(ctx, kAvail, availField("T2TEST", day3, false), 1000)
	assert.NoError(err)

	a3, a30, err := s.UpdateAvail(ctx, "T2TEST", now, 1000, true)
	assert.NoError(err)

	// 3-day window: 1000 up today + 0.5 * 1000 down on day -3.
	assert.InDelta(1000.0/1500.0*100.0, a3, 0.001)
	// 30-day window counts day -3 in full.
	assert.InDelta(50.0, a30, 0.001)
}

// Buckets beyond the retention window are pruned on update.
func TestUpdateAvailPrune(t *testing.T) {
	assert := require.New(t)
	s, be := testStore()
	ctx := context.Background()

	now := time.Date(2020, 6, 15, 12, 0, 0, 0, time.UTC)
	ancient := dayEpoch(now) - 40*daySecs

	_, err := be.HashIncrBy(ctx, kAvail, availField("T2TEST", ancient, true), 1000)
	assert.NoError(err)
	// Another server's ancient bucket stays put.
	_, err = be.HashIncrBy(ctx, kAvail, availField("T2OTHER", ancient, true), 1000)
	assert.NoError(err)

	_, _, err = s.UpdateAvail(ctx, "T2TEST", now, 300, true)
	assert.NoError(err)

	keys, err := be.HashKeys(ctx, kAvail)
	assert.NoError(err)
	assert.NotContains(keys, availField("T2TEST", ancient, true))
	assert.Contains(keys, availField("T2OTHER", ancient, true))
	assert.Contains(keys, availField("T2TEST", dayEpoch(now), true))
}

func TestAddressMapRoundTrip(t *testing.T) {
	assert := require.New(t)
	s, _ := testStore()
	ctx := context.Background()

	m := map[string]string{
		"85.188.1.32":        "T2FINLAND",
		"2001:67c:15c:1::32": "T2FINLAND",
	}
	assert.NoError(s.SetAddressMap(ctx, m))

	back, err := s.GetAddressMap(ctx)
	assert.NoError(err)
	assert.Equal(m, back)

	// An empty store yields an empty map, not nil.
	s2, _ := testStore()
	back, err = s2.GetAddressMap(ctx)
	assert.NoError(err)
	assert.NotNil(back)
	assert.Empty(back)
}

func TestPublish(t *testing.T) {
	assert := require.New(t)
	s, be := testStore()
	ctx := context.Background()

	assert.NoError(s.SendDnsStatusMessage(ctx, map[string]string{"reload": "full"}))
	assert.Len(be.Published, 1)
	assert.Equal(chStatusDNS, be.Published[0].Channel)
	assert.JSONEq(`{"reload": "full"}`, be.Published[0].Msg)
}
