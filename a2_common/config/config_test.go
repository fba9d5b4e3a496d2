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

package config

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hessu/aprs2net-backend/a2_common/store"
)

const portalJSON = `{
	"rotate.aprs2.net": {
		"servers": {
			"T2FINLAND": {
				"host": "finland", "domain": "aprs2.net",
				"ipv4": "85.188.1.32", "ipv6": "2001:67C:015C:0001::32"
			},
			"T2BRAZIL": {
				"host": "brazil", "domain": "aprs2.net",
				"ipv4": "198.51.100.7"
			},
			"T2NOADDR": {
				"host": "noaddr", "domain": "aprs2.net"
			},
			"T2POLL-EU": {
				"host": "poll-eu", "domain": "aprs2.net",
				"ipv4": "198.51.100.99"
			}
		}
	},
	"hubs.aprs2.net": {
		"servers": {
			"T2HUB1": {
				"host": "hub1", "domain": "aprs2.net",
				"ipv4": "192.0.2.10"
			},
			"T2FINLAND": {
				"host": "finland", "domain": "aprs2.net",
				"ipv4": "85.188.1.32", "ipv6": "2001:67C:015C:0001::32"
			}
		}
	},
	"t2poll.aprs2.net": {
		"servers": {
			"T2WHATEVER": {"host": "x", "domain": "aprs2.net", "ipv4": "203.0.113.1"}
		}
	}
}`

type portal struct {
	etag    string
	body    string
	fetches int
}

func (p *portal) handler(w http.ResponseWriter, r *http.Request) {
	p.fetches++
	if p.etag != "" && r.Header.Get("If-None-Match") == p.etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if p.etag != "" {
		w.Header().Set("Etag", p.etag)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(p.body))
}

func managerFixture(t *testing.T, body, etag string) (*Manager, *store.Store, *portal) {
	t.Helper()

	p := &portal{etag: etag, body: body}
	ts := httptest.NewServer(http.HandlerFunc(p.handler))
	t.Cleanup(ts.Close)

	str := store.New(store.NewMemBackend())
	m, err := NewManager(zap.NewNop().Sugar(), str, ts.URL, nil)
	require.NoError(t, err)
	return m, str, p
}

func TestRefresh(t *testing.T) {
	assert := require.New(t)
	m, str, _ := managerFixture(t, portalJSON, "")
	ctx := context.Background()

	assert.NoError(m.Refresh(ctx))

	servers, err := str.GetServers(ctx)
	assert.NoError(err)
	// T2NOADDR has no ipv4 and T2POLL-EU is a poller instance; neither
	// may enter the catalog.
	assert.Len(servers, 3)
	assert.Contains(servers, "T2FINLAND")
	assert.Contains(servers, "T2BRAZIL")
	assert.Contains(servers, "T2HUB1")

	// Memberships accumulate over the rotates.
	assert.Equal([]string{"hubs.aprs2.net", "rotate.aprs2.net"}, servers["T2FINLAND"].Member)

	// The IPv6 literal is canonicalized at the boundary.
	assert.Equal("2001:67c:15c:1::32", servers["T2FINLAND"].IPv6)

	rotates, err := str.GetRotates(ctx)
	assert.NoError(err)
	assert.Len(rotates, 2)
	assert.NotContains(rotates, "t2poll.aprs2.net")
	assert.Equal([]string{"T2FINLAND", "T2HUB1"}, rotates["hubs.aprs2.net"].Members)

	// Every server is scheduled for polling.
	queue, err := str.GetPollList(ctx)
	assert.NoError(err)
	assert.Len(queue, 3)
}

// Address map lookups must hit regardless of how the portal spells the
// IPv6 literal.
func TestRefreshAddressMapCanonicalization(t *testing.T) {
	assert := require.New(t)
	m, str, _ := managerFixture(t, portalJSON, "")
	ctx := context.Background()

	assert.NoError(m.Refresh(ctx))

	addrMap, err := str.GetAddressMap(ctx)
	assert.NoError(err)
	assert.Equal("T2FINLAND", addrMap["85.188.1.32"])
	assert.Equal("T2FINLAND", addrMap["2001:67c:15c:1::32"])
	assert.NotContains(addrMap, "2001:67C:015C:0001::32")
}

func TestRefreshNotModified(t *testing.T) {
	assert := require.New(t)
	m, str, p := managerFixture(t, portalJSON, `"v1"`)
	ctx := context.Background()

	assert.NoError(m.Refresh(ctx))
	queue1, err := str.GetPollList(ctx)
	assert.NoError(err)

	// Second refresh gets a 304 and must not mutate the catalog.
	assert.NoError(m.Refresh(ctx))
	assert.Equal(2, p.fetches)

	queue2, err := str.GetPollList(ctx)
	assert.NoError(err)
	assert.Equal(queue1, queue2)
}

func TestRefreshEviction(t *testing.T) {
	assert := require.New(t)
	m, str, p := managerFixture(t, portalJSON, "")
	ctx := context.Background()

	assert.NoError(m.Refresh(ctx))

	// The portal forgets everything but the hub.
	p.body = `{
		"hubs.aprs2.net": {
			"servers": {
				"T2HUB1": {"host": "hub1", "domain": "aprs2.net", "ipv4": "192.0.2.10"}
			}
		}
	}`
	assert.NoError(m.Refresh(ctx))

	servers, err := str.GetServers(ctx)
	assert.NoError(err)
	assert.Len(servers, 1)
	assert.Contains(servers, "T2HUB1")

	queue, err := str.GetPollList(ctx)
	assert.NoError(err)
	assert.Equal([]string{"T2HUB1"}, queue)

	rotates, err := str.GetRotates(ctx)
	assert.NoError(err)
	assert.Len(rotates, 1)
}

// An existing queue entry keeps its schedule over a refresh; only new
// servers get a randomized initial offset.
func TestRefreshKeepsSchedule(t *testing.T) {
	assert := require.New(t)
	m, str, _ := managerFixture(t, portalJSON, "")
	ctx := context.Background()

	assert.NoError(str.SetPollQ(ctx, "T2FINLAND", 12345))
	assert.NoError(m.Refresh(ctx))

	pollt, ok, err := str.GetPollQ(ctx, "T2FINLAND")
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(int64(12345), pollt)
}

func TestCanonV6(t *testing.T) {
	assert := require.New(t)

	assert.Equal("2001:67c:15c::32", canonV6("2001:67C:015C::32"))
	assert.Equal("2001:67c:15c::32", canonV6("2001:67c:15c:0:0:0:0:32"))
	assert.Equal("", canonV6(""))
	// Unparseable input is passed through untouched.
	assert.Equal("rubbish", canonV6("rubbish"))
}
