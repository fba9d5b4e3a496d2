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

package poll

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hessu/aprs2net-backend/a2_common/store"
)

func testProbe(t *testing.T, server *store.Server) *Probe {
	t.Helper()
	if server == nil {
		server = &store.Server{ID: "T2TEST", IPv4: "192.0.2.1"}
	}
	return New(zap.NewNop().Sugar(), server, fakeLookup{},
		NewSoftwareTypeCache(), NewRatesCache(),
		map[string]string{
			"192.0.2.10":   "T2HUB1",
			"2001:db8::10": "T2HUB6",
		}, nil)
}

// fakeLookup resolves server IDs from a static map.
type fakeLookup map[string]*store.Server

func (f fakeLookup) GetServer(ctx context.Context, id string) (*store.Server, error) {
	return f[id], nil
}

func TestJavap3DecodeUptime(t *testing.T) {
	assert := require.New(t)

	assert.Equal(int64(132*86400+18*3600+34*60+27), javap3DecodeUptime("132d18h34m27.215s"))
	assert.Equal(int64(5*86400+14*3600+45), javap3DecodeUptime("5d14h00m45.881s"))
	assert.Equal(int64(0), javap3DecodeUptime("00.025s"))
	assert.Equal(int64(0), javap3DecodeUptime(""))
	assert.Equal(int64(0), javap3DecodeUptime("rubbish"))
}

// javAPRSSrvr renders integers with the thousands separator of the
// server's locale.
func TestJavap3StrFloat(t *testing.T) {
	assert := require.New(t)

	for _, s := range []string{"78,527,080", "78.527.080", "78'527'080", "78 527 080", "78527080"} {
		v, err := javap3StrFloat(s)
		assert.NoError(err, "input %q", s)
		assert.Equal(int64(78527080), v, "input %q", s)
	}

	_, err := javap3StrFloat("")
	assert.Error(err)
}

const javap3Page = `<HTML><HEAD><TITLE>javAPRSSrvr</TITLE></HEAD><BODY>
<TABLE><TBODY>
<TR><TH colspan=2>javAPRSSrvr 3.15b08<BR></TH></TR>
<TR><TD align=left>Server ID</TD><TD>T2TEST</TD></TR>
<TR><TD align=left>OS</TD><TD>Linux 4.19</TD></TR>
<TR><TD align=left>Total Up Time</TD><TD>132d18h34m27.215s</TD></TR>
<TR><TD align=left>Current Inbound Connections</TD><TD>120</TD></TR>
<TR><TD align=left>Maximum Inbound Connections</TD><TD>500</TD></TR>
<TR><TD align=left>Total Inbound Connects</TD><TD>1,234,567</TD></TR>
<TR><TD align=left>Total Bytes In</TD><TD>78.527.080</TD></TR>
<TR><TD align=left>Total Bytes Out</TD><TD>2 345 678</TD></TR>
</TBODY></TABLE>
<TABLE><TBODY>
<TR><TH colspan=14>Outbound Connections</TH></TR>
<TR><TH>Server</TH><TH>Hex</TH><TH>Verified</TH><TH>Software</TH><TH>Up</TH><TH>Pkts Rcvd</TH><TH>Pkts Sent</TH><TH>Bytes Rcvd</TH><TH>Bytes Sent</TH><TH>Rcv bps</TH><TH>Send bps</TH><TH>Last in</TH><TH>Looped</TH><TH>Queue</TH></TR>
<TR align=right><TD align=middle><A href="http://192.0.2.10:14501">hub1.aprs2.net/192.0.2.10:20152</A></TD><TD align=middle>C1BEF0E2</TD><TD align=middle>Yes</TD><TD align=middle>aprsc 2.0.11</TD><TD>5d14h00m45.881s</TD><TD>21,334,472</TD><TD>498,551</TD><TD>1,937,147,236</TD><TD>44,844,765</TD><TD>32,122</TD><TD>743</TD><TD>00.025s</TD><TD>4,048</TD><TD>0</TD></TR></TBODY></TABLE>
</BODY></HTML>`

func TestParseJavap3(t *testing.T) {
	assert := require.New(t)

	p := testProbe(t, nil)
	r := p.parseJavaprssrvr3(javap3Page)

	assert.Equal(probeAlive, r)
	assert.Empty(p.Errors)

	assert.Equal("T2TEST", p.Props.ID)
	assert.Equal("Linux 4.19", p.Props.OS)
	assert.Equal("javAPRSSrvr", p.Props.Soft)
	assert.Equal("javap3", p.Props.Type)
	assert.Equal(int64(132*86400+18*3600+34*60+27), p.Props.Uptime)
	assert.Equal(int64(120), p.Props.Clients)
	assert.Equal(int64(500), p.Props.ClientsMax)
	assert.Equal(int64(1234567), p.Props.Connects)
	assert.Equal(int64(78527080), p.Props.TotalBytesIn)
	assert.Equal(int64(2345678), p.Props.TotalBytesOut)

	// Load is computed against the capped client capacity of 300.
	assert.InDelta(40.0, p.Props.UserLoad, 0.001)
	assert.InDelta(40.0, p.Props.WorstLoad, 0.001)

	assert.Len(p.Props.Uplinks, 1)
	up := p.Props.Uplinks[0]
	assert.Equal("T2HUB1", up.ID)
	assert.Equal("192.0.2.10:20152", up.AddrRem)
	assert.Equal(int64(5*86400+14*3600+45), up.Up)
	assert.Equal(int64(21334472), up.RxPackets)
	assert.Equal(0.0, up.RxLast)
}

// javAPRSSrvr 3.x is the one flavor with no positive marker: any Server:
// header rules it out.
func TestPollJavap3ServerHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "aprsc")
		w.Write([]byte("<html></html>"))
	}))
	defer ts.Close()

	p := testProbe(t, nil)
	p.statusURL = ts.URL + "/"

	require.Equal(t, probeNotThisType, p.pollJavaprssrvr3(context.Background()))
}

func TestPollJavap3FullPage(t *testing.T) {
	assert := require.New(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(javap3Page))
	}))
	defer ts.Close()

	p := testProbe(t, nil)
	p.statusURL = ts.URL + "/"

	assert.Equal(probeAlive, p.pollJavaprssrvr3(context.Background()))
	assert.NotNil(p.Score.HTTPStatusT)
	assert.Equal("T2TEST", p.Props.ID)
}

func TestParseJavap3Incomplete(t *testing.T) {
	assert := require.New(t)

	p := testProbe(t, nil)
	r := p.parseJavaprssrvr3("<HTML><BODY>javAPRSSrvr 3.15b08</BODY></HTML>")

	assert.Equal(probeBroken, r)
	assert.NotEmpty(p.Errors)
	assert.Equal("web-parse-fail", p.Errors[0].Code)
}
