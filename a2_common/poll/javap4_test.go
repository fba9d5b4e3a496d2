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
	"testing"

	"github.com/stretchr/testify/require"
)

const javap4DetailXML = `<?xml version="1.0" encoding="UTF-8"?>
<javaprssrvr>
  <software version="4.3.2b15">javAPRSSrvr</software>
  <dupeprocessor>
    <servercall>T2TEST</servercall>
    <dupes>123</dupes>
  </dupeprocessor>
  <java vendor="Oracle">
    <os architecture="amd64">Linux</os>
    <time>
      <up millis="864000000"/>
      <current utc="1600000000000"/>
    </time>
  </java>
  <listenerports>
    <connections currentin="42" maximum="600"/>
  </listenerports>
  <clients total="123456">
    <rcvdtotals bytes="111222333"/>
    <xmtdtotals bytes="444555666"/>
    <clientrcv>
      <class name="UpstreamClientRcv"/>
      <login>
        <callssid>T2HUB1</callssid>
      </login>
      <upstream>true</upstream>
      <rcvdfrom packets="5555"/>
      <remoteserver port="10152">192.0.2.10</remoteserver>
      <time>
        <connect utc="1599999000000"/>
        <lastlinein utc="1599999998000"/>
      </time>
    </clientrcv>
    <clientrcv>
      <class name="ClientRcv"/>
      <login>
        <callssid>OH7LZB-1</callssid>
      </login>
      <upstream>false</upstream>
      <time>
        <connect utc="1599990000000"/>
        <lastlinein utc="1599999999000"/>
      </time>
    </clientrcv>
  </clients>
</javaprssrvr>`

func TestParseJavap4(t *testing.T) {
	assert := require.New(t)

	p := testProbe(t, nil)
	r := p.parseJavaprssrvr4([]byte(javap4DetailXML))

	assert.Equal(probeAlive, r)
	assert.Empty(p.Errors)

	assert.Equal("T2TEST", p.Props.ID)
	assert.Equal("javAPRSSrvr", p.Props.Soft)
	assert.Equal("4.3.2b15", p.Props.Vers)
	assert.Equal("javap4", p.Props.Type)
	assert.Equal("Linux amd64", p.Props.OS)
	assert.Equal(int64(864000), p.Props.Uptime)
	assert.Equal(int64(42), p.Props.Clients)
	assert.Equal(int64(600), p.Props.ClientsMax)
	assert.Equal(int64(123456), p.Props.Connects)
	assert.Equal(int64(111222333), p.Props.TotalBytesIn)
	assert.Equal(int64(444555666), p.Props.TotalBytesOut)
	assert.InDelta(14.0, p.Props.UserLoad, 0.001)

	// Only the upstream client receiver counts as an uplink.
	assert.Len(p.Props.Uplinks, 1)
	up := p.Props.Uplinks[0]
	assert.Equal("T2HUB1", up.ID)
	assert.Equal("192.0.2.10:10152", up.AddrRem)
	// (current - connect) / 1000
	assert.Equal(int64(1000), up.Up)
	assert.InDelta(2.0, up.RxLast, 0.001)
	assert.Equal(int64(5555), up.RxPackets)

	assert.True(p.checkProperties())
}

func TestParseJavap4WrongRoot(t *testing.T) {
	assert := require.New(t)

	p := testProbe(t, nil)
	r := p.parseJavaprssrvr4([]byte(`<html><body>hello</body></html>`))

	assert.Equal(probeBroken, r)
	assert.NotEmpty(p.Errors)
}

func TestParseJavap4Garbage(t *testing.T) {
	assert := require.New(t)

	p := testProbe(t, nil)
	r := p.parseJavaprssrvr4([]byte("not xml"))

	assert.Equal(probeBroken, r)
	assert.Equal("web-xml-fail", p.Errors[0].Code)
}
