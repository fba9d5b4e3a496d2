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

package score

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hessu/aprs2net-backend/a2_common/store"
)

func fptr(v float64) *float64 {
	return &v
}

func happyProps() *store.Props {
	return &store.Props{
		Type:       "aprsc",
		ID:         "T2FINLAND",
		Soft:       "aprsc",
		Vers:       "2.1.4",
		OS:         "Linux",
		Uptime:     10 * 86400,
		Clients:    17,
		ClientsMax: 1000,
		WorstLoad:  1.7,
		UserLoad:   1.7,
		Uplinks: []store.Uplink{
			{ID: "T2HUB1", AddrRem: "10.0.0.1:10152", Up: 86400, RxLast: 2},
		},
	}
}

func happyScore() *Score {
	s := New()
	s.HTTPStatusT = fptr(0.05)
	s.PollT14580["ipv4"] = 0.06
	s.PollT14580["ipv6"] = 0.06
	return s
}

func TestScoreHappy(t *testing.T) {
	assert := require.New(t)

	s := happyScore()
	total := s.Total(happyProps())

	// Good RTTs contribute nothing; a load of 1.7 % scores 17.
	assert.InDelta(17.0, total, 0.001)

	comp := s.Components()
	assert.Equal(0.0, comp["http_rtt"].Value)
	assert.Equal(0.0, comp["aprsis_rtt"].Value)
	assert.Equal(17.0, comp["user_load"].Value)
	assert.NotContains(comp, "uptime")
	assert.NotContains(comp, "uplink_uptime")
	assert.NotContains(comp, "version")
}

func TestScoreFlappingUplink(t *testing.T) {
	assert := require.New(t)

	s := happyScore()
	props := happyProps()
	props.Uplinks[0].Up = 120

	total := s.Total(props)

	comp := s.Components()
	assert.Equal(780.0, comp["uplink_uptime"].Value)
	assert.Equal("2m", comp["uplink_uptime"].Human)
	assert.InDelta(797.0, total, 0.001)
}

func TestScoreMissingHTTP(t *testing.T) {
	s := New()
	s.PollT14580["ipv4"] = 0.06

	assert.Equal(t, ScoreMax, s.Total(happyProps()))
}

func TestScoreMissingAPRSIS(t *testing.T) {
	s := New()
	s.HTTPStatusT = fptr(0.05)

	assert.Equal(t, ScoreMax, s.Total(happyProps()))
}

// Increasing the HTTP RTT must never decrease the total score.
func TestScoreMonotonicInRTT(t *testing.T) {
	assert := require.New(t)

	prev := -1.0
	for _, rtt := range []float64{0.0, 0.2, 0.4, 0.5, 1.0, 2.4, 10.0} {
		s := happyScore()
		s.HTTPStatusT = fptr(rtt)
		total := s.Total(happyProps())
		assert.GreaterOrEqual(total, prev, "rtt %.1f", rtt)
		prev = total
	}
}

func TestScoreUptimePenalty(t *testing.T) {
	assert := require.New(t)

	s := happyScore()
	props := happyProps()
	props.Uptime = 0

	total := s.Total(props)
	assert.InDelta(500.0, s.Components()["uptime"].Value, 0.001)
	assert.InDelta(517.0, total, 0.001)

	// Half the ramp at 15 minutes.
	s = happyScore()
	props = happyProps()
	props.Uptime = 15 * 60
	s.Total(props)
	assert.InDelta(250.0, s.Components()["uptime"].Value, 0.001)
}

func TestScoreVersionPenalty(t *testing.T) {
	assert := require.New(t)

	s := happyScore()
	props := happyProps()
	props.Soft = "aprsc"
	props.Vers = "2.0.14"

	total := s.Total(props)
	assert.Equal(400.0, s.Components()["version"].Value)
	assert.InDelta(417.0, total, 0.001)

	// New enough: no penalty.
	s = happyScore()
	props.Vers = "2.0.18"
	s.Total(props)
	assert.NotContains(s.Components(), "version")
}

func TestScoreRTTAboveThreshold(t *testing.T) {
	assert := require.New(t)

	s := happyScore()
	s.HTTPStatusT = fptr(2.4)

	total := s.Total(happyProps())
	// (2.4 - 0.4) * 50 = 100
	assert.InDelta(100.0, s.Components()["http_rtt"].Value, 0.001)
	assert.InDelta(117.0, total, 0.001)
}

func TestDurStr(t *testing.T) {
	assert := require.New(t)

	assert.Equal("0s", DurStr(0))
	assert.Equal("45s", DurStr(45))
	assert.Equal("2m", DurStr(120))
	assert.Equal("1h1m5s", DurStr(3665))
	assert.Equal("5d14h45s", DurStr(5*86400+14*3600+45))
}
