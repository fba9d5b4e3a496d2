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

// Package score collects measurements from a server poll and derives a
// total score.  Best is 0; higher is worse.
package score

import (
	"fmt"
	"math"

	version "github.com/hashicorp/go-version"

	"github.com/hessu/aprs2net-backend/a2_common/store"
)

const (
	// ScoreMax is returned when a mandatory service is missing entirely.
	ScoreMax = 1000.0

	// For each polling time, the added score is 0 if the rtt is "good
	// enough", in an attempt to make the playing field level.
	rttGoodEnough = 0.4

	// Multiply the HTTP RTT by N before adding to score.
	// 50: rtt of 2.4 seconds will add 100 to score.
	httpRTTMul = 50.0

	// Multiply the TCP APRS-IS RTT by N before adding to score.
	// Averaged over the address families successfully polled.
	aprsisRTTMul = 40.0

	// Uplink uptime penalty time range, in seconds.  A recently
	// established uplink is sometimes a sign that it is flapping due to
	// a bad network connection.
	uplinkUptimePenaltyTime = 900

	// Newly rebooted servers may be in a crash loop: few users, great
	// RTT, terrible choice.  Ramp a penalty down over the first 30
	// minutes of uptime.
	uptimePenaltyRange = 30 * 60
	uptimeMaxPenalty   = 500.0
)

// DefaultVersionPenalty penalizes servers running versions older than the
// configured minimum.
// TODO: make configurable from config file.
var DefaultVersionPenalty = map[string]map[string]float64{
	"aprsc": {"2.0.18": 400},
}

// Score accumulates the measurements of one poll round.
type Score struct {
	// HTTPStatusT is the status page RTT; nil if the page was not
	// successfully fetched.
	HTTPStatusT *float64

	// PollT14580 holds the APRS-IS poll RTT per address family
	// ("ipv4", "ipv6").
	PollT14580 map[string]float64

	VersionPenalty map[string]map[string]float64

	total      float64
	components map[string]store.ScoreComponent
}

// New returns an empty Score.
func New() *Score {
	return &Score{
		PollT14580:     make(map[string]float64),
		VersionPenalty: DefaultVersionPenalty,
		components:     make(map[string]store.ScoreComponent),
	}
}

// Add records one named component.
func (s *Score) Add(name string, val float64, human string) {
	s.total += val
	s.components[name] = store.ScoreComponent{Value: val, Human: human}
}

// Components returns the score decomposition for the UI.
func (s *Score) Components() map[string]store.ScoreComponent {
	return s.components
}

// roundComponents truncates positive component values to one decimal for
// display.
func (s *Score) roundComponents() {
	for k, c := range s.components {
		if c.Value > 0.0 {
			c.Value = math.Trunc(c.Value*10) / 10
			s.components[k] = c
		}
	}
}

// Total calculates the total score from the collected measurements and the
// given server properties.
func (s *Score) Total(props *store.Props) float64 {
	// We must have a working HTTP status.
	if s.HTTPStatusT == nil {
		return ScoreMax
	}

	s.Add("http_rtt", math.Max(0, *s.HTTPStatusT-rttGoodEnough)*httpRTTMul,
		fmt.Sprintf("%.3f s", *s.HTTPStatusT))

	// We need at least one address family (ipv4, ipv6) working.
	if len(s.PollT14580) < 1 {
		return ScoreMax
	}

	var isScore, rttSum float64
	for _, t := range s.PollT14580 {
		rttSum += t
		isScore += math.Max(0.0, t-rttGoodEnough) * aprsisRTTMul
	}
	isScore /= float64(len(s.PollT14580))
	rttAvg := rttSum / float64(len(s.PollT14580))
	s.Add("aprsis_rtt", isScore, fmt.Sprintf("%.3f s", rttAvg))

	// Amount of users, worst case over the listeners.
	load := 100.0
	if props != nil {
		load = props.WorstLoad
	}
	s.Add("user_load", load*10.0, fmt.Sprintf("%.1f %%", load))

	if props != nil {
		s.addUptimePenalty(props)
		s.addUplinkPenalty(props)
		s.addVersionPenalty(props)
	}

	s.roundComponents()

	return s.total
}

func (s *Score) addUptimePenalty(props *store.Props) {
	uptime := props.Uptime
	if uptime < 0 {
		uptime = 0
	}
	if uptime >= uptimePenaltyRange {
		return
	}
	penalty := float64(uptimePenaltyRange-uptime) / uptimePenaltyRange * uptimeMaxPenalty
	s.Add("uptime", penalty, DurStr(uptime))
}

func (s *Score) addUplinkPenalty(props *store.Props) {
	if len(props.Uplinks) == 0 {
		return
	}
	up := props.Uplinks[0].Up
	if up < uplinkUptimePenaltyTime {
		s.Add("uplink_uptime", float64(uplinkUptimePenaltyTime-up), DurStr(up))
	}
}

func (s *Score) addVersionPenalty(props *store.Props) {
	if props.Soft == "" || props.Vers == "" {
		return
	}

	have, err := version.NewVersion(props.Vers)
	if err != nil {
		return
	}
	for reqStr, penalty := range s.VersionPenalty[props.Soft] {
		req, err := version.NewVersion(reqStr)
		if err != nil {
			continue
		}
		if have.LessThan(req) {
			s.Add("version", penalty, props.Vers)
		}
	}
}

// DurStr formats a duration in seconds the way the UI shows uptimes:
// "5d14h45s" (units that are zero are left out).
func DurStr(i int64) string {
	s := ""

	if i >= 86400 {
		d := i / 86400
		i -= d * 86400
		s += fmt.Sprintf("%dd", d)
	}
	if i >= 3600 {
		d := i / 3600
		i -= d * 3600
		s += fmt.Sprintf("%dh", d)
	}
	if i >= 60 {
		d := i / 60
		i -= d * 60
		s += fmt.Sprintf("%dm", d)
	}
	if i > 0 || s == "" {
		s += fmt.Sprintf("%ds", i)
	}

	return s
}
