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
	"fmt"
)

// Rotate families which constrain the uplink topology: leaves uplink to
// hubs, hubs uplink to the core.
const (
	rotFirenet = "firenet.aprs2.net"
	rotT2      = "rotate.aprs2.net"
	rotHubs    = "hubs.aprs2.net"
	rotCore    = "rotate.aprs.net"
	rotCWOP    = "cwop.aprs.net"
)

// An uplink which hasn't heard from its peer in this long is stuck.
const uplinkStuckSecs = 300

// checkUplink validates that the server's uplink topology is acceptable
// for its rotate memberships.
func (p *Probe) checkUplink(ctx context.Context) bool {
	uplinksRequired := true
	requiredUpstream := ""

	if p.server.MemberOf(rotFirenet) {
		p.log.Debugf("member of %s, not tracking uplinks", rotFirenet)
		return true
	}
	if p.server.MemberOf(rotT2) {
		p.log.Debugf("member of %s", rotT2)
		requiredUpstream = rotHubs
	}
	if p.server.MemberOf(rotHubs) {
		p.log.Debugf("member of %s", rotHubs)
		requiredUpstream = rotCore
	}
	if p.server.MemberOf(rotCore) || p.server.MemberOf(rotCWOP) {
		p.log.Debugf("member of core or cwop, no need for uplinks")
		uplinksRequired = false
	}

	ups := p.Props.Uplinks
	p.log.Debugf("uplinks: %v", ups)

	if !uplinksRequired {
		if len(ups) == 0 {
			return true
		}
		p.error("uplinks-has", "Server is linked to upstream servers - not expected for this server class")
		return false
	}

	if len(ups) < 1 {
		p.error("uplinks-none", "Not connected to an upstream server")
		return false
	}
	if len(ups) > 1 {
		p.error("uplinks-many", "Connected to more than 1 upstream server")
		return false
	}

	upl := ups[0]

	uplinkServer, err := p.lookup.GetServer(ctx, upl.ID)
	if err != nil {
		p.log.Infof("%s: uplink server lookup failed: %v", p.id, err)
	}
	p.log.Debugf("uplink is: %v", uplinkServer)
	if uplinkServer == nil {
		p.error("uplinks-odd", "Connected to unregistered upstream server")
		return false
	}

	if requiredUpstream != "" && !uplinkServer.MemberOf(requiredUpstream) {
		p.error("uplinks-wrong", "Connected to wrong upstream server")
		return false
	}

	if upl.RxLast > uplinkStuckSecs {
		p.error("uplinks-stuck",
			fmt.Sprintf("Uplink stuck: last received data %.0f seconds ago", upl.RxLast))
		return false
	}

	p.log.Infof("Uplink: Connected to %s [%s]", upl.AddrRem, upl.ID)

	return true
}
