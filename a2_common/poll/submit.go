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

// Expected response codes for a GET against the HTTP submission port.
// We have to verify that port 8080 actually responds in a way that
// indicates a supported server which would accept position posts, but the
// servers don't return sensible codes unless a packet is actually
// transmitted - and we don't want to do that.  So we do a GET and check
// for the flavor's characteristic error code.  None of the servers
// return a Server: header on this port.
var submitRetcodes = map[string]int{
	"aprsc":  501, // Not implemented
	"javap3": 400, // Bad request
	"javap4": 405, // Method not allowed
}

// pollHTTPSubmit probes the HTTP submission port 8080 on each configured
// address family.  The result is informational; the DNS driver uses it to
// gate master rotate membership.
func (p *Probe) pollHTTPSubmit(ctx context.Context) {
	families := []struct {
		family string
		addr   string
		dst    **float64
	}{
		{"ipv4", p.server.IPv4, &p.Props.SubmitHTTP4},
		{"ipv6", p.server.IPv6, &p.Props.SubmitHTTP6},
	}

	for _, f := range families {
		if f.addr == "" {
			continue
		}

		url := fmt.Sprintf("http://%s:%d/", f.addr, p.submitPort)
		if f.family == "ipv6" {
			url = fmt.Sprintf("http://[%s]:%d/", f.addr, p.submitPort)
		}

		resp, _, dur, err := p.httpGet(ctx, url)
		if err != nil {
			p.log.Infof("%s: HTTP submit 8080: Connection error: %v", p.id, err)
			continue
		}

		if hs := resp.Header.Get("Server"); hs != "" {
			p.log.Infof("%s: HTTP submit 8080: Reports Server: %q - not a HTTP submit port!", p.id, hs)
			continue
		}

		expect, ok := submitRetcodes[p.Props.Type]
		if !ok || resp.StatusCode != expect {
			p.log.Infof("%s: HTTP submit 8080: return code %d != expected %d - not a HTTP submit port!",
				p.id, resp.StatusCode, expect)
			continue
		}

		p.log.Infof("%s: HTTP submit 8080: return code %d - OK, looks like a submit port (%.3f s)",
			p.id, resp.StatusCode, dur)
		d := dur
		*f.dst = &d
	}
}
