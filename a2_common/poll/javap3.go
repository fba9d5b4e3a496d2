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
	"regexp"
	"strconv"
	"strings"

	"github.com/hessu/aprs2net-backend/a2_common/store"
)

// javAPRSSrvr 3.x has no machine-readable status format, so the HTML
// status page is scraped with a pile of regular expressions.
var (
	javap3ReID     = regexp.MustCompile(`<TD[^>]*>Server ID</TD><TD>([^>]+)</TD>`)
	javap3ReOS     = regexp.MustCompile(`<TD[^>]*>OS</TD><TD>([^>]+)</TD>`)
	javap3ReSoft   = regexp.MustCompile(`<TH[^>]*>(javAPRSSrvr) \d+.\d+[^>]+<BR>`)
	javap3ReVers   = regexp.MustCompile(`<TH[^>]*>javAPRSSrvr (\d+.\d+[^>]+)<BR>`)
	javap3ReUptime = regexp.MustCompile(`<TD[^>]*>Total Up Time</TD><TD>([^>]+)</TD></TR>`)

	// Depending on the server's system locale these integers have
	// thousands separators, or not; either '.' or ',' or "'" or ' '.
	javap3ReNum = map[string]*regexp.Regexp{
		"clients":         regexp.MustCompile(`<TD[^>]*>Current Inbound Connections</TD><TD>([^<]+)</TD>`),
		"clients_max":     regexp.MustCompile(`<TD[^>]*>Maximum Inbound Connections</TD><TD>([^<]+)</TD>`),
		"connects":        regexp.MustCompile(`<TD[^>]*>Total Inbound Connects</TD><TD>([^<]+)</TD>`),
		"total_bytes_in":  regexp.MustCompile(`<TD[^>]*>Total Bytes In</TD><TD>([^<]+)</TD>`),
		"total_bytes_out": regexp.MustCompile(`<TD[^>]*>Total Bytes Out</TD><TD>([^<]+)</TD>`),
	}

	javap3ReOutbound = regexp.MustCompile(`(?s)<TH[^>]*>Outbound Connections</TH>.*?<TR[^>]*>.*?</TR>(.*?)</TBODY>`)
	// Column order: server/addr, hexid, verified, software, uptime,
	// packets rcvd, packets sent, bytes rcvd, bytes sent, rcv bps,
	// send bps, last packet in, looped, queue depth.
	javap3ReOutboundLine = regexp.MustCompile(`(?s)<TR[^>]*><TD[^>]*><A[^>]+>([^/<]+)/([^<]+)</A></TD><TD[^>]*>(.*?)</TD><TD[^>]*>(.*?)</TD><TD[^>]*>(.*?)</TD><TD[^>]*>(.*?)</TD><TD>(.*?)</TD><TD>(.*?)</TD><TD>(.*?)</TD><TD>(.*?)</TD><TD>(.*?)</TD><TD>(.*?)</TD><TD>(.*?)</TD>(.*)`)

	javap3ReUptimeTok = regexp.MustCompile(`^(\d+)(\.\d+)?([dhms])(.*)`)
	javap3ReNonDigit  = regexp.MustCompile(`[^\d]+`)
)

// javap3StrFloat parses an integer which may carry locale-dependent
// thousands separators: "78,527,080", "78.527.080", "78'527'080" or
// "78 527 080".
func javap3StrFloat(s string) (int64, error) {
	s = javap3ReNonDigit.ReplaceAllString(s, "")
	if s == "" {
		return 0, fmt.Errorf("no digits left after sanitizing")
	}
	return strconv.ParseInt(s, 10, 64)
}

// javap3DecodeUptime decodes an uptime string like "132d18h34m27.215s"
// to seconds.
func javap3DecodeUptime(s string) int64 {
	mul := map[string]int64{
		"d": 86400,
		"h": 3600,
		"m": 60,
		"s": 1,
	}

	var up int64
	for s != "" {
		m := javap3ReUptimeTok.FindStringSubmatch(s)
		if m == nil {
			break
		}
		n, _ := strconv.ParseInt(m[1], 10, 64)
		up += n * mul[m[3]]
		s = m[4]
	}

	return up
}

// pollJavaprssrvr3 fetches the javAPRSSrvr 3.x front page.  The flavor is
// identified by what is missing: 3.x never sends a Server: header.
func (p *Probe) pollJavaprssrvr3(ctx context.Context) probeResult {
	resp, body, dur, err := p.httpGet(ctx, p.statusURL)
	if err != nil {
		return p.error("web-http-fail",
			fmt.Sprintf("%s: HTTP status page 14501 /: Connection error: %v", p.id, err))
	}

	p.log.Debugf("%s: HTTP GET / returned: %d", p.id, resp.StatusCode)

	if hs := resp.Header.Get("Server"); hs != "" {
		p.log.Infof("%s: Reports Server: %q - not javAPRSSrvr 3.x", p.id, hs)
		return probeNotThisType
	}

	d := string(body)
	if !strings.Contains(d, "javAPRSSrvr 3.") && !strings.Contains(d, "Pete Loveall AE5PL") {
		p.log.Infof("%s: HTML does not mention javAPRSSrvr 3 or Pete", p.id)
		return probeBroken
	}

	p.Score.HTTPStatusT = &dur

	return p.parseJavaprssrvr3(d)
}

// parseJavaprssrvr3 scrapes the javAPRSSrvr 3.x HTML status page.
func (p *Probe) parseJavaprssrvr3(d string) probeResult {
	p.log.Debugf("%s: parsing javAPRSSrvr 3.x HTML", p.id)

	scalars := []struct {
		name string
		re   *regexp.Regexp
		dst  *string
	}{
		{"id", javap3ReID, &p.Props.ID},
		{"os", javap3ReOS, &p.Props.OS},
		{"soft", javap3ReSoft, &p.Props.Soft},
		{"vers", javap3ReVers, &p.Props.Vers},
	}
	for _, sc := range scalars {
		m := sc.re.FindStringSubmatch(d)
		if m == nil {
			return p.error("web-parse-fail",
				fmt.Sprintf("javAPRSSrvr 3.x status page does not have '%s'", sc.name))
		}
		*sc.dst = m[1]
	}

	m := javap3ReUptime.FindStringSubmatch(d)
	if m == nil {
		return p.error("web-parse-fail", "javAPRSSrvr 3.x status page does not have 'uptime'")
	}
	p.Props.Uptime = javap3DecodeUptime(m[1])

	nums := map[string]*int64{
		"clients":         &p.Props.Clients,
		"clients_max":     &p.Props.ClientsMax,
		"connects":        &p.Props.Connects,
		"total_bytes_in":  &p.Props.TotalBytesIn,
		"total_bytes_out": &p.Props.TotalBytesOut,
	}
	for k, dst := range nums {
		m := javap3ReNum[k].FindStringSubmatch(d)
		if m == nil {
			return p.error("web-parse-fail",
				fmt.Sprintf("javAPRSSrvr 3.x status page does not have numeric '%s'", k))
		}
		v, err := javap3StrFloat(m[1])
		if err != nil {
			return p.error("web-parse-fail",
				fmt.Sprintf("javAPRSSrvr 3.x status page, numeric '%s' parsing failed", k))
		}
		*dst = v
	}

	p.Props.UserLoad = loadPct(p.Props.Clients, p.Props.ClientsMax)
	p.Props.WorstLoad = p.Props.UserLoad
	p.Props.Type = "javap3"

	p.parseJavap3Uplinks(d)

	return probeAlive
}

func (p *Probe) parseJavap3Uplinks(d string) {
	ups := javap3ReOutbound.FindStringSubmatch(d)
	if ups == nil {
		return
	}

	s := ups[1]
	upl := []store.Uplink{}

	for s != "" {
		m := javap3ReOutboundLine.FindStringSubmatch(s)
		if m == nil {
			break
		}
		hname := m[1]
		haddr := m[2]
		uptime := javap3DecodeUptime(m[6])
		rxPackets, _ := javap3StrFloat(m[7])
		rxLast := javap3DecodeUptime(m[13])
		id := p.mapAddrID(haddr)
		p.log.Debugf("   server: host %s addr %s up %d rx_packets %d rx_last %d id %s",
			hname, haddr, uptime, rxPackets, rxLast, id)
		s = m[14]

		upl = append(upl, store.Uplink{
			ID:        id,
			AddrRem:   haddr,
			Up:        uptime,
			RxLast:    float64(rxLast),
			RxPackets: rxPackets,
		})
	}

	p.Props.Uplinks = upl
}
