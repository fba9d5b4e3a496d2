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
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hessu/aprs2net-backend/a2_common/store"
)

// Status pages are small; anything bigger than this is garbage.
const maxBodyBytes = 4 * 1024 * 1024

func readBodyLimited(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// aprscStatus is the part of aprsc's status.json that we consume.
// Pointer fields distinguish a missing key from a zero.
type aprscStatus struct {
	Server *struct {
		ServerID        *string  `json:"server_id"`
		Software        *string  `json:"software"`
		SoftwareVersion *string  `json:"software_version"`
		OS              *string  `json:"os"`
		Uptime          *float64 `json:"uptime"`
	} `json:"server"`
	Totals *struct {
		Clients    *int64 `json:"clients"`
		ClientsMax *int64 `json:"clients_max"`
		Connects   *int64 `json:"connects"`

		TCPBytesRx  int64 `json:"tcp_bytes_rx"`
		TCPBytesTx  int64 `json:"tcp_bytes_tx"`
		UDPBytesRx  int64 `json:"udp_bytes_rx"`
		UDPBytesTx  int64 `json:"udp_bytes_tx"`
		SCTPBytesRx int64 `json:"sctp_bytes_rx"`
		SCTPBytesTx int64 `json:"sctp_bytes_tx"`
	} `json:"totals"`
	Listeners []struct {
		Addr       string  `json:"addr"`
		Proto      *string `json:"proto"`
		Clients    *int64  `json:"clients"`
		ClientsMax *int64  `json:"clients_max"`
	} `json:"listeners"`
	Uplinks []struct {
		Username      string  `json:"username"`
		AddrRem       string  `json:"addr_rem"`
		SinceConnect  int64   `json:"since_connect"`
		SinceLastRead float64 `json:"since_last_read"`
		PktsRx        int64   `json:"pkts_rx"`
	} `json:"uplinks"`
}

// pollAprsc fetches and parses aprsc's status.json.
func (p *Probe) pollAprsc(ctx context.Context) probeResult {
	resp, body, dur, err := p.httpGet(ctx, p.statusURL+"status.json")
	if err != nil {
		return p.error("web-http-fail",
			fmt.Sprintf("%s: HTTP status page 14501 /status.json: Connection error: %v", p.id, err))
	}

	p.log.Debugf("%s: HTTP GET /status.json returned: %d", p.id, resp.StatusCode)

	if resp.StatusCode == http.StatusNotFound {
		return probeNotThisType
	}
	if resp.StatusCode != http.StatusOK {
		return probeBroken
	}

	p.Score.HTTPStatusT = &dur

	var j aprscStatus
	if err := json.Unmarshal(body, &j); err != nil {
		p.log.Infof("%s: JSON parsing failed: %v", p.id, err)
		return p.error("web-json-fail", "aprsc status.json JSON parsing failed")
	}

	return p.parseAprsc(&j)
}

// parseAprsc extracts the server properties from a decoded status.json.
func (p *Probe) parseAprsc(j *aprscStatus) probeResult {
	if j.Server == nil {
		return p.error("web-parse-fail", "aprsc status.json does not have a server block")
	}

	serverKeys := map[string]*string{
		"server_id":        j.Server.ServerID,
		"software":         j.Server.Software,
		"software_version": j.Server.SoftwareVersion,
		"os":               j.Server.OS,
	}
	for k, v := range serverKeys {
		if v == nil {
			return p.error("web-parse-fail",
				fmt.Sprintf("aprsc status.json block \"server\" does not specify \"%s\"", k))
		}
	}
	if j.Server.Uptime == nil {
		return p.error("web-parse-fail", "aprsc status.json block \"server\" does not specify \"uptime\"")
	}

	p.Props.ID = *j.Server.ServerID
	p.Props.Soft = *j.Server.Software
	p.Props.Vers = *j.Server.SoftwareVersion
	p.Props.OS = *j.Server.OS
	p.Props.Uptime = int64(*j.Server.Uptime)
	p.Props.Type = "aprsc"

	if j.Totals == nil {
		return p.error("web-parse-fail", "aprsc status.json does not have a totals block")
	}
	totalsKeys := map[string]*int64{
		"clients":     j.Totals.Clients,
		"clients_max": j.Totals.ClientsMax,
		"connects":    j.Totals.Connects,
	}
	for k, v := range totalsKeys {
		if v == nil {
			return p.error("web-parse-fail",
				fmt.Sprintf("aprsc status.json block \"totals\" does not specify \"%s\"", k))
		}
	}

	p.Props.Clients = *j.Totals.Clients
	p.Props.ClientsMax = *j.Totals.ClientsMax
	p.Props.Connects = *j.Totals.Connects
	p.Props.TotalBytesIn = j.Totals.TCPBytesRx + j.Totals.UDPBytesRx + j.Totals.SCTPBytesRx
	p.Props.TotalBytesOut = j.Totals.TCPBytesTx + j.Totals.UDPBytesTx + j.Totals.SCTPBytesTx

	// User load percentage, overall and per TCP listener; the worst
	// case steers rotate membership.
	uLoad := loadPct(p.Props.Clients, p.Props.ClientsMax)
	worstLoad := uLoad

	if j.Listeners == nil {
		return p.error("web-parse-fail", "aprsc status.json does not have a listeners block")
	}
	for _, l := range j.Listeners {
		if l.Proto == nil {
			return p.error("web-parse-fail", "aprsc status.json listener does not specify protocol")
		}
		if *l.Proto == "udp" {
			continue
		}
		if l.Clients == nil || l.ClientsMax == nil {
			return p.error("web-parse-fail", "aprsc status.json listener does not specify number of clients")
		}
		lLoad := loadPct(*l.Clients, *l.ClientsMax)
		p.log.Debugf("%s: listener %s %d/%d load %.1f %%", p.id, l.Addr, *l.Clients, *l.ClientsMax, lLoad)
		if lLoad > worstLoad {
			worstLoad = lLoad
		}
	}

	p.Props.UserLoad = uLoad
	p.Props.WorstLoad = worstLoad

	for _, u := range j.Uplinks {
		p.Props.Uplinks = append(p.Props.Uplinks, store.Uplink{
			ID:        u.Username,
			AddrRem:   u.AddrRem,
			Up:        u.SinceConnect,
			RxLast:    u.SinceLastRead,
			RxPackets: u.PktsRx,
		})
	}

	return probeAlive
}

func loadPct(clients, clientsMax int64) float64 {
	cap := clientsMax
	if cap > clientCap {
		cap = clientCap
	}
	if cap <= 0 {
		return 100.0
	}
	return float64(clients) / float64(cap) * 100.0
}
