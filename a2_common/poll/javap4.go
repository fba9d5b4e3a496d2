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
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hessu/aprs2net-backend/a2_common/store"
)

// javap4Detail maps the parts of javAPRSSrvr 4's detail.xml we consume.
// The document has plenty more; unknown elements are ignored.
type javap4Detail struct {
	XMLName  xml.Name `xml:"javaprssrvr"`
	Software *struct {
		Name    string `xml:",chardata"`
		Version string `xml:"version,attr"`
	} `xml:"software"`
	DupeProcessor *struct {
		ServerCall *struct {
			Text string `xml:",chardata"`
		} `xml:"servercall"`
	} `xml:"dupeprocessor"`
	Java *struct {
		OS *struct {
			Text         string `xml:",chardata"`
			Architecture string `xml:"architecture,attr"`
		} `xml:"os"`
		Time *struct {
			Up *struct {
				Millis int64 `xml:"millis,attr"`
			} `xml:"up"`
			Current *struct {
				UTC float64 `xml:"utc,attr"`
			} `xml:"current"`
		} `xml:"time"`
	} `xml:"java"`
	ListenerPorts *struct {
		Connections *struct {
			CurrentIn int64 `xml:"currentin,attr"`
			Maximum   int64 `xml:"maximum,attr"`
		} `xml:"connections"`
	} `xml:"listenerports"`
	Clients *struct {
		Total      int64 `xml:"total,attr"`
		RcvdTotals *struct {
			Bytes int64 `xml:"bytes,attr"`
		} `xml:"rcvdtotals"`
		XmtdTotals *struct {
			Bytes int64 `xml:"bytes,attr"`
		} `xml:"xmtdtotals"`
		ClientRcv []javap4ClientRcv `xml:"clientrcv"`
	} `xml:"clients"`
}

type javap4ClientRcv struct {
	Class *struct {
		Name string `xml:"name,attr"`
	} `xml:"class"`
	Login *struct {
		CallSSID string `xml:"callssid"`
	} `xml:"login"`
	Upstream string `xml:"upstream"`
	RcvdFrom *struct {
		Packets int64 `xml:"packets,attr"`
	} `xml:"rcvdfrom"`
	RemoteServer *struct {
		Text string `xml:",chardata"`
		Port string `xml:"port,attr"`
	} `xml:"remoteserver"`
	Time *struct {
		Connect *struct {
			UTC float64 `xml:"utc,attr"`
		} `xml:"connect"`
		LastLineIn *struct {
			UTC float64 `xml:"utc,attr"`
		} `xml:"lastlinein"`
	} `xml:"time"`
}

// pollJavaprssrvr4 fetches javAPRSSrvr 4's detail.xml.
func (p *Probe) pollJavaprssrvr4(ctx context.Context) probeResult {
	resp, body, dur, err := p.httpGet(ctx, p.statusURL+"detail.xml")
	if err != nil {
		return p.error("web-http-fail",
			fmt.Sprintf("%s: HTTP status page 14501 /detail.xml: Connection error: %v", p.id, err))
	}

	if resp.StatusCode == http.StatusNotFound {
		p.log.Infof("%s: detail.xml 404 Not Found - not javAPRSSrvr 4", p.id)
		return probeNotThisType
	}

	p.log.Debugf("%s: HTTP GET /detail.xml returned: %d", p.id, resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		return probeBroken
	}

	p.Score.HTTPStatusT = &dur

	return p.parseJavaprssrvr4(body)
}

// parseJavaprssrvr4 extracts the server properties from detail.xml.
func (p *Probe) parseJavaprssrvr4(body []byte) probeResult {
	dec := xml.NewDecoder(bytes.NewReader(body))
	// The documents are served with varying charsets and the odd stray
	// control character; don't be strict about it.
	dec.Strict = false
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	var root javap4Detail
	if err := dec.Decode(&root); err != nil {
		return p.error("web-xml-fail", fmt.Sprintf("detail.xml XML parsing failed: %v", err))
	}

	if root.XMLName.Local != "javaprssrvr" {
		return p.error("web-parse-fail", "detail.xml: root tag is not javaprssrvr")
	}

	// App name/ver are in the software tag.
	if root.Software == nil {
		return p.error("web-parse-fail", "detail.xml: No 'software' tag found")
	}
	if root.Software.Name == "" || root.Software.Version == "" {
		return p.error("web-parse-fail", "detail.xml: Application name or version missing")
	}
	p.Props.Soft = root.Software.Name
	p.Props.Vers = root.Software.Version
	p.Props.Type = "javap4"

	// Server ID.
	if root.DupeProcessor == nil {
		return p.error("web-parse-fail", "detail.xml: No 'dupeprocessor' tag found")
	}
	if root.DupeProcessor.ServerCall == nil {
		return p.error("web-parse-fail", "detail.xml: No 'servercall' tag found")
	}
	p.Props.ID = root.DupeProcessor.ServerCall.Text

	// Operating system is in the java tag.
	if root.Java == nil {
		return p.error("web-parse-fail", "detail.xml: No 'java' tag found")
	}
	if root.Java.OS == nil {
		return p.error("web-parse-fail", "detail.xml: No 'os' tag found")
	}
	p.Props.OS = strings.TrimSpace(root.Java.OS.Text + " " + root.Java.OS.Architecture)

	if root.Java.Time == nil {
		return p.error("web-parse-fail", "detail.xml: No 'time' tag found")
	}
	if root.Java.Time.Up == nil {
		return p.error("web-parse-fail", "detail.xml: No 'up' uptime tag found")
	}
	p.Props.Uptime = root.Java.Time.Up.Millis / 1000

	// Listener ports.
	if root.ListenerPorts == nil {
		return p.error("web-parse-fail", "detail.xml: No 'listenerports' tag found")
	}
	if root.ListenerPorts.Connections == nil {
		return p.error("web-parse-fail", "detail.xml: No 'connections' tag found for 'listenerports'")
	}
	p.Props.Clients = root.ListenerPorts.Connections.CurrentIn
	p.Props.ClientsMax = root.ListenerPorts.Connections.Maximum

	// Clients traffic.
	if root.Clients == nil {
		return p.error("web-parse-fail", "detail.xml: No 'clients' tag")
	}
	if root.Clients.RcvdTotals == nil || root.Clients.XmtdTotals == nil {
		return p.error("web-parse-fail", "detail.xml: No traffic totals found in 'clients'")
	}
	p.Props.Connects = root.Clients.Total
	p.Props.TotalBytesIn = root.Clients.RcvdTotals.Bytes
	p.Props.TotalBytesOut = root.Clients.XmtdTotals.Bytes

	p.Props.UserLoad = loadPct(p.Props.Clients, p.Props.ClientsMax)
	p.Props.WorstLoad = p.Props.UserLoad

	// Uplinks: upstream client receivers.  Connection times are given
	// as wall-clock stamps on the server's own clock, which is
	// sometimes wildly off; only differences against its 'current'
	// time are meaningful.
	if len(root.Clients.ClientRcv) > 0 {
		if root.Java.Time.Current == nil {
			return p.error("web-parse-fail", "detail.xml: No 'current' time tag found")
		}
		currtime := root.Java.Time.Current.UTC

		for _, cl := range root.Clients.ClientRcv {
			if cl.Login == nil || cl.Time == nil || cl.Time.Connect == nil {
				continue
			}
			if cl.Upstream != "true" {
				continue
			}
			if cl.Class == nil || cl.Class.Name != "UpstreamClientRcv" {
				continue
			}

			uptime := (currtime - cl.Time.Connect.UTC) / 1000

			var lastlinein float64
			if cl.Time.LastLineIn != nil {
				lastlinein = (currtime - cl.Time.LastLineIn.UTC) / 1000
			}

			p.log.Debugf(" upstream client %s class %s", cl.Login.CallSSID, cl.Class.Name)

			var rem string
			if cl.RemoteServer != nil {
				rem = fmt.Sprintf("%s:%s", cl.RemoteServer.Text, cl.RemoteServer.Port)
			}
			var rxPackets int64
			if cl.RcvdFrom != nil {
				rxPackets = cl.RcvdFrom.Packets
			}

			p.Props.Uplinks = append(p.Props.Uplinks, store.Uplink{
				ID:        cl.Login.CallSSID,
				AddrRem:   rem,
				Up:        int64(uptime),
				RxLast:    lastlinein,
				RxPackets: rxPackets,
			})
		}
	}

	return probeAlive
}
