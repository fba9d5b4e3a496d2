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

package store

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Server is a single APRS-IS server, as registered in the portal.
type Server struct {
	ID           string   `json:"id"`
	Host         string   `json:"host,omitempty"`
	Domain       string   `json:"domain,omitempty"`
	IPv4         string   `json:"ipv4,omitempty"`
	IPv6         string   `json:"ipv6,omitempty"`
	Member       []string `json:"member,omitempty"`
	Deleted      bool     `json:"deleted,omitempty"`
	OutOfService bool     `json:"out_of_service,omitempty"`
	Email        string   `json:"email,omitempty"`
	EmailAlerts  bool     `json:"email_alerts,omitempty"`
}

// MemberOf tells whether the server belongs to the given rotate.
func (s *Server) MemberOf(rotate string) bool {
	for _, m := range s.Member {
		if m == rotate {
			return true
		}
	}
	return false
}

// Rotate is a DNS round-robin name and its member servers.
type Rotate struct {
	ID      string   `json:"id"`
	Members []string `json:"members"`
}

// Uplink describes one upstream peering of a server, as reported on its
// status page.
type Uplink struct {
	ID        string  `json:"id"`
	AddrRem   string  `json:"addr_rem"`
	Up        int64   `json:"up"`
	RxLast    float64 `json:"rx_last"`
	RxPackets int64   `json:"rx_packets"`
}

// ScoreComponent is one named contribution to a server's total score.
// The wire format is a two-element array [value, humanReadable] for the
// benefit of the web UI.
type ScoreComponent struct {
	Value float64
	Human string
}

// MarshalJSON encodes the component as [value, human].
func (c ScoreComponent) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{c.Value, c.Human})
}

// UnmarshalJSON decodes the [value, human] array form.
func (c *ScoreComponent) UnmarshalJSON(d []byte) error {
	var arr [2]json.RawMessage
	if err := json.Unmarshal(d, &arr); err != nil {
		return errors.Wrap(err, "score component is not an array")
	}
	if err := json.Unmarshal(arr[0], &c.Value); err != nil {
		return err
	}
	return json.Unmarshal(arr[1], &c.Human)
}

// ErrorTuple is a (code, message) pair describing one polling failure.
// Serialized as a two-element array to match what the UI expects.
type ErrorTuple struct {
	Code    string
	Message string
}

// MarshalJSON encodes the tuple as [code, message].
func (e ErrorTuple) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{e.Code, e.Message})
}

// UnmarshalJSON decodes the [code, message] array form.
func (e *ErrorTuple) UnmarshalJSON(d []byte) error {
	var arr [2]string
	if err := json.Unmarshal(d, &arr); err != nil {
		return errors.Wrap(err, "error entry is not a [code, message] array")
	}
	e.Code = arr[0]
	e.Message = arr[1]
	return nil
}

// Props holds the properties extracted from a server's status page and the
// derived figures computed by the poller.
type Props struct {
	Type string `json:"type,omitempty"`
	ID   string `json:"id,omitempty"`
	Soft string `json:"soft,omitempty"`
	Vers string `json:"vers,omitempty"`
	OS   string `json:"os,omitempty"`

	Uptime        int64 `json:"uptime,omitempty"`
	Clients       int64 `json:"clients"`
	ClientsMax    int64 `json:"clients_max"`
	Connects      int64 `json:"connects"`
	TotalBytesIn  int64 `json:"total_bytes_in"`
	TotalBytesOut int64 `json:"total_bytes_out"`

	UserLoad  float64 `json:"user_load"`
	WorstLoad float64 `json:"worst_load"`

	RateBytesIn  float64 `json:"rate_bytes_in,omitempty"`
	RateBytesOut float64 `json:"rate_bytes_out,omitempty"`
	RateConnects float64 `json:"rate_connects,omitempty"`

	Uplinks []Uplink `json:"uplinks,omitempty"`

	SubmitHTTP4 *float64 `json:"submit-http-8080-ipv4,omitempty"`
	SubmitHTTP6 *float64 `json:"submit-http-8080-ipv6,omitempty"`

	Score     *float64                  `json:"score,omitempty"`
	ScoreBase map[string]ScoreComponent `json:"scorebase,omitempty"`
}

// IdentityOnly returns a copy holding just the identity subset which is
// preserved over a failed poll so that the UI can still render the server.
func (p *Props) IdentityOnly() *Props {
	return &Props{
		Type: p.Type,
		ID:   p.ID,
		Soft: p.Soft,
		Vers: p.Vers,
		OS:   p.OS,
	}
}

// Status is the result of one poll of one server, as stored by a poller.
type Status struct {
	Status     string       `json:"status"`
	LastTest   int64        `json:"last_test,omitempty"`
	LastChange int64        `json:"last_change,omitempty"`
	Props      *Props       `json:"props,omitempty"`
	Errors     []ErrorTuple `json:"errors"`
	Avail3     *float64     `json:"avail_3,omitempty"`
	Avail30    *float64     `json:"avail_30,omitempty"`
}

// MergedStatus is the DNS driver's fusion of per-poller Status records.
type MergedStatus struct {
	Status     string       `json:"status"`
	C          string       `json:"c"`
	COk        int          `json:"c_ok"`
	CRes       int          `json:"c_res"`
	LastTest   int64        `json:"last_test,omitempty"`
	LastChange int64        `json:"last_change,omitempty"`
	Props      *Props       `json:"props,omitempty"`
	Errors     []ErrorTuple `json:"errors"`
	Score      *float64     `json:"score,omitempty"`
	Avail3     *float64     `json:"avail_3,omitempty"`
	Avail30    *float64     `json:"avail_30,omitempty"`

	MergedScoreBase map[string]map[string]ScoreComponent `json:"merged_scorebase,omitempty"`
	MergedScoreKeys []string                             `json:"merged_score_keys,omitempty"`
}

// RotateStats is the per-rotate aggregate published for the UI.
type RotateStats struct {
	Clients      int64   `json:"clients"`
	ServersOk    int     `json:"servers_ok"`
	Servers      int     `json:"servers"`
	RateBytesIn  float64 `json:"rate_bytes_in"`
	RateBytesOut float64 `json:"rate_bytes_out"`
}

// LogEntry is the buffered log of one poll round.
type LogEntry struct {
	T   int64  `json:"t"`
	Log string `json:"log"`
}

// ServerEntry pairs a server's configuration with its latest poll result,
// as served by the poller's full status API.
type ServerEntry struct {
	Config *Server `json:"config"`
	Status *Status `json:"status"`
}

// FullStatus is the poller's full status snapshot, as consumed by the DNS
// driver.
type FullStatus struct {
	Result  string        `json:"result"`
	Servers []ServerEntry `json:"servers"`
}

// WebConfig is the blob the web UI reads to describe this site.
type WebConfig struct {
	SiteDescr string `json:"site_descr"`
	Master    int    `json:"master,omitempty"`
}
