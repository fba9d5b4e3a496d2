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

package dnspub

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	// The TSIG key name the nameserver knows us by.
	tsigKeyName = "aprs2net-dns."

	dnsTimeout = 10 * time.Second
)

// BindBackend pushes record sets to a nameserver with RFC 2136 dynamic
// updates, authenticated with TSIG.
type BindBackend struct {
	log    *zap.SugaredLogger
	master string
	ttl    uint32
	client *dns.Client
	secret map[string]string
}

// NewBindBackend prepares a dynamic-update back-end against the given
// master ("host:port"; plain host defaults to port 53).  key is the
// base64 TSIG shared secret.
func NewBindBackend(log *zap.SugaredLogger, master, key string, ttl int) *BindBackend {
	if _, _, err := net.SplitHostPort(master); err != nil {
		master = net.JoinHostPort(master, "53")
	}

	c := &dns.Client{
		Net:     "tcp",
		Timeout: dnsTimeout,
	}
	secret := map[string]string{tsigKeyName: key}
	c.TsigSecret = secret

	return &BindBackend{
		log:    log,
		master: master,
		ttl:    uint32(ttl),
		client: c,
		secret: secret,
	}
}

// buildUpdate constructs one dynamic update: delete everything at the
// name, then add the CNAME or the A/AAAA set.
func (b *BindBackend) buildUpdate(zone, fqdn string, v4Addrs, v6Addrs []string, cname string) (*dns.Msg, error) {
	// A trailing dot makes sure the server doesn't append the zone name.
	name := dns.Fqdn(fqdn)

	m := new(dns.Msg)
	m.SetUpdate(dns.Fqdn(zone))

	m.RemoveName([]dns.RR{&dns.ANY{
		Hdr: dns.RR_Header{Name: name},
	}})

	var add []dns.RR
	if cname != "" {
		add = append(add, &dns.CNAME{
			Hdr:    dns.RR_Header{Name: name, Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: b.ttl},
			Target: dns.Fqdn(cname),
		})
	} else {
		for _, a := range v4Addrs {
			ip := net.ParseIP(a)
			if ip == nil {
				return nil, fmt.Errorf("bad IPv4 address %q for %s", a, fqdn)
			}
			add = append(add, &dns.A{
				Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: b.ttl},
				A:   ip.To4(),
			})
		}
		for _, a := range v6Addrs {
			ip := net.ParseIP(a)
			if ip == nil {
				return nil, fmt.Errorf("bad IPv6 address %q for %s", a, fqdn)
			}
			add = append(add, &dns.AAAA{
				Hdr:  dns.RR_Header{Name: name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: b.ttl},
				AAAA: ip.To16(),
			})
		}
	}
	m.Insert(add)

	return m, nil
}

// Push signs and sends one dynamic update.
func (b *BindBackend) Push(ctx context.Context, logid, zone, fqdn string, v4Addrs, v6Addrs []string, cname string) error {
	m, err := b.buildUpdate(zone, fqdn, v4Addrs, v6Addrs, cname)
	if err != nil {
		return err
	}

	m.SetTsig(tsigKeyName, dns.HmacSHA256, 300, time.Now().Unix())

	resp, _, err := b.client.ExchangeContext(ctx, m, b.master)
	if err != nil {
		return errors.Wrapf(err, "update error, cannot reach DNS master %s", b.master)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return fmt.Errorf("update for %s refused: %s", fqdn, dns.RcodeToString[resp.Rcode])
	}

	b.log.Infof("DNS push [%s]: Sent %s: %s - response: %s", logid, zone, fqdn,
		dns.RcodeToString[resp.Rcode])
	return nil
}
