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

// Package dnspub publishes A/AAAA/CNAME record sets to the configured DNS
// back-ends, suppressing updates which would not change anything.
package dnspub

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Backend pushes one record set for one FQDN to a DNS service.
type Backend interface {
	Push(ctx context.Context, logid, zone, fqdn string, v4Addrs, v6Addrs []string, cname string) error
}

// Publisher fans record sets out to the configured back-ends.
type Publisher struct {
	log      *zap.SugaredLogger
	zones    []string
	backends []Backend

	// Cache of the last successfully published state per FQDN, to
	// prevent updates which do not change anything.
	cache map[string]string
}

// New returns a Publisher for the given managed zones.
func New(log *zap.SugaredLogger, zones []string, backends ...Backend) *Publisher {
	return &Publisher{
		log:      log,
		zones:    zones,
		backends: backends,
		cache:    make(map[string]string),
	}
}

// PickZone figures out which zone to update, based on FQDN.  The longest
// matching dotted suffix wins, so a name in a child zone is never pushed
// to its parent.
func (p *Publisher) PickZone(fqdn string) string {
	best := ""
	for _, z := range p.zones {
		if strings.HasSuffix(fqdn, "."+z) && len(z) > len(best) {
			best = z
		}
	}
	return best
}

// cacheKey canonicalizes a record set: sorted v4 addresses, a space, and
// sorted v6 addresses -- or the CNAME target.  Score reshuffling which
// doesn't change the chosen set maps to the same key.
func cacheKey(v4Addrs, v6Addrs []string, cname string) string {
	if cname != "" {
		return "CNAME " + cname
	}
	v4 := append([]string(nil), v4Addrs...)
	v6 := append([]string(nil), v6Addrs...)
	sort.Strings(v4)
	sort.Strings(v6)
	return strings.Join(v4, " ") + " " + strings.Join(v6, " ")
}

// Push publishes a record set for fqdn, unless it matches what was last
// published successfully.  cname is exclusive with the address lists.
func (p *Publisher) Push(ctx context.Context, logid, fqdn string, v4Addrs, v6Addrs []string, cname string) {
	if len(p.backends) == 0 {
		return
	}

	if cname != "" {
		v4Addrs = nil
		v6Addrs = nil
	}

	key := cacheKey(v4Addrs, v6Addrs, cname)
	if p.cache[fqdn] == key {
		return
	}

	zone := p.PickZone(fqdn)
	if zone == "" {
		p.log.Infof("DNS push [%s]: %s is not in a managed zone, not updating", logid, fqdn)
		return
	}

	p.log.Infof("DNS pushing [%s]: %s: %s", logid, fqdn, key)

	ok := true
	for _, be := range p.backends {
		if err := be.Push(ctx, logid, zone, fqdn, v4Addrs, v6Addrs, cname); err != nil {
			p.log.Errorf("DNS push [%s]: %v", logid, err)
			ok = false
		}
	}

	// Only remember the state when every back-end accepted it; a failed
	// back-end gets the same update again on the next driver cycle.
	if ok {
		p.cache[fqdn] = key
	}
}
