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

// Package config maintains the server and rotate catalog: it fetches the
// portal's rotate list periodically, reconciles the store against it,
// rebuilds the address map and keeps the polling schedule in sync.
package config

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hessu/aprs2net-backend/a2_common/store"
)

const (
	// RefreshInterval is how often the portal is asked for the catalog.
	RefreshInterval = 120 * time.Second

	fetchTimeout = 30 * time.Second
	userAgent    = "aprs2net-config/2.0"

	// New servers get an initial poll time spread over this many
	// seconds, so a big catalog addition doesn't produce a thundering
	// herd of probes.
	maxInitialPollDelay = 300

	// Poller instances register themselves in the portal too; they are
	// not real servers and are never polled or published.
	ignoredRotatePrefix = "t2poll"
	ignoredServerPrefix = "T2POLL-"
)

// portalServer is a server entry as the portal serves it.
type portalServer struct {
	Host         string `json:"host"`
	Domain       string `json:"domain"`
	IPv4         string `json:"ipv4"`
	IPv6         string `json:"ipv6"`
	Deleted      bool   `json:"deleted"`
	OutOfService bool   `json:"out_of_service"`
	Email        string `json:"email"`
	EmailAlerts  bool   `json:"email_alerts"`
}

// portalRotate is a rotate entry as the portal serves it: the member
// servers with their full configuration, plus rotate metadata we ignore.
type portalRotate struct {
	Servers map[string]portalServer `json:"servers"`
}

// Manager is the background catalog maintainer.
type Manager struct {
	log        *zap.SugaredLogger
	str        *store.Store
	rotatesURL string

	client *http.Client
	etag   string
}

// ClientCredentials carries an optional TLS client certificate for the
// portal.
type ClientCredentials struct {
	CertFile string
	KeyFile  string
}

// NewManager prepares a config manager.  creds may be nil.
func NewManager(log *zap.SugaredLogger, str *store.Store, rotatesURL string, creds *ClientCredentials) (*Manager, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{}
	if creds != nil && creds.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(creds.CertFile, creds.KeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "cannot load portal client certificate")
		}
		transport.TLSClientConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
	}

	return &Manager{
		log:        log,
		str:        str,
		rotatesURL: rotatesURL,
		client: &http.Client{
			Timeout:   fetchTimeout,
			Jar:       jar,
			Transport: transport,
		},
	}, nil
}

// Run fetches and reconciles the catalog until the context is cancelled.
// Errors are logged and retried on the next round; the manager never
// terminates on its own.
func (m *Manager) Run(ctx context.Context) {
	t := time.NewTicker(RefreshInterval)
	defer t.Stop()

	for {
		if err := m.Refresh(ctx); err != nil {
			m.log.Errorf("config refresh failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Login performs a cookie-based portal session login, for portals which
// require one before serving the catalog.
func (m *Manager) Login(ctx context.Context, loginURL, user, pass string) error {
	form := url.Values{}
	form.Set("user", user)
	form.Set("pass", pass)

	req, err := http.NewRequestWithContext(ctx, "POST", loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "portal login failed")
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("portal login failed: status %d", resp.StatusCode)
	}
	return nil
}

// Fetch retrieves a portal URL with ETag caching.  A nil result with a nil
// error means the content has not changed since etag.
func (m *Manager) Fetch(ctx context.Context, fetchURL, etag string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fetchURL, nil)
	if err != nil {
		return nil, etag, err
	}
	req.Header.Set("User-Agent", userAgent)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, etag, errors.Wrapf(err, "cannot fetch %s", fetchURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		m.log.Debugf("portal: %s not modified", fetchURL)
		return nil, etag, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, etag, fmt.Errorf("portal returned status %d for %s", resp.StatusCode, fetchURL)
	}

	d, err := readAll(resp)
	if err != nil {
		return nil, etag, errors.Wrapf(err, "cannot read %s", fetchURL)
	}

	return d, resp.Header.Get("Etag"), nil
}

// Refresh fetches the rotate catalog and reconciles the store.
func (m *Manager) Refresh(ctx context.Context) error {
	d, newEtag, err := m.Fetch(ctx, m.rotatesURL, m.etag)
	if err != nil {
		return err
	}
	if d == nil {
		// 304: nothing changed, nothing to do.
		return nil
	}

	var catalog map[string]portalRotate
	if err := json.Unmarshal(d, &catalog); err != nil {
		return errors.Wrap(err, "cannot parse portal rotates JSON")
	}

	if err := m.reconcile(ctx, catalog); err != nil {
		return err
	}

	// Only remember the ETag once the catalog has been fully applied,
	// so a transient store failure gets retried with fresh content.
	m.etag = newEtag
	return nil
}

// reconcile applies a parsed portal catalog to the store: rotates and
// servers are stored, new servers are scheduled, vanished ones evicted,
// and the address map is rebuilt.
func (m *Manager) reconcile(ctx context.Context, catalog map[string]portalRotate) error {
	servers := make(map[string]*store.Server)

	for rotID, rot := range catalog {
		if strings.HasPrefix(rotID, ignoredRotatePrefix) {
			continue
		}

		members := make([]string, 0, len(rot.Servers))
		for srvID, ps := range rot.Servers {
			if strings.HasPrefix(srvID, ignoredServerPrefix) {
				continue
			}
			members = append(members, srvID)

			srv, ok := servers[srvID]
			if !ok {
				srv = &store.Server{
					ID:           srvID,
					Host:         ps.Host,
					Domain:       ps.Domain,
					IPv4:         ps.IPv4,
					IPv6:         canonV6(ps.IPv6),
					Deleted:      ps.Deleted,
					OutOfService: ps.OutOfService,
					Email:        ps.Email,
					EmailAlerts:  ps.EmailAlerts,
				}
				servers[srvID] = srv
			}
			srv.Member = append(srv.Member, rotID)
		}
		sort.Strings(members)

		if err := m.str.StoreRotate(ctx, &store.Rotate{ID: rotID, Members: members}); err != nil {
			return err
		}
	}

	addrMap := make(map[string]string)

	for id, srv := range servers {
		if srv.IPv4 == "" {
			// A server we cannot poll is not a server.
			m.log.Infof("config: %s has no ipv4 address, dropping", id)
			if err := m.evict(ctx, id); err != nil {
				return err
			}
			delete(servers, id)
			continue
		}

		sort.Strings(srv.Member)
		if err := m.str.StoreServer(ctx, srv); err != nil {
			return err
		}

		addrMap[srv.IPv4] = id
		if srv.IPv6 != "" {
			addrMap[srv.IPv6] = id
		}

		_, scheduled, err := m.str.GetPollQ(ctx, id)
		if err != nil {
			return err
		}
		if !scheduled {
			delay := rand.Intn(maxInitialPollDelay)
			m.log.Infof("config: new server %s, first poll in %d s", id, delay)
			if err := m.str.SetPollQ(ctx, id, time.Now().Unix()+int64(delay)); err != nil {
				return err
			}
		}
	}

	// Evict servers which have disappeared from the portal.
	known, err := m.str.GetServers(ctx)
	if err != nil {
		return err
	}
	for id := range known {
		if _, ok := servers[id]; !ok {
			m.log.Infof("config: server %s removed from portal, evicting", id)
			if err := m.evict(ctx, id); err != nil {
				return err
			}
		}
	}

	// Remove rotates which have disappeared.
	rotates, err := m.str.GetRotates(ctx)
	if err != nil {
		return err
	}
	for id := range rotates {
		if _, ok := catalog[id]; !ok {
			if err := m.str.DelRotate(ctx, id); err != nil {
				return err
			}
		}
	}

	if err := m.str.SetAddressMap(ctx, addrMap); err != nil {
		return err
	}

	m.log.Infof("config: %d servers, %d rotates", len(servers), len(catalog))
	return nil
}

func (m *Manager) evict(ctx context.Context, id string) error {
	if err := m.str.DelPollQ(ctx, id); err != nil {
		return err
	}
	return m.str.DelServer(ctx, id)
}

func readAll(resp *http.Response) ([]byte, error) {
	// The catalog is a few hundred kB at most.
	return io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
}

// canonV6 compresses and lowercases an IPv6 literal so that address map
// lookups are exact-match.
func canonV6(addr string) string {
	if addr == "" {
		return ""
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return addr
	}
	return ip.String()
}
