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

/*
 * a2-nagios generates a Nagios host configuration from the aprs2.net
 * portal's server catalog, so every registered server gets monitored and
 * sysops who opted in get alerted.
 */

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hessu/aprs2net-backend/a2_common/config"
	"github.com/hessu/aprs2net-backend/a2_common/daemon"
)

var (
	configFile = flag.String("config", "poller.conf", "configuration file path")
	once       = flag.Bool("once", false, "write the configuration once and exit")

	log  *zap.Logger
	slog *zap.SugaredLogger
)

var defaultConf = map[string]string{
	"poll_interval":      "120",
	"portal_servers_url": "https://portal-url.example.com/blah",

	"client_key":  "",
	"client_cert": "",
	"client_user": "",
	"client_pass": "",

	"write_nagios_config":       "/etc/nagios3/conf.d/t2-servers.cfg",
	"ignored_serverid_prefixes": "T2POLL-",
}

// portalServer is the server entry shape of the portal's flat server list.
type portalServer struct {
	IPv4        string `json:"ipv4"`
	Deleted     bool   `json:"deleted"`
	Email       string `json:"email"`
	EmailAlerts bool   `json:"email_alerts"`
}

type nagiosDriver struct {
	log *zap.SugaredLogger
	cm  *config.Manager

	serversURL      string
	writePath       string
	ignoredPrefixes []string
	loginURL        string
	user, pass      string

	etag string
}

// poll fetches the current server list and rewrites the Nagios config if
// it has changed.
func (n *nagiosDriver) poll(ctx context.Context) error {
	if n.user != "" && n.pass != "" {
		if err := n.cm.Login(ctx, n.loginURL, n.user, n.pass); err != nil {
			return err
		}
	}

	n.log.Infof("Fetching current server list from portal...")

	d, newEtag, err := n.cm.Fetch(ctx, n.serversURL, n.etag)
	if err != nil {
		return err
	}
	if d == nil {
		return nil
	}
	n.etag = newEtag

	var servers map[string]portalServer
	if err := json.Unmarshal(d, &servers); err != nil {
		return err
	}

	return n.writeOut(n.processConfig(servers))
}

// processConfig renders the Nagios host, contact and hostgroup
// definitions for the server list.
func (n *nagiosDriver) processConfig(servers map[string]portalServer) []string {
	var hostDefs []string
	var ids []string

	sortedIds := make([]string, 0, len(servers))
	for id := range servers {
		sortedIds = append(sortedIds, id)
	}
	sort.Strings(sortedIds)

	for _, id := range sortedIds {
		ignored := false
		for _, pfx := range n.ignoredPrefixes {
			if pfx != "" && strings.HasPrefix(id, pfx) {
				ignored = true
			}
		}
		if ignored {
			continue
		}

		s := servers[id]
		if s.IPv4 == "" || s.Deleted {
			continue
		}

		contactGroups := []string{"t2-obsessed"}

		if s.EmailAlerts && s.Email != "" {
			hostDefs = append(hostDefs, fmt.Sprintf(
				"define contact {\n"+
					"    contact_name sysop_%s\n"+
					"    alias Sysop of %s\n"+
					"    service_notification_period 24x7\n"+
					"    host_notification_period        24x7\n"+
					"    service_notification_options    w,u,c,r\n"+
					"    host_notification_options       d,r\n"+
					"    service_notification_commands   notify-service-by-email\n"+
					"    host_notification_commands      notify-host-by-email\n"+
					"    email %s\n"+
					"}\n", id, id, s.Email))
			hostDefs = append(hostDefs, fmt.Sprintf(
				"define contactgroup {\n"+
					"    contactgroup_name sysops_%s\n"+
					"    alias Sysops of %s\n"+
					"    members sysop_%s\n"+
					"}\n", id, id, id))
			contactGroups = append(contactGroups, "sysops_"+id)
		}

		hostDefs = append(hostDefs, fmt.Sprintf(
			"define host {\n"+
				"    use t2server-host\n"+
				"    host_name %s\n"+
				"    address %s\n"+
				"    contact_groups %s\n"+
				"}\n", id, s.IPv4, strings.Join(contactGroups, ",")))
		ids = append(ids, id)
	}

	hostDefs = append(hostDefs, fmt.Sprintf(
		"define hostgroup {\n"+
			"    hostgroup_name t2-is-servers\n"+
			"    alias T2 APRS-IS servers\n"+
			"    members %s\n"+
			"}\n", strings.Join(ids, ",")))

	return hostDefs
}

// writeOut writes the configuration atomically.
func (n *nagiosDriver) writeOut(hostDefs []string) error {
	n.log.Infof("Writing out a new configuration: %s", n.writePath)

	tmp := n.writePath + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.Join(hostDefs, "\n")), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, n.writePath)
}

func main() {
	flag.Parse()
	log, slog = daemon.ResetupLogs()
	defer log.Sync()

	cfg, err := daemon.LoadConfig(*configFile, "nagios", defaultConf)
	if err != nil {
		slog.Fatalf("cannot read configuration: %v", err)
	}

	var creds *config.ClientCredentials
	if cfg.String("client_cert") != "" {
		creds = &config.ClientCredentials{
			CertFile: cfg.String("client_cert"),
			KeyFile:  cfg.String("client_key"),
		}
	}

	cm, err := config.NewManager(slog.Named("config"), nil,
		cfg.String("portal_servers_url"), creds)
	if err != nil {
		slog.Fatalf("cannot set up portal client: %v", err)
	}

	n := &nagiosDriver{
		log:             slog.Named("nagios"),
		cm:              cm,
		serversURL:      cfg.String("portal_servers_url"),
		writePath:       cfg.String("write_nagios_config"),
		ignoredPrefixes: strings.Split(cfg.String("ignored_serverid_prefixes"), ","),
		loginURL:        cfg.String("portal_login_url"),
		user:            cfg.String("client_user"),
		pass:            cfg.String("client_pass"),
	}

	ctx := context.Background()
	interval := time.Duration(cfg.Int("poll_interval")) * time.Second

	for {
		if err := n.poll(ctx); err != nil {
			slog.Errorf("nagios config update failed: %v", err)
		}
		if *once {
			return
		}
		time.Sleep(interval)
	}
}
