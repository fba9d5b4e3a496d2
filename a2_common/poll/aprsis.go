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
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// APRS-IS login test: connect, expect a greeting, log in unverified and
// check the login response line.
const (
	aprsisTimeout = 5 * time.Second
	aprsisMycall  = "APRS2N-ET"
)

var reLoginOK = regexp.MustCompile(`# logresp ([^ ]+) ([^, ]+), server ([A-Z0-9\-]+)`)

type aprsisProbe struct {
	log    *zap.SugaredLogger
	id     string
	host   string
	port   int
	logkey string
}

// aprsisPoll tests that an APRS-IS server is responsive on one address.
// On success the returned code is empty; otherwise it is the logkey-
// prefixed failure code.
func aprsisPoll(ctx context.Context, log *zap.SugaredLogger, host string, port int, serverid, logkey string) (string, string) {
	t := &aprsisProbe{
		log:    log,
		id:     serverid,
		host:   host,
		port:   port,
		logkey: logkey,
	}
	return t.poll(ctx)
}

func (t *aprsisProbe) error(code, msg string) (string, string) {
	code = fmt.Sprintf("%s-%s", t.logkey, code)
	t.log.Infof("%s: APRS-IS TCP FAIL: %s port %d: %s", t.id, t.host, t.port, msg)
	return code, msg
}

func (t *aprsisProbe) poll(ctx context.Context) (string, string) {
	t.log.Infof("%s: APRS-IS TCP test: %s port %d", t.id, t.host, t.port)

	d := net.Dialer{Timeout: aprsisTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(t.host, strconv.Itoa(t.port)))
	if err != nil {
		if isPermissionError(err) {
			return t.error("socket", fmt.Sprintf("APRS-IS port firewalled: %v", err))
		}
		return t.error("socket", fmt.Sprintf("APRS-IS socket error: %v", err))
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(aprsisTimeout))

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		// The server accepted the connection and closed it without a
		// version string; an access list hit looks exactly like this.
		return t.error("acl", "Server closed connection immediately without sending version string (ACL?)")
	}
	prompt := string(buf[:n])
	t.log.Debugf("%s: Login prompt: %q", t.id, prompt)
	if prompt == "" {
		return t.error("acl", "Server closed connection immediately without sending version string (ACL?)")
	}

	login := fmt.Sprintf("user %s pass -1 vers aprs2net-poll 2.0\r\n", aprsisMycall)
	if _, err := conn.Write([]byte(login)); err != nil {
		return t.error("socket", fmt.Sprintf("APRS-IS socket error: %v", err))
	}

	n, err = conn.Read(buf)
	if err != nil && n == 0 {
		return t.error("socket", fmt.Sprintf("APRS-IS socket error: %v", err))
	}
	loginResp := string(buf[:n])
	t.log.Debugf("%s: Login response: %q", t.id, loginResp)

	m := reLoginOK.FindStringSubmatch(loginResp)
	if m == nil {
		t.log.Infof("%s: Login response not recognized: %q", t.id, loginResp)
		return t.error("unrecognized", "APRS-IS login response line not recognized")
	}

	myBack := m[1]
	verifS := m[2]
	serveridBack := m[3]

	if myBack != aprsisMycall {
		return t.error("login",
			fmt.Sprintf("APRS-IS login response does not contain my callsign %s", aprsisMycall))
	}
	if verifS != "unverified" {
		return t.error("verification",
			fmt.Sprintf("APRS-IS login response is not 'unverified' for pass -1: got '%s'", verifS))
	}
	if serveridBack != t.id {
		return t.error("serverid",
			fmt.Sprintf("APRS-IS login response for '%s' has unexpected server ID: '%s'", t.id, serveridBack))
	}
	if strings.Contains(loginResp, `adjunct "filter default" filter`) {
		return t.error("defaultfilter",
			fmt.Sprintf("APRS-IS login response for '%s' says a default filter is configured", t.id))
	}

	t.log.Infof("%s: APRS-IS TCP OK: %s port %d", t.id, t.host, t.port)

	return "", "Works fine!"
}

func isPermissionError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EACCES
	}
	return errors.Is(err, os.ErrPermission)
}
