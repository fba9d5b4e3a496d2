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
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hessu/aprs2net-backend/a2_common/store"
)

func submitProbe(t *testing.T, flavor string, statusCode int, serverHeader string) *Probe {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if serverHeader != "" {
			w.Header().Set("Server", serverHeader)
		}
		w.WriteHeader(statusCode)
	}))
	t.Cleanup(ts.Close)

	host, portS, err := net.SplitHostPort(ts.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portS)
	require.NoError(t, err)

	p := testProbe(t, &store.Server{ID: "T2TEST", IPv4: host})
	p.submitPort = port
	p.Props.Type = flavor
	return p
}

func TestSubmitProbeOK(t *testing.T) {
	assert := require.New(t)

	p := submitProbe(t, "aprsc", http.StatusNotImplemented, "")
	p.pollHTTPSubmit(context.Background())

	assert.NotNil(p.Props.SubmitHTTP4)
	assert.Greater(*p.Props.SubmitHTTP4, 0.0)
	// The test server has no IPv6 address configured.
	assert.Nil(p.Props.SubmitHTTP6)
}

// Each flavor fingerprints with its own error code; anything else is not a
// submit port.
func TestSubmitProbeWrongCode(t *testing.T) {
	p := submitProbe(t, "javap3", http.StatusNotImplemented, "")
	p.pollHTTPSubmit(context.Background())

	require.Nil(t, p.Props.SubmitHTTP4)
}

// A Server: header means some web server is squatting on the port.
func TestSubmitProbeServerHeader(t *testing.T) {
	p := submitProbe(t, "aprsc", http.StatusNotImplemented, "nginx")
	p.pollHTTPSubmit(context.Background())

	require.Nil(t, p.Props.SubmitHTTP4)
}
