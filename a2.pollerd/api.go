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

package main

import (
	"net/http"
	"sort"

	"github.com/labstack/echo"
	"go.uber.org/zap"

	"github.com/hessu/aprs2net-backend/a2_common/store"
)

type apiHandler struct {
	log *zap.SugaredLogger
	str *store.Store
}

// getFull implements GET /api/full: the complete server set with the
// latest poll result for each, consumed by the DNS driver.
func (a *apiHandler) getFull(c echo.Context) error {
	ctx := c.Request().Context()

	servers, err := a.str.GetServers(ctx)
	if err != nil {
		a.log.Errorf("api: cannot fetch servers: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError)
	}

	ids := make([]string, 0, len(servers))
	for id := range servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	full := store.FullStatus{
		Result:  "full",
		Servers: []store.ServerEntry{},
	}
	for _, id := range ids {
		status, err := a.str.GetServerStatus(ctx, id)
		if err != nil {
			a.log.Errorf("api: cannot fetch status of %s: %v", id, err)
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		if status == nil {
			// Not polled yet.
			continue
		}
		full.Servers = append(full.Servers, store.ServerEntry{
			Config: servers[id],
			Status: status,
		})
	}

	return c.JSON(http.StatusOK, &full)
}

// apiLoop serves the poller HTTP API.
func apiLoop(log *zap.SugaredLogger, str *store.Store, addr string) {
	a := &apiHandler{log: log, str: str}

	e := echo.New()
	e.HideBanner = true
	e.GET("/api/full", a.getFull)

	log.Infof("api: listening on %s", addr)
	if err := e.Start(addr); err != nil {
		log.Fatalf("api: server failed: %v", err)
	}
}
