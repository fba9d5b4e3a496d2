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
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hessu/aprs2net-backend/a2_common/logbuf"
	"github.com/hessu/aprs2net-backend/a2_common/poll"
	"github.com/hessu/aprs2net-backend/a2_common/store"
)

// performPoll runs one poll round for one server and stores the outcome.
// It runs as a worker goroutine; the finished token is sent on the way
// out, whatever happens.
func (p *poller) performPoll(ctx context.Context, server *store.Server) {
	defer func() { p.finished <- struct{}{} }()

	start := time.Now()
	pollsStarted.Inc()
	defer func() {
		pollDuration.Observe(time.Since(start).Seconds())
		pollsFinished.Inc()
	}()

	// Use a separate log buffer for each poll, so the full round can be
	// stored in the database for easy lookup.
	plog, buf := logbuf.New(p.zlog)

	plog.Infof("Poll started for %s", server.ID)

	probe := poll.New(plog, server, p.str, p.stc, p.rates, p.currentAddrMap(), p.tryOrder)

	success := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				plog.Errorf("poll worker crashed: %v", r)
				probe.Errors = append(probe.Errors,
					store.ErrorTuple{Code: "crash", Message: fmt.Sprintf("Poller crashed: %v", r)})
				success = false
			}
		}()
		success = probe.Run(ctx)
	}()

	now := time.Now()

	prev, err := p.str.GetServerStatus(ctx, server.ID)
	if err != nil {
		plog.Errorf("%s: cannot fetch previous status: %v", server.ID, err)
	}

	state := p.buildState(ctx, plog, server, prev, probe, success, now)

	if err := p.str.SetServerStatus(ctx, server.ID, state); err != nil {
		plog.Errorf("%s: cannot store status: %v", server.ID, err)
	}
	if err := p.str.StoreServerLog(ctx, server.ID, &store.LogEntry{
		T:   now.Unix(),
		Log: buf.String(),
	}); err != nil {
		plog.Errorf("%s: cannot store poll log: %v", server.ID, err)
	}
	if err := p.str.SendServerStatusMessage(ctx, &store.ServerEntry{
		Config: server,
		Status: state,
	}); err != nil {
		plog.Errorf("%s: cannot publish status: %v", server.ID, err)
	}
}

// buildState constructs a fresh status record for a finished poll.  On a
// failure after a prior success a small identity subset of the old
// properties is preserved, so the UI can still name the server.
func (p *poller) buildState(ctx context.Context, plog *zap.SugaredLogger,
	server *store.Server, prev *store.Status, probe *poll.Probe,
	success bool, now time.Time) *store.Status {

	state := &store.Status{
		Errors:   probe.Errors,
		LastTest: now.Unix(),
		Props:    probe.Props,
	}
	if state.Errors == nil {
		state.Errors = []store.ErrorTuple{}
	}

	if success {
		state.Status = "ok"
		serversOkPolled.Inc()
	} else {
		state.Status = "fail"
		serversFailPolled.Inc()

		// The record is rebuilt from scratch on every poll, but the
		// identity subset survives a failure, so the UI can still
		// name the server.
		if prev != nil && prev.Props != nil {
			old := prev.Props
			if state.Props.Type == "" {
				state.Props.Type = old.Type
			}
			if state.Props.ID == "" {
				state.Props.ID = old.ID
			}
			if state.Props.Soft == "" {
				state.Props.Soft = old.Soft
			}
			if state.Props.Vers == "" {
				state.Props.Vers = old.Vers
			}
			if state.Props.OS == "" {
				state.Props.OS = old.OS
			}
		}
	}

	// last_change advances exactly on status transitions.
	var prevStatus string
	if prev != nil {
		prevStatus = prev.Status
		state.LastChange = prev.LastChange
		state.Avail3 = prev.Avail3
		state.Avail30 = prev.Avail30
	}
	if state.Status != prevStatus || state.LastChange == 0 {
		state.LastChange = now.Unix()
	}

	// Update availability statistics, unless the sysop has marked the
	// server down on purpose.
	if server.OutOfService {
		plog.Infof("%s: Server is marked to be out of service, not updating availability statistics", server.ID)
	} else if prev != nil && prev.LastTest > 0 {
		tdif := now.Unix() - prev.LastTest
		if tdif > 0 && tdif < int64(p.pollInterval)*3 {
			a3, a30, err := p.str.UpdateAvail(ctx, server.ID, now, tdif, state.Status == "ok")
			if err != nil {
				plog.Infof("%s: cannot update availability: %v", server.ID, err)
			} else {
				state.Avail3 = &a3
				state.Avail30 = &a30
			}
		}
	}

	return state
}
