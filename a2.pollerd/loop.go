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
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hessu/aprs2net-backend/a2_common/poll"
	"github.com/hessu/aprs2net-backend/a2_common/store"
)

const (
	// Maximum number of concurrently running poll workers.
	maxWorkers = 16

	// How often the driver loop wakes up to consider new polls.
	loopTick = 1 * time.Second

	// How often the address map is reloaded from the store.
	addressMapRefreshInt = 300 * time.Second
)

type poller struct {
	zlog *zap.Logger
	log  *zap.SugaredLogger
	str  *store.Store

	pollInterval int
	tryOrder     []string

	stc   *poll.SoftwareTypeCache
	rates *poll.RatesCache

	addrMapMtx      sync.Mutex
	addrMap         map[string]string
	addrMapRefreshT time.Time

	// Worker accounting: every finished worker sends one token.
	workersNow int
	finished   chan struct{}
}

func newPoller(zlog *zap.Logger, log *zap.SugaredLogger, str *store.Store,
	pollInterval int, tryOrder []string) *poller {

	return &poller{
		zlog:         zlog,
		log:          log,
		str:          str,
		pollInterval: pollInterval,
		tryOrder:     tryOrder,
		stc:          poll.NewSoftwareTypeCache(),
		rates:        poll.NewRatesCache(),
		addrMap:      make(map[string]string),
		finished:     make(chan struct{}, maxWorkers),
	}
}

// loadAddressMap reloads the address map from the store when the refresh
// interval has passed.
func (p *poller) loadAddressMap(ctx context.Context) {
	now := time.Now()
	if now.Before(p.addrMapRefreshT) {
		return
	}

	p.log.Infof("Refreshing address map")
	m, err := p.str.GetAddressMap(ctx)
	if err != nil {
		p.log.Errorf("address map refresh failed: %v", err)
		return
	}

	p.addrMapMtx.Lock()
	p.addrMap = m
	p.addrMapMtx.Unlock()
	p.addrMapRefreshT = now.Add(addressMapRefreshInt)
}

func (p *poller) currentAddrMap() map[string]string {
	p.addrMapMtx.Lock()
	defer p.addrMapMtx.Unlock()
	return p.addrMap
}

// reapWorkers collects finished worker tokens.
func (p *poller) reapWorkers() {
	for {
		select {
		case <-p.finished:
			p.workersNow--
		default:
			return
		}
	}
}

// considerPolls starts polls for servers whose scheduled time has passed,
// while obeying the worker limit.
func (p *poller) considerPolls(ctx context.Context) {
	free := maxWorkers - p.workersNow
	if free <= 0 {
		return
	}

	toPoll, err := p.str.GetPollSet(ctx, time.Now(), free)
	if err != nil {
		p.log.Errorf("cannot fetch poll schedule: %v", err)
		return
	}
	if len(toPoll) > 0 {
		p.log.Infof("Scheduled polls: %v", toPoll)
	}

	for _, id := range toPoll {
		if p.workersNow >= maxWorkers {
			break
		}

		server, err := p.str.GetServer(ctx, id)
		if err != nil {
			p.log.Errorf("cannot fetch server %s: %v", id, err)
			continue
		}
		if server == nil || server.Deleted {
			p.log.Infof("Server %s has been removed, removing from queue.", id)
			if err := p.str.DelPollQ(ctx, id); err != nil {
				p.log.Errorf("cannot remove %s from queue: %v", id, err)
			}
			continue
		}

		next := time.Now().Unix() + int64(p.pollInterval)
		if err := p.str.SetPollQ(ctx, id, next); err != nil {
			p.log.Errorf("cannot reschedule %s: %v", id, err)
			continue
		}

		p.workersNow++
		go p.performPoll(ctx, server)
	}
}

// loop is the main polling loop: reap finished workers, dispatch new
// polls, refresh the address map, sleep a tick.
func (p *poller) loop(ctx context.Context) {
	t := time.NewTicker(loopTick)
	defer t.Stop()

	for {
		p.loadAddressMap(ctx)
		p.reapWorkers()

		if p.workersNow < maxWorkers {
			p.considerPolls(ctx)
		}

		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
