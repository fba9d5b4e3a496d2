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

// Package store holds the aprs2.net status database: server and rotate
// configuration, per-server poll results, the polling schedule, and
// availability bookkeeping.  The Backend interface covers the small set of
// key/value, hash, sorted-set and pub/sub capabilities the system needs;
// the production backend is Redis, and tests use the in-memory one.
package store

import (
	"context"

	"github.com/pkg/errors"
)

// ErrStoreUnavailable is returned when the backing store cannot be
// reached.  Callers treat it as transient and retry on their next loop.
var ErrStoreUnavailable = errors.New("status store unavailable")

// Backend is the capability set the status store requires.  All values are
// compact JSON strings.
type Backend interface {
	HashGet(ctx context.Context, key, field string) (string, bool, error)
	HashSet(ctx context.Context, key, field, value string) error
	HashDel(ctx context.Context, key string, fields ...string) error
	HashKeys(ctx context.Context, key string) ([]string, error)
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	HashGetMany(ctx context.Context, key string, fields []string) ([]*string, error)
	HashIncrBy(ctx context.Context, key, field string, incr int64) (int64, error)

	ScalarGet(ctx context.Context, key string) (string, bool, error)
	ScalarSet(ctx context.Context, key, value string) error

	SortedSetAddScore(ctx context.Context, key, member string, score float64) error
	SortedSetScoreOf(ctx context.Context, key, member string) (float64, bool, error)
	SortedSetRange(ctx context.Context, key string) ([]string, error)
	SortedSetRangeByScore(ctx context.Context, key string, min, max float64, count int) ([]string, error)
	SortedSetRemove(ctx context.Context, key string, members ...string) error

	Publish(ctx context.Context, channel, msg string) error
}

// Store keys.  Hashes are keyed by server or rotate ID in the field.
const (
	kServer       = "server"
	kServerStatus = "serverstat"
	kServerLog    = "serverlog"
	kRotate       = "rotate"
	kPollQueue    = "pollq"
	kAddrMap      = "addrmap"
	kAvail        = "avail"
	kRotateStatus = "rotatestatus"
	kRotateStats  = "rotatestats"
	kWebConfig    = "webconfig"

	chStatus    = "ch.status"
	chStatusDNS = "ch.statusDns"
)
