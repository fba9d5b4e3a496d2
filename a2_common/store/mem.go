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

package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

// MemBackend is an in-memory Backend used by the tests.
type MemBackend struct {
	sync.Mutex
	hashes  map[string]map[string]string
	scalars map[string]string
	zsets   map[string]map[string]float64

	// Published records every Publish call for test inspection.
	Published []PublishedMsg
}

// PublishedMsg is one recorded pub/sub message.
type PublishedMsg struct {
	Channel string
	Msg     string
}

// NewMemBackend returns an empty in-memory store.
func NewMemBackend() *MemBackend {
	return &MemBackend{
		hashes:  make(map[string]map[string]string),
		scalars: make(map[string]string),
		zsets:   make(map[string]map[string]float64),
	}
}

func (m *MemBackend) hash(key string) map[string]string {
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	return h
}

func (m *MemBackend) zset(key string) map[string]float64 {
	z, ok := m.zsets[key]
	if !ok {
		z = make(map[string]float64)
		m.zsets[key] = z
	}
	return z
}

// HashGet returns a hash field, with a presence flag.
func (m *MemBackend) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	m.Lock()
	defer m.Unlock()
	v, ok := m.hash(key)[field]
	return v, ok, nil
}

// HashSet sets a hash field.
func (m *MemBackend) HashSet(ctx context.Context, key, field, value string) error {
	m.Lock()
	defer m.Unlock()
	m.hash(key)[field] = value
	return nil
}

// HashDel removes hash fields.
func (m *MemBackend) HashDel(ctx context.Context, key string, fields ...string) error {
	m.Lock()
	defer m.Unlock()
	h := m.hash(key)
	for _, f := range fields {
		delete(h, f)
	}
	return nil
}

// HashKeys lists the fields of a hash.
func (m *MemBackend) HashKeys(ctx context.Context, key string) ([]string, error) {
	m.Lock()
	defer m.Unlock()
	var out []string
	for f := range m.hash(key) {
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}

// HashGetAll returns all fields and values of a hash.
func (m *MemBackend) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.Lock()
	defer m.Unlock()
	out := make(map[string]string)
	for f, v := range m.hash(key) {
		out[f] = v
	}
	return out, nil
}

// HashGetMany returns the values for the given fields; missing fields come
// back as nil entries.
func (m *MemBackend) HashGetMany(ctx context.Context, key string, fields []string) ([]*string, error) {
	m.Lock()
	defer m.Unlock()
	h := m.hash(key)
	out := make([]*string, len(fields))
	for i, f := range fields {
		if v, ok := h[f]; ok {
			v := v
			out[i] = &v
		}
	}
	return out, nil
}

// HashIncrBy increments an integer hash field.
func (m *MemBackend) HashIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	m.Lock()
	defer m.Unlock()
	h := m.hash(key)
	cur, _ := strconv.ParseInt(h[field], 10, 64)
	cur += incr
	h[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

// ScalarGet returns a plain key, with a presence flag.
func (m *MemBackend) ScalarGet(ctx context.Context, key string) (string, bool, error) {
	m.Lock()
	defer m.Unlock()
	v, ok := m.scalars[key]
	return v, ok, nil
}

// ScalarSet sets a plain key.
func (m *MemBackend) ScalarSet(ctx context.Context, key, value string) error {
	m.Lock()
	defer m.Unlock()
	m.scalars[key] = value
	return nil
}

// SortedSetAddScore adds or updates a member's score.
func (m *MemBackend) SortedSetAddScore(ctx context.Context, key, member string, score float64) error {
	m.Lock()
	defer m.Unlock()
	m.zset(key)[member] = score
	return nil
}

// SortedSetScoreOf returns a member's score, with a presence flag.
func (m *MemBackend) SortedSetScoreOf(ctx context.Context, key, member string) (float64, bool, error) {
	m.Lock()
	defer m.Unlock()
	v, ok := m.zset(key)[member]
	return v, ok, nil
}

func (m *MemBackend) zrange(key string, min, max float64, count int) []string {
	type zent struct {
		member string
		score  float64
	}
	var ents []zent
	for mem, sc := range m.zset(key) {
		if sc >= min && sc <= max {
			ents = append(ents, zent{mem, sc})
		}
	}
	sort.Slice(ents, func(i, j int) bool {
		if ents[i].score != ents[j].score {
			return ents[i].score < ents[j].score
		}
		return ents[i].member < ents[j].member
	})
	var out []string
	for _, e := range ents {
		if count > 0 && len(out) >= count {
			break
		}
		out = append(out, e.member)
	}
	return out
}

// SortedSetRange returns all members in score order.
func (m *MemBackend) SortedSetRange(ctx context.Context, key string) ([]string, error) {
	m.Lock()
	defer m.Unlock()
	return m.zrange(key, -1e308, 1e308, 0), nil
}

// SortedSetRangeByScore returns up to count members with min <= score <= max.
func (m *MemBackend) SortedSetRangeByScore(ctx context.Context, key string, min, max float64, count int) ([]string, error) {
	m.Lock()
	defer m.Unlock()
	return m.zrange(key, min, max, count), nil
}

// SortedSetRemove removes members from a sorted set.
func (m *MemBackend) SortedSetRemove(ctx context.Context, key string, members ...string) error {
	m.Lock()
	defer m.Unlock()
	z := m.zset(key)
	for _, mem := range members {
		delete(z, mem)
	}
	return nil
}

// Publish records a pub/sub message.
func (m *MemBackend) Publish(ctx context.Context, channel, msg string) error {
	m.Lock()
	defer m.Unlock()
	m.Published = append(m.Published, PublishedMsg{Channel: channel, Msg: msg})
	return nil
}
