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
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Store is the typed layer over a Backend which the poller, the DNS driver
// and the config manager use.
type Store struct {
	be Backend
}

// New wraps a Backend.
func New(be Backend) *Store {
	return &Store{be: be}
}

func (s *Store) hashGetJSON(ctx context.Context, key, field string, out interface{}) (bool, error) {
	d, ok, err := s.be.HashGet(ctx, key, field)
	if err != nil || !ok {
		return false, err
	}
	if err = json.Unmarshal([]byte(d), out); err != nil {
		return false, errors.Wrapf(err, "corrupt %s record for %s", key, field)
	}
	return true, nil
}

func (s *Store) hashSetJSON(ctx context.Context, key, field string, v interface{}) error {
	d, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "cannot marshal %s record for %s", key, field)
	}
	return s.be.HashSet(ctx, key, field, string(d))
}

// StoreServer stores a single server configuration.
func (s *Store) StoreServer(ctx context.Context, srv *Server) error {
	return s.hashSetJSON(ctx, kServer, srv.ID, srv)
}

// GetServer returns a single server configuration, or nil if not known.
func (s *Store) GetServer(ctx context.Context, id string) (*Server, error) {
	var srv Server
	ok, err := s.hashGetJSON(ctx, kServer, id, &srv)
	if err != nil || !ok {
		return nil, err
	}
	return &srv, nil
}

// DelServer removes a server configuration.
func (s *Store) DelServer(ctx context.Context, id string) error {
	return s.be.HashDel(ctx, kServer, id)
}

// GetServers returns all registered servers, keyed by ID.
func (s *Store) GetServers(ctx context.Context) (map[string]*Server, error) {
	all, err := s.be.HashGetAll(ctx, kServer)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Server, len(all))
	for id, d := range all {
		var srv Server
		if err := json.Unmarshal([]byte(d), &srv); err != nil {
			return nil, errors.Wrapf(err, "corrupt server record for %s", id)
		}
		out[id] = &srv
	}
	return out, nil
}

// SetServerStatus stores a poll result.
func (s *Store) SetServerStatus(ctx context.Context, id string, st *Status) error {
	return s.hashSetJSON(ctx, kServerStatus, id, st)
}

// GetServerStatus returns the stored poll result for a server, or nil.
func (s *Store) GetServerStatus(ctx context.Context, id string) (*Status, error) {
	var st Status
	ok, err := s.hashGetJSON(ctx, kServerStatus, id, &st)
	if err != nil || !ok {
		return nil, err
	}
	return &st, nil
}

// SetMergedStatus stores the DNS driver's merged status for a server.
// It shares the serverstat hash with the per-poller status records; the
// poller and the driver run against separate store databases.
func (s *Store) SetMergedStatus(ctx context.Context, id string, st *MergedStatus) error {
	return s.hashSetJSON(ctx, kServerStatus, id, st)
}

// GetMergedStatus returns the merged status for a server, or nil.
func (s *Store) GetMergedStatus(ctx context.Context, id string) (*MergedStatus, error) {
	var st MergedStatus
	ok, err := s.hashGetJSON(ctx, kServerStatus, id, &st)
	if err != nil || !ok {
		return nil, err
	}
	return &st, nil
}

// DelServerStatus removes a server's status record.
func (s *Store) DelServerStatus(ctx context.Context, id string) error {
	return s.be.HashDel(ctx, kServerStatus, id)
}

// StoreServerLog stores the buffered log of a server's latest poll.
func (s *Store) StoreServerLog(ctx context.Context, id string, e *LogEntry) error {
	return s.hashSetJSON(ctx, kServerLog, id, e)
}

// StoreRotate stores a single rotate configuration.
func (s *Store) StoreRotate(ctx context.Context, r *Rotate) error {
	return s.hashSetJSON(ctx, kRotate, r.ID, r)
}

// DelRotate removes a rotate configuration.
func (s *Store) DelRotate(ctx context.Context, id string) error {
	return s.be.HashDel(ctx, kRotate, id)
}

// GetRotates returns all rotates, keyed by ID.
func (s *Store) GetRotates(ctx context.Context) (map[string]*Rotate, error) {
	all, err := s.be.HashGetAll(ctx, kRotate)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Rotate, len(all))
	for id, d := range all {
		var r Rotate
		if err := json.Unmarshal([]byte(d), &r); err != nil {
			return nil, errors.Wrapf(err, "corrupt rotate record for %s", id)
		}
		out[id] = &r
	}
	return out, nil
}

// SetPollQ sets the next poll time for a server.
func (s *Store) SetPollQ(ctx context.Context, id string, pollt int64) error {
	return s.be.SortedSetAddScore(ctx, kPollQueue, id, float64(pollt))
}

// GetPollQ returns a server's next poll time, with a presence flag.
func (s *Store) GetPollQ(ctx context.Context, id string) (int64, bool, error) {
	v, ok, err := s.be.SortedSetScoreOf(ctx, kPollQueue, id)
	return int64(v), ok, err
}

// DelPollQ removes a server from the polling schedule.
func (s *Store) DelPollQ(ctx context.Context, id string) error {
	return s.be.SortedSetRemove(ctx, kPollQueue, id)
}

// GetPollList returns the full polling schedule in next-poll order.
func (s *Store) GetPollList(ctx context.Context) ([]string, error) {
	return s.be.SortedSetRange(ctx, kPollQueue)
}

// GetPollSet returns up to max servers whose next poll time has passed.
func (s *Store) GetPollSet(ctx context.Context, now time.Time, max int) ([]string, error) {
	return s.be.SortedSetRangeByScore(ctx, kPollQueue, 0, float64(now.Unix()), max)
}

// SetAddressMap stores the address-literal to server-ID map.
func (s *Store) SetAddressMap(ctx context.Context, m map[string]string) error {
	d, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "cannot marshal address map")
	}
	return s.be.ScalarSet(ctx, kAddrMap, string(d))
}

// GetAddressMap returns the address-literal to server-ID map.
func (s *Store) GetAddressMap(ctx context.Context) (map[string]string, error) {
	d, ok, err := s.be.ScalarGet(ctx, kAddrMap)
	if err != nil || !ok {
		return map[string]string{}, err
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(d), &m); err != nil {
		return nil, errors.Wrap(err, "corrupt address map")
	}
	return m, nil
}

// StoreRotateStatus stores the set of servers participating in rotates.
func (s *Store) StoreRotateStatus(ctx context.Context, participating map[string]map[string]int) error {
	d, err := json.Marshal(participating)
	if err != nil {
		return errors.Wrap(err, "cannot marshal rotate status")
	}
	return s.be.ScalarSet(ctx, kRotateStatus, string(d))
}

// StoreRotateStats stores aggregate statistics for one rotate.
func (s *Store) StoreRotateStats(ctx context.Context, id string, st *RotateStats) error {
	return s.hashSetJSON(ctx, kRotateStats, id, st)
}

// SetWebConfig stores the site description blob for the web UI.
func (s *Store) SetWebConfig(ctx context.Context, wc *WebConfig) error {
	d, err := json.Marshal(wc)
	if err != nil {
		return errors.Wrap(err, "cannot marshal web config")
	}
	return s.be.ScalarSet(ctx, kWebConfig, string(d))
}

// SendServerStatusMessage notifies the web UI of a fresh poll result.
func (s *Store) SendServerStatusMessage(ctx context.Context, msg interface{}) error {
	d, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "cannot marshal status message")
	}
	return s.be.Publish(ctx, chStatus, string(d))
}

// SendDnsStatusMessage notifies the web UI of a completed DNS driver cycle.
func (s *Store) SendDnsStatusMessage(ctx context.Context, msg interface{}) error {
	d, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "cannot marshal DNS status message")
	}
	return s.be.Publish(ctx, chStatusDNS, string(d))
}
