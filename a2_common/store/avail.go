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
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// Buckets older than this many days are deleted.
	availKeepDays = 37

	daySecs = int64(86400)
)

func availField(id string, day int64, up bool) string {
	state := "down"
	if up {
		state = "up"
	}
	return fmt.Sprintf("%s.%d.%s", id, day, state)
}

func dayEpoch(t time.Time) int64 {
	return t.Unix() - t.Unix()%daySecs
}

// UpdateAvail adds tdif seconds of up or down time to the server's bucket
// for the current UTC day, prunes old buckets, and returns the rolling
// 3-day and 30-day availability percentages.
func (s *Store) UpdateAvail(ctx context.Context, id string, now time.Time, tdif int64, up bool) (float64, float64, error) {
	today := dayEpoch(now)

	if _, err := s.be.HashIncrBy(ctx, kAvail, availField(id, today, up), tdif); err != nil {
		return 0, 0, err
	}

	if err := s.pruneAvail(ctx, id, today); err != nil {
		return 0, 0, err
	}

	// Fetch the last 30 days of buckets in one go.
	fields := make([]string, 0, 60)
	for d := int64(0); d < 30; d++ {
		day := today - d*daySecs
		fields = append(fields, availField(id, day, true), availField(id, day, false))
	}
	vals, err := s.be.HashGetMany(ctx, kAvail, fields)
	if err != nil {
		return 0, 0, err
	}

	secs := make([]float64, len(fields))
	for i, v := range vals {
		if v == nil {
			continue
		}
		secs[i], _ = strconv.ParseFloat(*v, 64)
	}

	// The 3-day window counts today plus two full days, and a fraction
	// of day -3 which shrinks as today progresses.  This smooths out the
	// discontinuity the window would otherwise have at midnight UTC.
	frac := 1.0 - float64(now.Unix()-today)/float64(daySecs)
	up3 := secs[0] + secs[2] + secs[4] + secs[6]*frac
	down3 := secs[1] + secs[3] + secs[5] + secs[7]*frac

	var up30, down30 float64
	for i := 0; i < len(secs); i += 2 {
		up30 += secs[i]
		down30 += secs[i+1]
	}

	return availPct(up3, down3), availPct(up30, down30), nil
}

func availPct(up, down float64) float64 {
	if up+down <= 0 {
		return 100.0
	}
	return up / (up + down) * 100.0
}

// pruneAvail deletes this server's buckets older than availKeepDays.
func (s *Store) pruneAvail(ctx context.Context, id string, today int64) error {
	fields, err := s.be.HashKeys(ctx, kAvail)
	if err != nil {
		return err
	}

	limit := today - availKeepDays*daySecs
	var old []string
	prefix := id + "."
	for _, f := range fields {
		if !strings.HasPrefix(f, prefix) {
			continue
		}
		parts := strings.Split(f, ".")
		if len(parts) != 3 {
			continue
		}
		day, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}
		if day < limit {
			old = append(old, f)
		}
	}
	if len(old) == 0 {
		return nil
	}
	return s.be.HashDel(ctx, kAvail, old...)
}
