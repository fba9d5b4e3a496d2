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
 * a2-nagtest is the Nagios service check for a single APRS-IS server: it
 * reads the merged status from the status database and reports with the
 * usual Nagios exit codes.
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/hessu/aprs2net-backend/a2_common/score"
	"github.com/hessu/aprs2net-backend/a2_common/store"
)

const (
	retOK       = 0
	retWarning  = 1
	retCritical = 2
	retUnknown  = 3
)

var redisAddr = flag.String("redis", "localhost:6379", "redis address of the status database")

func check(id string) int {
	str := store.New(store.NewRedisBackend(*redisAddr, 1))

	s, err := str.GetMergedStatus(context.Background(), id)
	if err != nil {
		fmt.Printf("IS UNKNOWN - status database unavailable: %v\n", err)
		return retUnknown
	}

	var prefix string
	var suffix []string
	ret := retUnknown

	switch {
	case s == nil:
		prefix = "IS server not known"
		suffix = append(suffix, fmt.Sprintf("%s not in status database", id))
	case s.Status == "ok":
		ret = retOK
		prefix = "IS OK"
		if p := s.Props; p != nil {
			suffix = append(suffix, fmt.Sprintf("%d clients", p.Clients))
			suffix = append(suffix, fmt.Sprintf("uptime %s", score.DurStr(p.Uptime)))
			if p.Soft != "" {
				suffix = append(suffix, fmt.Sprintf("%s %s", p.Soft, p.Vers))
			}
		}
	case s.Status == "fail":
		ret = retCritical
		prefix = "IS CRITICAL"
		for _, e := range s.Errors {
			suffix = append(suffix, e.Message)
		}
	default:
		prefix = "IS UNKNOWN"
	}

	fmt.Printf("%s - %s\n", prefix, strings.Join(suffix, ", "))
	return ret
}

func main() {
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: a2-nagtest [-redis host:port] T2SERVERID\n")
		os.Exit(retUnknown)
	}

	os.Exit(check(flag.Arg(0)))
}
